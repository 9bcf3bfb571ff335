// Package sqlite is the relational storage engine: an EAV table set (nodes,
// node_properties, node_supertags) behind the graph.NodeBackend contract.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"toolgraph/internal/graph"
)

// Store wraps a SQLite database connection. Every write persists
// immediately, so Save is a no-op.
type Store struct {
	conn *sql.DB
	Path string

	mu       sync.RWMutex
	emit     func(graph.MutationEvent)
	sysCache map[string]string // system id -> node id
}

var _ graph.NodeBackend = (*Store)(nil)

// Open opens a SQLite database with WAL mode and foreign keys enabled and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		conn:     conn,
		Path:     path,
		sysCache: make(map[string]string),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

func (s *Store) SetEventEmitter(emit func(graph.MutationEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emit
}

func (s *Store) notify(ev graph.MutationEvent) {
	s.mu.RLock()
	emit := s.emit
	s.mu.RUnlock()
	if emit != nil {
		emit(ev)
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id            TEXT PRIMARY KEY,
	content       TEXT NOT NULL DEFAULT '',
	content_plain TEXT NOT NULL DEFAULT '',
	system_id     TEXT,
	owner_id      TEXT,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	deleted_at    INTEGER
);
-- Uniqueness holds among live rows only: soft deletion frees the system id
-- for reuse, and bootstrap can recreate a deleted system node.
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_system_id ON nodes(system_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS node_properties (
	id         TEXT PRIMARY KEY,
	node_id    TEXT NOT NULL REFERENCES nodes(id),
	field_id   TEXT NOT NULL REFERENCES nodes(id),
	value      TEXT NOT NULL,
	ord        INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_properties_node_field ON node_properties(node_id, field_id);

CREATE TABLE IF NOT EXISTS node_supertags (
	node_id     TEXT NOT NULL REFERENCES nodes(id),
	supertag_id TEXT NOT NULL REFERENCES nodes(id),
	ord         INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (node_id, supertag_id)
);
CREATE INDEX IF NOT EXISTS idx_supertags_tag ON node_supertags(supertag_id);
`
