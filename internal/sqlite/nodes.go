package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"toolgraph/internal/graph"
)

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init bootstraps the system fields and supertags, upserting by system id so
// a rerun creates no duplicate rows. Bootstrap emits no mutation events.
func (s *Store) Init(ctx context.Context) error {
	for _, spec := range graph.SystemFields() {
		if _, err := s.ensureSystemNode(ctx, spec.SystemID, spec.Name); err != nil {
			return fmt.Errorf("bootstrapping field %s: %w", spec.SystemID, err)
		}
	}
	valueTypeID, err := s.systemNodeID(ctx, graph.FieldValueType)
	if err != nil {
		return err
	}
	for _, spec := range graph.SystemFields() {
		fieldID, err := s.systemNodeID(ctx, spec.SystemID)
		if err != nil {
			return err
		}
		if err := s.replaceProperty(ctx, fieldID, valueTypeID, graph.Scalar(string(spec.ValueType)), 0); err != nil {
			return fmt.Errorf("declaring value type of %s: %w", spec.SystemID, err)
		}
	}
	for _, spec := range graph.SystemSupertags() {
		if _, err := s.ensureSystemNode(ctx, spec.SystemID, spec.Name); err != nil {
			return fmt.Errorf("bootstrapping supertag %s: %w", spec.SystemID, err)
		}
	}
	extendsID, err := s.systemNodeID(ctx, graph.FieldExtends)
	if err != nil {
		return err
	}
	for _, spec := range graph.SystemSupertags() {
		tagID, err := s.systemNodeID(ctx, spec.SystemID)
		if err != nil {
			return err
		}
		for _, parentSys := range spec.Extends {
			parentID, err := s.systemNodeID(ctx, parentSys)
			if err != nil {
				return err
			}
			linked, err := s.hasReference(ctx, tagID, extendsID, parentID)
			if err != nil {
				return err
			}
			if !linked {
				if err := s.appendProperty(ctx, tagID, extendsID, graph.Reference(parentID)); err != nil {
					return fmt.Errorf("linking %s extends %s: %w", spec.SystemID, parentSys, err)
				}
			}
		}
	}
	return nil
}

func (s *Store) ensureSystemNode(ctx context.Context, systemID, name string) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM nodes WHERE system_id = ? AND deleted_at IS NULL`, systemID).Scan(&id)
	if err == nil {
		s.cacheSystemID(systemID, id)
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	id = newID()
	now := graph.NowMillis()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO nodes (id, content, content_plain, system_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, graph.NormalizeContent(name), systemID, now, now)
	if err != nil {
		return "", err
	}
	s.cacheSystemID(systemID, id)
	return id, nil
}

func (s *Store) cacheSystemID(systemID, id string) {
	s.mu.Lock()
	s.sysCache[systemID] = id
	s.mu.Unlock()
}

func (s *Store) evictSystemID(systemID string) {
	s.mu.Lock()
	delete(s.sysCache, systemID)
	s.mu.Unlock()
}

// systemNodeID resolves a well-known node id, serving repeated lookups from
// the in-process cache.
func (s *Store) systemNodeID(ctx context.Context, systemID string) (string, error) {
	s.mu.RLock()
	id, ok := s.sysCache[systemID]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM nodes WHERE system_id = ? AND deleted_at IS NULL`, systemID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", graph.Validationf("system node %s missing: run init first", systemID)
	}
	if err != nil {
		return "", err
	}
	s.cacheSystemID(systemID, id)
	return id, nil
}

func (s *Store) nodeAlive(ctx context.Context, q querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM nodes WHERE id = ? AND deleted_at IS NULL`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateNode inserts the node row, optional initial supertag and property
// set in one transaction.
func (s *Store) CreateNode(ctx context.Context, opts graph.CreateNodeOptions) (string, error) {
	if opts.SupertagID != "" {
		alive, err := s.nodeAlive(ctx, s.conn, opts.SupertagID)
		if err != nil {
			return "", err
		}
		if !alive {
			return "", graph.Validationf("supertag %s does not exist: bootstrap not run?", opts.SupertagID)
		}
	}
	for _, p := range opts.Properties {
		alive, err := s.nodeAlive(ctx, s.conn, p.FieldID)
		if err != nil {
			return "", err
		}
		if !alive {
			return "", graph.Validationf("field %s does not exist: bootstrap not run?", p.FieldID)
		}
	}
	if opts.OwnerID != "" {
		alive, err := s.nodeAlive(ctx, s.conn, opts.OwnerID)
		if err != nil {
			return "", err
		}
		if !alive {
			return "", &graph.NotFoundError{Kind: "node", Ref: opts.OwnerID}
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	id := newID()
	now := graph.NowMillis()
	var systemID, ownerID any
	if opts.SystemID != "" {
		systemID = opts.SystemID
	}
	if opts.OwnerID != "" {
		ownerID = opts.OwnerID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, content, content_plain, system_id, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, opts.Content, graph.NormalizeContent(opts.Content), systemID, ownerID, now, now); err != nil {
		return "", fmt.Errorf("inserting node: %w", err)
	}
	if opts.SupertagID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_supertags (node_id, supertag_id, ord, created_at) VALUES (?, ?, 0, ?)`,
			id, opts.SupertagID, now); err != nil {
			return "", fmt.Errorf("assigning initial supertag: %w", err)
		}
	}
	for _, p := range opts.Properties {
		if err := insertProperty(ctx, tx, id, p.FieldID, p.Value, p.Order, now); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing node create: %w", err)
	}
	if opts.SystemID != "" {
		s.cacheSystemID(opts.SystemID, id)
	}

	s.notify(graph.MutationEvent{Kind: graph.EventNodeCreated, NodeID: id})
	return id, nil
}

// FindNodeByID returns the assembled node, or nil when it is missing or
// soft-deleted. Never errors for "not found".
func (s *Store) FindNodeByID(ctx context.Context, id string) (*graph.AssembledNode, error) {
	return s.assembleOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ? AND deleted_at IS NULL`, id)
}

// FindNodeBySystemID resolves a well-known node by its stable key.
func (s *Store) FindNodeBySystemID(ctx context.Context, systemID string) (*graph.AssembledNode, error) {
	return s.assembleOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE system_id = ? AND deleted_at IS NULL`, systemID)
}

func (s *Store) UpdateNodeContent(ctx context.Context, id, content string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE nodes SET content = ?, content_plain = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		content, graph.NormalizeContent(content), graph.NowMillis(), id)
	if err != nil {
		return fmt.Errorf("updating node content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &graph.NotFoundError{Kind: "node", Ref: id}
	}
	s.notify(graph.MutationEvent{Kind: graph.EventNodeUpdated, NodeID: id})
	return nil
}

// DeleteNode soft-deletes. Deleting an already-deleted node is a no-op;
// deleting a node that never existed is a NotFoundError.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	var sysID *string
	var deletedAt *int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT system_id, deleted_at FROM nodes WHERE id = ?`, id).Scan(&sysID, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &graph.NotFoundError{Kind: "node", Ref: id}
	}
	if err != nil {
		return err
	}
	if deletedAt != nil {
		return nil
	}
	now := graph.NowMillis()
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE nodes SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	if sysID != nil {
		s.evictSystemID(*sysID)
	}
	s.notify(graph.MutationEvent{Kind: graph.EventNodeDeleted, NodeID: id})
	return nil
}

// Save is a no-op: every write is already durable in SQLite.
func (s *Store) Save(ctx context.Context) error { return nil }

func (s *Store) AssembleNode(ctx context.Context, id string) (*graph.AssembledNode, error) {
	return s.FindNodeByID(ctx, id)
}

func (s *Store) AssembleNodeWithInheritance(ctx context.Context, id string) (*graph.AssembledNode, error) {
	return graph.AssembleWithInheritance(ctx, s, id)
}

func (s *Store) EvaluateQuery(ctx context.Context, def graph.QueryDefinition) (*graph.QueryResult, error) {
	return graph.EvaluateQuery(ctx, s, def)
}

// touch bumps a node's updated_at after a property or supertag change.
func (s *Store) touch(ctx context.Context, q querier, nodeID string, now int64) error {
	_, err := q.ExecContext(ctx, `UPDATE nodes SET updated_at = ? WHERE id = ?`, now, nodeID)
	return err
}
