package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"toolgraph/internal/graph"
)

// AddNodeSupertag assigns a supertag. Returns false without writing when the
// assignment already exists or either endpoint is missing.
func (s *Store) AddNodeSupertag(ctx context.Context, nodeID, supertagID string) (bool, error) {
	for _, id := range []string{nodeID, supertagID} {
		alive, err := s.nodeAlive(ctx, s.conn, id)
		if err != nil {
			return false, err
		}
		if !alive {
			return false, nil
		}
	}
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM node_supertags WHERE node_id = ? AND supertag_id = ?`, nodeID, supertagID).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ord) + 1, 0) FROM node_supertags WHERE node_id = ?`, nodeID).Scan(&next); err != nil {
		return false, fmt.Errorf("computing next assignment order: %w", err)
	}
	now := graph.NowMillis()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO node_supertags (node_id, supertag_id, ord, created_at) VALUES (?, ?, ?, ?)`,
		nodeID, supertagID, next, now); err != nil {
		return false, fmt.Errorf("assigning supertag: %w", err)
	}
	if err := s.touch(ctx, tx, nodeID, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.notify(graph.MutationEvent{Kind: graph.EventSupertagChanged, NodeID: nodeID})
	return true, nil
}

// RemoveNodeSupertag removes an assignment; false when it was absent.
func (s *Store) RemoveNodeSupertag(ctx context.Context, nodeID, supertagID string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM node_supertags WHERE node_id = ? AND supertag_id = ?`, nodeID, supertagID)
	if err != nil {
		return false, fmt.Errorf("removing supertag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if err := s.touch(ctx, s.conn, nodeID, graph.NowMillis()); err != nil {
		return false, err
	}
	s.notify(graph.MutationEvent{Kind: graph.EventSupertagChanged, NodeID: nodeID})
	return true, nil
}

// GetNodesBySupertags returns nodes carrying at least one (matchAll false)
// or all (matchAll true) of the given supertags, ordered by creation time.
func (s *Store) GetNodesBySupertags(ctx context.Context, supertagIDs []string, matchAll bool) ([]graph.AssembledNode, error) {
	if len(supertagIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(supertagIDs)), ",")
	args := make([]any, 0, len(supertagIDs)+1)
	for _, id := range supertagIDs {
		args = append(args, id)
	}
	query := `SELECT t.node_id FROM node_supertags t
		JOIN nodes n ON n.id = t.node_id AND n.deleted_at IS NULL
		WHERE t.supertag_id IN (` + placeholders + `)
		GROUP BY t.node_id`
	if matchAll {
		query += ` HAVING COUNT(DISTINCT t.supertag_id) = ?`
		args = append(args, len(supertagIDs))
	}
	query += ` ORDER BY n.created_at, n.id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying supertag members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]graph.AssembledNode, 0, len(ids))
	for _, id := range ids {
		assembled, err := s.FindNodeByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if assembled != nil {
			out = append(out, *assembled)
		}
	}
	return out, nil
}

// GetAncestorSupertags walks extends references breadth-first, closest
// ancestors first. Revisits and depth overruns truncate the walk silently.
func (s *Store) GetAncestorSupertags(ctx context.Context, supertagID string, maxDepth int) ([]graph.SupertagRef, error) {
	if maxDepth <= 0 {
		maxDepth = graph.DefaultMaxAncestorDepth
	}
	alive, err := s.nodeAlive(ctx, s.conn, supertagID)
	if err != nil || !alive {
		return nil, err
	}
	extendsID, err := s.systemNodeID(ctx, graph.FieldExtends)
	if err != nil {
		return nil, err
	}

	var chain []graph.SupertagRef
	visited := map[string]bool{supertagID: true}
	frontier := []string{supertagID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			parents, err := s.referenceTargets(ctx, id, extendsID)
			if err != nil {
				return nil, err
			}
			for _, parentID := range parents {
				if visited[parentID] {
					continue
				}
				visited[parentID] = true
				ref, err := s.supertagRef(ctx, parentID)
				if err != nil {
					return nil, err
				}
				if ref == nil {
					continue
				}
				chain = append(chain, *ref)
				next = append(next, parentID)
			}
		}
		frontier = next
	}
	return chain, nil
}

func (s *Store) referenceTargets(ctx context.Context, nodeID, fieldID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT value FROM node_properties WHERE node_id = ? AND field_id = ? ORDER BY ord`, nodeID, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := decodeValue(raw)
		if err != nil {
			continue
		}
		if v.IsReference() {
			out = append(out, v.NodeID)
		}
	}
	return out, rows.Err()
}

func (s *Store) supertagRef(ctx context.Context, id string) (*graph.SupertagRef, error) {
	var content string
	var sysID *string
	err := s.conn.QueryRowContext(ctx,
		`SELECT content, system_id FROM nodes WHERE id = ? AND deleted_at IS NULL`, id).Scan(&content, &sysID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ref := &graph.SupertagRef{ID: id, Name: content}
	if sysID != nil {
		ref.SystemID = *sysID
	}
	return ref, nil
}

// GetSupertagFieldDefinitions reads the supertag's field:defaults map
// (field system id -> default value), resolving each key to its field node.
// Ancestor merging is left to AssembleNodeWithInheritance.
func (s *Store) GetSupertagFieldDefinitions(ctx context.Context, supertagID string) (map[string]graph.FieldDefinition, error) {
	out := make(map[string]graph.FieldDefinition)
	defaultsID, err := s.systemNodeID(ctx, graph.FieldDefaults)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT value FROM node_properties WHERE node_id = ? AND field_id = ? ORDER BY ord`, supertagID, defaultsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := decodeValue(raw)
		if err != nil || v.Kind != graph.KindScalar {
			continue
		}
		decl, ok := v.Scalar.(map[string]any)
		if !ok {
			continue
		}
		for fieldSysID, rawDefault := range decl {
			var fieldID, fieldName string
			err := s.conn.QueryRowContext(ctx,
				`SELECT id, content FROM nodes WHERE system_id = ? AND deleted_at IS NULL`,
				fieldSysID).Scan(&fieldID, &fieldName)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return nil, err
			}
			def := graph.FieldDefinition{
				FieldNodeID:   fieldID,
				FieldSystemID: fieldSysID,
				FieldName:     fieldName,
			}
			if rawDefault != nil {
				dv := graph.Scalar(rawDefault)
				def.DefaultValue = &dv
			}
			out[fieldName] = def
		}
	}
	return out, rows.Err()
}
