package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"toolgraph/internal/graph"
)

func encodeValue(v graph.PropertyValue) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding property value: %w", err)
	}
	return string(raw), nil
}

func decodeValue(raw string) (graph.PropertyValue, error) {
	var v graph.PropertyValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return graph.PropertyValue{}, fmt.Errorf("decoding property value: %w", err)
	}
	return v, nil
}

func insertProperty(ctx context.Context, q querier, nodeID, fieldID string, value graph.PropertyValue, order int, now int64) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO node_properties (id, node_id, field_id, value, ord, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), nodeID, fieldID, encoded, order, now, now)
	if err != nil {
		return fmt.Errorf("inserting property: %w", err)
	}
	return nil
}

// checkPropertyEndpoints verifies both ends of a has_field edge resolve to
// live nodes; write paths surface NotFoundError otherwise.
func (s *Store) checkPropertyEndpoints(ctx context.Context, nodeID, fieldID string) error {
	alive, err := s.nodeAlive(ctx, s.conn, nodeID)
	if err != nil {
		return err
	}
	if !alive {
		return &graph.NotFoundError{Kind: "node", Ref: nodeID}
	}
	alive, err = s.nodeAlive(ctx, s.conn, fieldID)
	if err != nil {
		return err
	}
	if !alive {
		return &graph.NotFoundError{Kind: "field", Ref: fieldID}
	}
	return nil
}

// SetProperty replaces every (node, field) edge with a single new one.
func (s *Store) SetProperty(ctx context.Context, nodeID, fieldID string, value graph.PropertyValue, order int) error {
	if err := s.checkPropertyEndpoints(ctx, nodeID, fieldID); err != nil {
		return err
	}
	if err := s.replaceProperty(ctx, nodeID, fieldID, value, order); err != nil {
		return err
	}
	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: nodeID})
	return nil
}

func (s *Store) replaceProperty(ctx context.Context, nodeID, fieldID string, value graph.PropertyValue, order int) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM node_properties WHERE node_id = ? AND field_id = ?`, nodeID, fieldID); err != nil {
		return fmt.Errorf("clearing existing property edges: %w", err)
	}
	now := graph.NowMillis()
	if err := insertProperty(ctx, tx, nodeID, fieldID, value, order, now); err != nil {
		return err
	}
	if err := s.touch(ctx, tx, nodeID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// AddPropertyValue appends an edge with order = max(existing) + 1.
func (s *Store) AddPropertyValue(ctx context.Context, nodeID, fieldID string, value graph.PropertyValue) error {
	if err := s.checkPropertyEndpoints(ctx, nodeID, fieldID); err != nil {
		return err
	}
	if err := s.appendProperty(ctx, nodeID, fieldID, value); err != nil {
		return err
	}
	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: nodeID})
	return nil
}

func (s *Store) appendProperty(ctx context.Context, nodeID, fieldID string, value graph.PropertyValue) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ord) + 1, 0) FROM node_properties WHERE node_id = ? AND field_id = ?`,
		nodeID, fieldID).Scan(&next); err != nil {
		return fmt.Errorf("computing next order: %w", err)
	}
	now := graph.NowMillis()
	if err := insertProperty(ctx, tx, nodeID, fieldID, value, next, now); err != nil {
		return err
	}
	if err := s.touch(ctx, tx, nodeID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearProperty deletes all edges for the (node, field) pair. Clearing a
// field with no edges is a no-op: no updated_at bump, no event.
func (s *Store) ClearProperty(ctx context.Context, nodeID, fieldID string) error {
	if err := s.checkPropertyEndpoints(ctx, nodeID, fieldID); err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM node_properties WHERE node_id = ? AND field_id = ?`, nodeID, fieldID)
	if err != nil {
		return fmt.Errorf("clearing property: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	if err := s.touch(ctx, s.conn, nodeID, graph.NowMillis()); err != nil {
		return err
	}
	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: nodeID})
	return nil
}

// LinkNodes stores toID as a reference value under fieldID on fromID.
func (s *Store) LinkNodes(ctx context.Context, fromID, fieldID, toID string, appendValue bool) error {
	if err := s.checkPropertyEndpoints(ctx, fromID, fieldID); err != nil {
		return err
	}
	alive, err := s.nodeAlive(ctx, s.conn, toID)
	if err != nil {
		return err
	}
	if !alive {
		return &graph.NotFoundError{Kind: "node", Ref: toID}
	}
	if appendValue {
		err = s.appendProperty(ctx, fromID, fieldID, graph.Reference(toID))
	} else {
		err = s.replaceProperty(ctx, fromID, fieldID, graph.Reference(toID), 0)
	}
	if err != nil {
		return err
	}
	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: fromID})
	return nil
}

func (s *Store) hasReference(ctx context.Context, nodeID, fieldID, targetID string) (bool, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT value FROM node_properties WHERE node_id = ? AND field_id = ?`, nodeID, fieldID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return false, err
		}
		v, err := decodeValue(raw)
		if err != nil {
			continue
		}
		if v.IsReference() && v.NodeID == targetID {
			return true, nil
		}
	}
	return false, rows.Err()
}
