package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"toolgraph/internal/graph"
)

const nodeColumns = `id, content, content_plain, system_id, owner_id, created_at, updated_at, deleted_at`

// scanNode scans a row with the standard node column order.
func scanNode(scanner interface{ Scan(dest ...any) error }) (graph.Node, error) {
	var n graph.Node
	err := scanner.Scan(
		&n.ID, &n.Content, &n.ContentPlain, &n.SystemID, &n.OwnerID,
		&n.CreatedAt, &n.UpdatedAt, &n.DeletedAt,
	)
	return n, err
}

// assembleOne fetches a node by an arbitrary single-row query and builds its
// full read view. Returns nil (no error) when the row is absent.
func (s *Store) assembleOne(ctx context.Context, query string, arg any) (*graph.AssembledNode, error) {
	row := s.conn.QueryRowContext(ctx, query, arg)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}

	assembled := &graph.AssembledNode{Node: n, Properties: make(map[string][]graph.Property)}
	if err := s.loadProperties(ctx, assembled); err != nil {
		return nil, err
	}
	if err := s.loadSupertags(ctx, assembled); err != nil {
		return nil, err
	}
	assembled.SortProperties()
	return assembled, nil
}

func (s *Store) loadProperties(ctx context.Context, assembled *graph.AssembledNode) error {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT p.field_id, f.system_id, f.content, p.value, p.ord, p.created_at, p.updated_at
		FROM node_properties p
		JOIN nodes f ON f.id = p.field_id AND f.deleted_at IS NULL
		WHERE p.node_id = ?
		ORDER BY f.content, p.ord
	`, assembled.ID)
	if err != nil {
		return fmt.Errorf("loading properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		prop, err := scanProperty(rows)
		if err != nil {
			return err
		}
		assembled.Properties[prop.FieldName] = append(assembled.Properties[prop.FieldName], prop)
	}
	return rows.Err()
}

func scanProperty(scanner interface{ Scan(dest ...any) error }) (graph.Property, error) {
	var prop graph.Property
	var sysID *string
	var raw string
	if err := scanner.Scan(&prop.FieldID, &sysID, &prop.FieldName, &raw, &prop.Order, &prop.CreatedAt, &prop.UpdatedAt); err != nil {
		return prop, fmt.Errorf("scanning property: %w", err)
	}
	if sysID != nil {
		prop.FieldSystemID = *sysID
	}
	value, err := decodeValue(raw)
	if err != nil {
		return prop, err
	}
	prop.Value = value
	return prop, nil
}

func (s *Store) loadSupertags(ctx context.Context, assembled *graph.AssembledNode) error {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT t.supertag_id, st.system_id, st.content
		FROM node_supertags t
		JOIN nodes st ON st.id = t.supertag_id AND st.deleted_at IS NULL
		WHERE t.node_id = ?
		ORDER BY t.ord
	`, assembled.ID)
	if err != nil {
		return fmt.Errorf("loading supertags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref graph.SupertagRef
		var sysID *string
		if err := rows.Scan(&ref.ID, &sysID, &ref.Name); err != nil {
			return err
		}
		if sysID != nil {
			ref.SystemID = *sysID
		}
		assembled.Supertags = append(assembled.Supertags, ref)
	}
	return rows.Err()
}

// AllNodes assembles every non-deleted node in three bulk queries instead of
// per-node roundtrips; this is the query engine's candidate set.
func (s *Store) AllNodes(ctx context.Context) ([]graph.AssembledNode, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE deleted_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	defer rows.Close()

	var out []graph.AssembledNode
	index := make(map[string]int)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		index[n.ID] = len(out)
		out = append(out, graph.AssembledNode{Node: n, Properties: make(map[string][]graph.Property)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	propRows, err := s.conn.QueryContext(ctx, `
		SELECT p.node_id, p.field_id, f.system_id, f.content, p.value, p.ord, p.created_at, p.updated_at
		FROM node_properties p
		JOIN nodes f ON f.id = p.field_id AND f.deleted_at IS NULL
		JOIN nodes n ON n.id = p.node_id AND n.deleted_at IS NULL
		ORDER BY f.content, p.ord
	`)
	if err != nil {
		return nil, fmt.Errorf("loading properties: %w", err)
	}
	defer propRows.Close()
	for propRows.Next() {
		var nodeID string
		var prop graph.Property
		var sysID *string
		var raw string
		if err := propRows.Scan(&nodeID, &prop.FieldID, &sysID, &prop.FieldName, &raw, &prop.Order, &prop.CreatedAt, &prop.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		if sysID != nil {
			prop.FieldSystemID = *sysID
		}
		value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		prop.Value = value
		if i, ok := index[nodeID]; ok {
			out[i].Properties[prop.FieldName] = append(out[i].Properties[prop.FieldName], prop)
		}
	}
	if err := propRows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.conn.QueryContext(ctx, `
		SELECT t.node_id, t.supertag_id, st.system_id, st.content
		FROM node_supertags t
		JOIN nodes st ON st.id = t.supertag_id AND st.deleted_at IS NULL
		JOIN nodes n ON n.id = t.node_id AND n.deleted_at IS NULL
		ORDER BY t.node_id, t.ord
	`)
	if err != nil {
		return nil, fmt.Errorf("loading supertags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var nodeID string
		var ref graph.SupertagRef
		var sysID *string
		if err := tagRows.Scan(&nodeID, &ref.ID, &sysID, &ref.Name); err != nil {
			return nil, err
		}
		if sysID != nil {
			ref.SystemID = *sysID
		}
		if i, ok := index[nodeID]; ok {
			out[i].Supertags = append(out[i].Supertags, ref)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].SortProperties()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
