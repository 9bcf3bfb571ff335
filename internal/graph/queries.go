package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// Persisted queries are themselves nodes: supertag `supertag:query`, the
// definition stored as JSON under field:query_definition, plus an optional
// cached result-id list and evaluated-at timestamp that are invalidated
// whenever the definition changes.

// SaveQuery persists a query definition as a new query node and returns its id.
func SaveQuery(ctx context.Context, b NodeBackend, name string, def QueryDefinition, ownerID string) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	tag, err := requireSystemNode(ctx, b, SupertagQuery)
	if err != nil {
		return "", err
	}
	defField, err := requireSystemNode(ctx, b, FieldQueryDefinition)
	if err != nil {
		return "", err
	}
	value, err := toScalar(def)
	if err != nil {
		return "", fmt.Errorf("encoding query definition: %w", err)
	}
	return b.CreateNode(ctx, CreateNodeOptions{
		Content:    name,
		OwnerID:    ownerID,
		SupertagID: tag.ID,
		Properties: []InitialProperty{{FieldID: defField.ID, Value: value}},
	})
}

// LoadQuery reads a persisted query's definition.
func LoadQuery(ctx context.Context, b NodeBackend, queryID string) (*QueryDefinition, error) {
	node, err := b.FindNodeByID(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &NotFoundError{Kind: "query", Ref: queryID}
	}
	props := node.PropertiesBySystemID(FieldQueryDefinition)
	if len(props) == 0 {
		return nil, Validationf("node %s has no query definition", queryID)
	}
	var def QueryDefinition
	if err := fromScalar(props[0].Value, &def); err != nil {
		return nil, fmt.Errorf("decoding query definition of %s: %w", queryID, err)
	}
	return &def, nil
}

// UpdateQueryDefinition replaces a query's definition and drops the cached
// result list and evaluated-at stamp in the same call.
func UpdateQueryDefinition(ctx context.Context, b NodeBackend, queryID string, def QueryDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	node, err := b.FindNodeByID(ctx, queryID)
	if err != nil {
		return err
	}
	if node == nil {
		return &NotFoundError{Kind: "query", Ref: queryID}
	}
	defField, err := requireSystemNode(ctx, b, FieldQueryDefinition)
	if err != nil {
		return err
	}
	value, err := toScalar(def)
	if err != nil {
		return fmt.Errorf("encoding query definition: %w", err)
	}
	if err := b.SetProperty(ctx, queryID, defField.ID, value, 0); err != nil {
		return err
	}
	for _, sysID := range []string{FieldQueryResults, FieldQueryEvaluated} {
		field, err := requireSystemNode(ctx, b, sysID)
		if err != nil {
			return err
		}
		if err := b.ClearProperty(ctx, queryID, field.ID); err != nil {
			return err
		}
	}
	return nil
}

// RefreshQuery re-evaluates a persisted query and stores the fresh result-id
// list and evaluated-at timestamp back on the query node.
func RefreshQuery(ctx context.Context, b NodeBackend, queryID string) (*QueryResult, error) {
	def, err := LoadQuery(ctx, b, queryID)
	if err != nil {
		return nil, err
	}
	result, err := b.EvaluateQuery(ctx, *def)
	if err != nil {
		return nil, err
	}
	resultsField, err := requireSystemNode(ctx, b, FieldQueryResults)
	if err != nil {
		return nil, err
	}
	evaluatedField, err := requireSystemNode(ctx, b, FieldQueryEvaluated)
	if err != nil {
		return nil, err
	}
	ids, err := toScalar(result.IDs())
	if err != nil {
		return nil, fmt.Errorf("encoding result ids: %w", err)
	}
	if err := b.SetProperty(ctx, queryID, resultsField.ID, ids, 0); err != nil {
		return nil, err
	}
	if err := b.SetProperty(ctx, queryID, evaluatedField.ID, Scalar(float64(result.EvaluatedAt)), 0); err != nil {
		return nil, err
	}
	return result, nil
}

// requireSystemNode resolves a well-known node, failing with a
// ValidationError when bootstrap has not created it.
func requireSystemNode(ctx context.Context, b NodeBackend, systemID string) (*AssembledNode, error) {
	node, err := b.FindNodeBySystemID(ctx, systemID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, Validationf("system node %s missing: run init first", systemID)
	}
	return node, nil
}

// toScalar round-trips a Go value through JSON into a scalar PropertyValue.
func toScalar(v any) (PropertyValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return PropertyValue{}, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PropertyValue{}, err
	}
	return Scalar(decoded), nil
}

// fromScalar decodes a scalar PropertyValue into out via JSON.
func fromScalar(v PropertyValue, out any) error {
	if v.Kind != KindScalar {
		return fmt.Errorf("expected scalar value, got %s", v.Kind)
	}
	raw, err := json.Marshal(v.Scalar)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
