package graph

import (
	"context"
	"fmt"
)

// InheritanceSource is the slice of the backend contract the resolver needs.
type InheritanceSource interface {
	AssembleNode(ctx context.Context, id string) (*AssembledNode, error)
	GetAncestorSupertags(ctx context.Context, supertagID string, maxDepth int) ([]SupertagRef, error)
	GetSupertagFieldDefinitions(ctx context.Context, supertagID string) (map[string]FieldDefinition, error)
}

// AssembleWithInheritance builds the read view with supertag field defaults
// merged in, closest-wins: the node's own value beats any default, a direct
// supertag's default beats an ancestor's, and ties between supertags at the
// same depth resolve in assignment order. Pure over current graph state; no
// caching, since supertag definitions can change at any time.
func AssembleWithInheritance(ctx context.Context, src InheritanceSource, id string) (*AssembledNode, error) {
	assembled, err := src.AssembleNode(ctx, id)
	if err != nil || assembled == nil {
		return assembled, err
	}

	// Breadth-first over the supertag DAG: direct tags first, then each
	// level of parents. Visited set terminates cycles; depth caps runaway
	// chains without erroring.
	frontier := make([]string, 0, len(assembled.Supertags))
	visited := make(map[string]bool)
	for _, s := range assembled.Supertags {
		frontier = append(frontier, s.ID)
	}

	for depth := 0; depth <= DefaultMaxAncestorDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, supertagID := range frontier {
			if visited[supertagID] {
				continue
			}
			visited[supertagID] = true

			defs, err := src.GetSupertagFieldDefinitions(ctx, supertagID)
			if err != nil {
				return nil, fmt.Errorf("resolving field definitions for supertag %s: %w", supertagID, err)
			}
			applyDefaults(assembled, defs)

			parents, err := src.GetAncestorSupertags(ctx, supertagID, 1)
			if err != nil {
				return nil, fmt.Errorf("resolving parents of supertag %s: %w", supertagID, err)
			}
			for _, p := range parents {
				next = append(next, p.ID)
			}
		}
		frontier = next
	}

	assembled.SortProperties()
	return assembled, nil
}

// applyDefaults merges one supertag's declared defaults into the assembled
// view. A field already present (own value or a closer default) wins.
func applyDefaults(assembled *AssembledNode, defs map[string]FieldDefinition) {
	for name, def := range defs {
		if def.DefaultValue == nil {
			continue
		}
		if _, exists := assembled.Properties[name]; exists {
			continue
		}
		now := NowMillis()
		assembled.Properties[name] = []Property{{
			FieldID:       def.FieldNodeID,
			FieldSystemID: def.FieldSystemID,
			FieldName:     def.FieldName,
			Value:         *def.DefaultValue,
			CreatedAt:     now,
			UpdatedAt:     now,
			Inherited:     true,
		}}
	}
}
