package graph

import (
	"context"
	"fmt"
	"sort"
)

// EvaluateQuery runs a query definition against every non-deleted node of the
// source. Results are deterministic: sorted per definition.Sort when present,
// otherwise by createdAt ascending with the node id as tiebreak, so repeated
// evaluation without intervening mutations yields identical ordering.
func EvaluateQuery(ctx context.Context, src Source, def QueryDefinition) (*QueryResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	all, err := src.AllNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading candidate nodes: %w", err)
	}
	ec := newEvalContext(all)

	var matched []AssembledNode
	for i := range all {
		if ec.matchAll(&all[i], def.Filters) {
			matched = append(matched, all[i])
		}
	}

	sortNodes(matched, def.Sort)
	total := len(matched)
	if def.Limit > 0 && len(matched) > def.Limit {
		matched = matched[:def.Limit]
	}

	return &QueryResult{
		Nodes:       matched,
		TotalCount:  total,
		EvaluatedAt: NowMillis(),
	}, nil
}

// MatchesNode re-runs the filter predicate against a single node. Used by the
// subscription layer to decide whether a mutation could have pulled a node
// into a result set. Missing or deleted nodes never match.
func MatchesNode(ctx context.Context, src Source, def QueryDefinition, nodeID string) (bool, error) {
	if err := def.Validate(); err != nil {
		return false, err
	}
	all, err := src.AllNodes(ctx)
	if err != nil {
		return false, fmt.Errorf("loading candidate nodes: %w", err)
	}
	ec := newEvalContext(all)
	n, ok := ec.nodes[nodeID]
	if !ok {
		return false, nil
	}
	return ec.matchAll(n, def.Filters), nil
}

func sortNodes(nodes []AssembledNode, spec *SortSpec) {
	if spec == nil {
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].CreatedAt != nodes[j].CreatedAt {
				return nodes[i].CreatedAt < nodes[j].CreatedAt
			}
			return nodes[i].ID < nodes[j].ID
		})
		return
	}
	desc := spec.Direction == "desc"
	less := func(i, j int) bool {
		cmp := compareForSort(&nodes[i], &nodes[j], spec.Field)
		if cmp == 0 {
			return nodes[i].ID < nodes[j].ID
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	}
	sort.SliceStable(nodes, less)
}

// compareForSort orders two nodes on a built-in column or a field system id.
// Property sorts compare numerically when both sides parse as numbers, else
// as strings; nodes missing the field sort after nodes that have it.
func compareForSort(a, b *AssembledNode, field string) int {
	switch field {
	case "createdAt":
		return compareInt64(a.CreatedAt, b.CreatedAt)
	case "updatedAt":
		return compareInt64(a.UpdatedAt, b.UpdatedAt)
	case "content":
		return compareString(a.ContentPlain, b.ContentPlain)
	}
	pa := a.PropertiesBySystemID(field)
	pb := b.PropertiesBySystemID(field)
	switch {
	case len(pa) == 0 && len(pb) == 0:
		return 0
	case len(pa) == 0:
		return 1
	case len(pb) == 0:
		return -1
	}
	va, vb := pa[0].Value, pb[0].Value
	if na, ok := va.Number(); ok {
		if nb, ok := vb.Number(); ok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}
	return compareString(va.Text(), vb.Text())
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
