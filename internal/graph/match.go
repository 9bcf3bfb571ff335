package graph

import (
	"strings"
	"time"
)

// evalContext indexes one snapshot of the non-deleted node universe for
// predicate evaluation. Built per evaluation, never cached across mutations.
type evalContext struct {
	nodes     map[string]*AssembledNode
	backlinks map[string][]string // target id -> ids of nodes referencing it
	extends   map[string][]string // parent supertag id -> child supertag ids
	now       int64
}

func newEvalContext(all []AssembledNode) *evalContext {
	c := &evalContext{
		nodes:     make(map[string]*AssembledNode, len(all)),
		backlinks: make(map[string][]string),
		extends:   make(map[string][]string),
		now:       NowMillis(),
	}
	for i := range all {
		n := &all[i]
		c.nodes[n.ID] = n
		for _, target := range n.References() {
			c.backlinks[target] = append(c.backlinks[target], n.ID)
		}
		for _, p := range n.PropertiesBySystemID(FieldExtends) {
			if p.Value.IsReference() {
				c.extends[p.Value.NodeID] = append(c.extends[p.Value.NodeID], n.ID)
			}
		}
	}
	return c
}

// descendantSupertags returns the supertag plus every supertag that extends
// it transitively. Bounded by a visited set so misconfigured cycles cannot
// hang the walk.
func (c *evalContext) descendantSupertags(systemID string) map[string]bool {
	out := make(map[string]bool)
	var rootID string
	for id, n := range c.nodes {
		if n.SystemID != nil && *n.SystemID == systemID {
			rootID = id
			break
		}
	}
	if rootID == "" {
		return out
	}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if out[id] {
			continue
		}
		out[id] = true
		queue = append(queue, c.extends[id]...)
	}
	return out
}

// matchAll evaluates top-level filters with implicit AND semantics.
func (c *evalContext) matchAll(n *AssembledNode, filters []Filter) bool {
	for _, f := range filters {
		if !c.match(n, f) {
			return false
		}
	}
	return true
}

// match evaluates one filter node. Individual predicate failures (bad
// operands, missing targets) degrade to "does not match" rather than
// aborting the query.
func (c *evalContext) match(n *AssembledNode, f Filter) bool {
	switch f.Type {
	case FilterSupertag:
		return c.matchSupertag(n, f.Supertag)
	case FilterProperty:
		return matchProperty(n, f.Property)
	case FilterContent:
		return matchContent(n, f.Content)
	case FilterRelation:
		return c.matchRelation(n, f.Relation)
	case FilterTemporal:
		return c.matchTemporal(n, f.Temporal)
	case FilterHasField:
		props := n.PropertiesBySystemID(f.HasField.FieldSystemID)
		return (len(props) > 0) != f.HasField.Negate
	case FilterAnd:
		return c.matchAll(n, f.Sub)
	case FilterOr:
		for _, sub := range f.Sub {
			if c.match(n, sub) {
				return true
			}
		}
		return false
	case FilterNot:
		// Multiple children are an implicit AND before negation.
		return !c.matchAll(n, f.Sub)
	default:
		return false
	}
}

func (c *evalContext) matchSupertag(n *AssembledNode, f *SupertagFilter) bool {
	if !f.IncludeInherited {
		return n.HasSupertagSystemID(f.SupertagSystemID)
	}
	accepted := c.descendantSupertags(f.SupertagSystemID)
	for _, s := range n.Supertags {
		if accepted[s.ID] {
			return true
		}
	}
	return false
}

func matchProperty(n *AssembledNode, f *PropertyFilter) bool {
	props := n.PropertiesBySystemID(f.FieldSystemID)
	switch f.Op {
	case OpIsEmpty:
		return len(props) == 0
	case OpIsNotEmpty:
		return len(props) > 0
	}
	if len(props) == 0 {
		return false
	}
	operand := Scalar(f.Value)
	switch f.Op {
	case OpNeq:
		// At least one edge exists and none of them equal the operand.
		for _, p := range props {
			if p.Value.Equal(operand) {
				return false
			}
		}
		return true
	default:
		// Multi-valued fields match when any value matches.
		for _, p := range props {
			if compareValue(p.Value, f.Op, operand) {
				return true
			}
		}
		return false
	}
}

func compareValue(stored PropertyValue, op CompareOp, operand PropertyValue) bool {
	switch op {
	case OpEq:
		return stored.Equal(operand)
	case OpGt, OpGte, OpLt, OpLte:
		// Numeric comparison fails closed against non-numeric values.
		a, okA := stored.Number()
		b, okB := operand.Number()
		if !okA || !okB {
			return false
		}
		switch op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		return strings.Contains(stored.Text(), operand.Text())
	case OpStartsWith:
		return strings.HasPrefix(stored.Text(), operand.Text())
	case OpEndsWith:
		return strings.HasSuffix(stored.Text(), operand.Text())
	default:
		return false
	}
}

func matchContent(n *AssembledNode, f *ContentFilter) bool {
	if f.CaseSensitive {
		return strings.Contains(n.Content, f.Query)
	}
	return strings.Contains(n.ContentPlain, strings.ToLower(f.Query))
}

func (c *evalContext) matchRelation(n *AssembledNode, f *RelationFilter) bool {
	target := f.TargetNodeID
	if target != "" {
		// A missing or soft-deleted target yields no matches, not an error.
		if _, ok := c.nodes[target]; !ok {
			return false
		}
	}
	switch f.RelationType {
	case RelationChildOf:
		if n.OwnerID == nil {
			return false
		}
		return target == "" || *n.OwnerID == target
	case RelationOwnedBy:
		// Transitive ownership up the owner chain, cycle-guarded.
		visited := map[string]bool{n.ID: true}
		current := n
		for current.OwnerID != nil {
			ownerID := *current.OwnerID
			if visited[ownerID] {
				return false
			}
			visited[ownerID] = true
			if target == "" || ownerID == target {
				return true
			}
			owner, ok := c.nodes[ownerID]
			if !ok {
				return false
			}
			current = owner
		}
		return false
	case RelationLinksTo:
		for _, ref := range n.References() {
			if target == "" || ref == target {
				// Links to deleted nodes do not count.
				if _, ok := c.nodes[ref]; ok {
					return true
				}
			}
		}
		return false
	case RelationLinkedFrom:
		if target == "" {
			return len(c.backlinks[n.ID]) > 0
		}
		for _, src := range c.backlinks[n.ID] {
			if src == target {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (c *evalContext) matchTemporal(n *AssembledNode, f *TemporalFilter) bool {
	ts := n.CreatedAt
	if f.Field == "updatedAt" {
		ts = n.UpdatedAt
	}
	boundary, ok := c.temporalBoundary(f)
	if !ok {
		return false
	}
	switch f.Op {
	case TemporalWithin:
		return ts >= boundary && ts <= c.now
	case TemporalBefore:
		return ts < boundary
	case TemporalAfter:
		return ts > boundary
	default:
		return false
	}
}

func (c *evalContext) temporalBoundary(f *TemporalFilter) (int64, bool) {
	if f.Date != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, f.Date); err == nil {
				return t.UnixMilli(), true
			}
		}
		return 0, false
	}
	if f.Days > 0 {
		return c.now - int64(f.Days)*24*int64(time.Hour/time.Millisecond), true
	}
	return 0, false
}
