package graph

import (
	"encoding/json"
	"fmt"
)

// FilterType discriminates the filter union on the wire.
type FilterType string

const (
	FilterSupertag FilterType = "supertag"
	FilterProperty FilterType = "property"
	FilterContent  FilterType = "content"
	FilterRelation FilterType = "relation"
	FilterTemporal FilterType = "temporal"
	FilterHasField FilterType = "hasField"
	FilterAnd      FilterType = "and"
	FilterOr       FilterType = "or"
	FilterNot      FilterType = "not"
)

// CompareOp is a property comparison operator.
type CompareOp string

const (
	OpEq         CompareOp = "eq"
	OpNeq        CompareOp = "neq"
	OpGt         CompareOp = "gt"
	OpGte        CompareOp = "gte"
	OpLt         CompareOp = "lt"
	OpLte        CompareOp = "lte"
	OpContains   CompareOp = "contains"
	OpStartsWith CompareOp = "startsWith"
	OpEndsWith   CompareOp = "endsWith"
	OpIsEmpty    CompareOp = "isEmpty"
	OpIsNotEmpty CompareOp = "isNotEmpty"
)

// RelationType is a structural graph predicate kind.
type RelationType string

const (
	RelationChildOf    RelationType = "childOf"
	RelationOwnedBy    RelationType = "ownedBy"
	RelationLinksTo    RelationType = "linksTo"
	RelationLinkedFrom RelationType = "linkedFrom"
)

// TemporalOp is a date-range operator.
type TemporalOp string

const (
	TemporalWithin TemporalOp = "within"
	TemporalBefore TemporalOp = "before"
	TemporalAfter  TemporalOp = "after"
)

// SupertagFilter matches nodes carrying the named supertag, or any of its
// descendant supertags when IncludeInherited is set.
type SupertagFilter struct {
	SupertagSystemID string `json:"supertagSystemId"`
	IncludeInherited bool   `json:"includeInherited,omitempty"`
}

// PropertyFilter compares a node's values for one field. Value is the raw
// comparison operand; isEmpty/isNotEmpty ignore it.
type PropertyFilter struct {
	FieldSystemID string    `json:"fieldSystemId"`
	Op            CompareOp `json:"op"`
	Value         any       `json:"value,omitempty"`
}

// ContentFilter substring-matches node content; the lowercase contentPlain
// copy is used unless CaseSensitive is set.
type ContentFilter struct {
	Query         string `json:"query"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

// RelationFilter tests a structural relation. With an empty TargetNodeID the
// predicate becomes "has any relation of this type".
type RelationFilter struct {
	RelationType RelationType `json:"relationType"`
	TargetNodeID string       `json:"targetNodeId,omitempty"`
}

// TemporalFilter tests createdAt/updatedAt against a boundary given either as
// a day count back from now or an explicit date (RFC 3339 or YYYY-MM-DD).
type TemporalFilter struct {
	Field string     `json:"field"` // "createdAt" | "updatedAt"
	Op    TemporalOp `json:"op"`
	Days  int        `json:"days,omitempty"`
	Date  string     `json:"date,omitempty"`
}

// HasFieldFilter tests presence (or absence with Negate) of any edge for a
// field, independent of value.
type HasFieldFilter struct {
	FieldSystemID string `json:"fieldSystemId"`
	Negate        bool   `json:"negate,omitempty"`
}

// Filter is one node of the filter tree. Exactly one variant is populated,
// selected by Type; Sub holds the children of and/or/not nodes.
type Filter struct {
	Type     FilterType
	Supertag *SupertagFilter
	Property *PropertyFilter
	Content  *ContentFilter
	Relation *RelationFilter
	Temporal *TemporalFilter
	HasField *HasFieldFilter
	Sub      []Filter
}

// And/Or/Not build boolean composition nodes. Not with multiple children
// negates their conjunction.
func And(filters ...Filter) Filter { return Filter{Type: FilterAnd, Sub: filters} }
func Or(filters ...Filter) Filter  { return Filter{Type: FilterOr, Sub: filters} }
func Not(filters ...Filter) Filter { return Filter{Type: FilterNot, Sub: filters} }

// BySupertag builds a supertag filter.
func BySupertag(systemID string, includeInherited bool) Filter {
	return Filter{Type: FilterSupertag, Supertag: &SupertagFilter{
		SupertagSystemID: systemID,
		IncludeInherited: includeInherited,
	}}
}

// ByProperty builds a property comparison filter.
func ByProperty(fieldSystemID string, op CompareOp, value any) Filter {
	return Filter{Type: FilterProperty, Property: &PropertyFilter{
		FieldSystemID: fieldSystemID,
		Op:            op,
		Value:         value,
	}}
}

// ByContent builds a content substring filter.
func ByContent(query string, caseSensitive bool) Filter {
	return Filter{Type: FilterContent, Content: &ContentFilter{Query: query, CaseSensitive: caseSensitive}}
}

// ByRelation builds a structural relation filter.
func ByRelation(rel RelationType, targetNodeID string) Filter {
	return Filter{Type: FilterRelation, Relation: &RelationFilter{RelationType: rel, TargetNodeID: targetNodeID}}
}

// HasField builds a field-presence filter.
func HasField(fieldSystemID string, negate bool) Filter {
	return Filter{Type: FilterHasField, HasField: &HasFieldFilter{FieldSystemID: fieldSystemID, Negate: negate}}
}

func (f Filter) MarshalJSON() ([]byte, error) {
	type tagged struct {
		Type FilterType `json:"type"`
	}
	switch f.Type {
	case FilterSupertag:
		return json.Marshal(struct {
			tagged
			*SupertagFilter
		}{tagged{f.Type}, f.Supertag})
	case FilterProperty:
		return json.Marshal(struct {
			tagged
			*PropertyFilter
		}{tagged{f.Type}, f.Property})
	case FilterContent:
		return json.Marshal(struct {
			tagged
			*ContentFilter
		}{tagged{f.Type}, f.Content})
	case FilterRelation:
		return json.Marshal(struct {
			tagged
			*RelationFilter
		}{tagged{f.Type}, f.Relation})
	case FilterTemporal:
		return json.Marshal(struct {
			tagged
			*TemporalFilter
		}{tagged{f.Type}, f.Temporal})
	case FilterHasField:
		return json.Marshal(struct {
			tagged
			*HasFieldFilter
		}{tagged{f.Type}, f.HasField})
	case FilterAnd, FilterOr, FilterNot:
		return json.Marshal(struct {
			tagged
			Filters []Filter `json:"filters"`
		}{tagged{f.Type}, f.Sub})
	default:
		return nil, fmt.Errorf("unknown filter type %q", f.Type)
	}
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var head struct {
		Type FilterType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decoding filter: %w", err)
	}
	*f = Filter{Type: head.Type}
	switch head.Type {
	case FilterSupertag:
		f.Supertag = &SupertagFilter{}
		return json.Unmarshal(data, f.Supertag)
	case FilterProperty:
		f.Property = &PropertyFilter{}
		return json.Unmarshal(data, f.Property)
	case FilterContent:
		f.Content = &ContentFilter{}
		return json.Unmarshal(data, f.Content)
	case FilterRelation:
		f.Relation = &RelationFilter{}
		return json.Unmarshal(data, f.Relation)
	case FilterTemporal:
		f.Temporal = &TemporalFilter{}
		return json.Unmarshal(data, f.Temporal)
	case FilterHasField:
		f.HasField = &HasFieldFilter{}
		return json.Unmarshal(data, f.HasField)
	case FilterAnd, FilterOr, FilterNot:
		var body struct {
			Filters []Filter `json:"filters"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		f.Sub = body.Filters
		return nil
	default:
		return Validationf("unknown filter type %q", head.Type)
	}
}

// Validate checks the filter tree structurally. Evaluation degrades per
// predicate, but a malformed tree is rejected up front.
func (f Filter) Validate() error {
	switch f.Type {
	case FilterSupertag:
		if f.Supertag == nil || f.Supertag.SupertagSystemID == "" {
			return Validationf("supertag filter requires supertagSystemId")
		}
	case FilterProperty:
		if f.Property == nil || f.Property.FieldSystemID == "" {
			return Validationf("property filter requires fieldSystemId")
		}
		switch f.Property.Op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty:
		default:
			return Validationf("unknown property op %q", f.Property.Op)
		}
	case FilterContent:
		if f.Content == nil {
			return Validationf("content filter requires a body")
		}
	case FilterRelation:
		if f.Relation == nil {
			return Validationf("relation filter requires a body")
		}
		switch f.Relation.RelationType {
		case RelationChildOf, RelationOwnedBy, RelationLinksTo, RelationLinkedFrom:
		default:
			return Validationf("unknown relation type %q", f.Relation.RelationType)
		}
	case FilterTemporal:
		if f.Temporal == nil {
			return Validationf("temporal filter requires a body")
		}
		if f.Temporal.Field != "createdAt" && f.Temporal.Field != "updatedAt" {
			return Validationf("temporal filter field must be createdAt or updatedAt, got %q", f.Temporal.Field)
		}
		switch f.Temporal.Op {
		case TemporalWithin, TemporalBefore, TemporalAfter:
		default:
			return Validationf("unknown temporal op %q", f.Temporal.Op)
		}
	case FilterHasField:
		if f.HasField == nil || f.HasField.FieldSystemID == "" {
			return Validationf("hasField filter requires fieldSystemId")
		}
	case FilterAnd, FilterOr, FilterNot:
		for _, sub := range f.Sub {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	default:
		return Validationf("unknown filter type %q", f.Type)
	}
	return nil
}

// SortSpec orders results by a built-in column (createdAt, updatedAt,
// content) or a field system id. Direction is "asc" (default) or "desc".
type SortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// QueryDefinition is the declarative query value object. Top-level filters
// are implicitly ANDed; an empty list matches every non-deleted node.
type QueryDefinition struct {
	Filters []Filter  `json:"filters"`
	Sort    *SortSpec `json:"sort,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// Validate checks every filter in the tree.
func (d QueryDefinition) Validate() error {
	for _, f := range d.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	if d.Limit < 0 {
		return Validationf("limit must be non-negative, got %d", d.Limit)
	}
	return nil
}

// QueryResult is an ordered, limited result set. TotalCount is the
// pre-truncation match count so callers can detect "more available".
type QueryResult struct {
	Nodes       []AssembledNode `json:"nodes"`
	TotalCount  int             `json:"total_count"`
	EvaluatedAt int64           `json:"evaluated_at"`
}

// IDs returns the result node ids in order.
func (r *QueryResult) IDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}
