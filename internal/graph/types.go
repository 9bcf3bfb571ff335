package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueType is the declared type of a field node. It is a display and
// validation hint only; the store treats every value as JSON.
type ValueType string

const (
	ValueTypeText      ValueType = "text"
	ValueTypeNumber    ValueType = "number"
	ValueTypeBoolean   ValueType = "boolean"
	ValueTypeJSON      ValueType = "json"
	ValueTypeSelect    ValueType = "select"
	ValueTypeReference ValueType = "reference"
)

// PropertyValue is a closed sum type: either an arbitrary JSON scalar or a
// reference to another node by id. References are never encoded as bare
// strings inside the scalar branch, so a scalar that happens to look like a
// UUID can never be mistaken for a link.
type PropertyValue struct {
	Kind   ValueKind
	Scalar any    // set when Kind == KindScalar
	NodeID string // set when Kind == KindReference
}

type ValueKind string

const (
	KindScalar    ValueKind = "scalar"
	KindReference ValueKind = "reference"
)

// Scalar wraps a JSON-serializable value as a scalar PropertyValue.
func Scalar(v any) PropertyValue {
	return PropertyValue{Kind: KindScalar, Scalar: v}
}

// Reference wraps a node id as a reference PropertyValue.
func Reference(nodeID string) PropertyValue {
	return PropertyValue{Kind: KindReference, NodeID: nodeID}
}

// IsReference reports whether the value points at another node.
func (v PropertyValue) IsReference() bool {
	return v.Kind == KindReference
}

// Number coerces the value to a finite float64. String scalars are parsed;
// references and non-numeric scalars report false.
func (v PropertyValue) Number() (float64, bool) {
	if v.Kind != KindScalar {
		return 0, false
	}
	switch s := v.Scalar.(type) {
	case float64:
		return s, true
	case int:
		return float64(s), true
	case int64:
		return float64(s), true
	case json.Number:
		f, err := s.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Text renders the value for string comparisons. References render as their
// target id, scalars as their natural string form.
func (v PropertyValue) Text() string {
	if v.Kind == KindReference {
		return v.NodeID
	}
	switch s := v.Scalar.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("%v", s)
		}
		return string(b)
	}
}

// Equal compares two property values. Numeric scalars compare numerically so
// 2 and 2.0 are the same value.
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	if v.Kind == KindReference {
		return v.NodeID == other.NodeID
	}
	if a, ok := v.Number(); ok {
		if b, ok := other.Number(); ok {
			return a == b
		}
		return false
	}
	return v.Text() == other.Text()
}

type propertyValueJSON struct {
	Kind   ValueKind       `json:"kind"`
	Value  json.RawMessage `json:"value,omitempty"`
	NodeID string          `json:"nodeId,omitempty"`
}

// MarshalJSON encodes the tagged representation:
// {"kind":"scalar","value":...} or {"kind":"reference","nodeId":"..."}.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	out := propertyValueJSON{Kind: v.Kind}
	switch v.Kind {
	case KindReference:
		out.NodeID = v.NodeID
	case KindScalar:
		raw, err := json.Marshal(v.Scalar)
		if err != nil {
			return nil, fmt.Errorf("encoding scalar value: %w", err)
		}
		out.Value = raw
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.Kind)
	}
	return json.Marshal(out)
}

func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var in propertyValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decoding property value: %w", err)
	}
	switch in.Kind {
	case KindReference:
		if in.NodeID == "" {
			return fmt.Errorf("reference value missing nodeId")
		}
		*v = Reference(in.NodeID)
	case KindScalar:
		var scalar any
		if len(in.Value) > 0 {
			if err := json.Unmarshal(in.Value, &scalar); err != nil {
				return fmt.Errorf("decoding scalar value: %w", err)
			}
		}
		*v = Scalar(scalar)
	default:
		return fmt.Errorf("unknown value kind %q", in.Kind)
	}
	return nil
}

// Node is a generic graph vertex. Timestamps are Unix millis; DeletedAt
// non-nil means soft-deleted and excluded from all normal reads.
type Node struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	ContentPlain string  `json:"content_plain"`
	SystemID     *string `json:"system_id,omitempty"`
	OwnerID      *string `json:"owner_id,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
	DeletedAt    *int64  `json:"deleted_at,omitempty"`
}

// Deleted reports whether the node is soft-deleted.
func (n *Node) Deleted() bool { return n.DeletedAt != nil }

// Property is one has_field edge on an assembled node.
type Property struct {
	FieldID       string        `json:"field_id"`
	FieldSystemID string        `json:"field_system_id,omitempty"`
	FieldName     string        `json:"field_name"`
	Value         PropertyValue `json:"value"`
	Order         int           `json:"order"`
	CreatedAt     int64         `json:"created_at"`
	UpdatedAt     int64         `json:"updated_at"`
	Inherited     bool          `json:"inherited,omitempty"`
}

// SupertagRef identifies a supertag carried by a node.
type SupertagRef struct {
	ID       string `json:"id"`
	SystemID string `json:"system_id,omitempty"`
	Name     string `json:"name"`
}

// AssembledNode is the materialized read view: the node plus its full
// property map (field name -> ordered edges) and resolved supertag list.
// It is re-derived on every read, never cached.
type AssembledNode struct {
	Node
	Properties map[string][]Property `json:"properties"`
	Supertags  []SupertagRef         `json:"supertags"`
}

// HasSupertag reports whether the node carries a supertag with the given id.
func (a *AssembledNode) HasSupertag(supertagID string) bool {
	for _, s := range a.Supertags {
		if s.ID == supertagID {
			return true
		}
	}
	return false
}

// HasSupertagSystemID reports whether the node carries a supertag with the
// given system id.
func (a *AssembledNode) HasSupertagSystemID(systemID string) bool {
	for _, s := range a.Supertags {
		if s.SystemID == systemID {
			return true
		}
	}
	return false
}

// PropertiesBySystemID returns the ordered property edges for the field with
// the given system id, or nil when absent.
func (a *AssembledNode) PropertiesBySystemID(fieldSystemID string) []Property {
	for _, props := range a.Properties {
		if len(props) > 0 && props[0].FieldSystemID == fieldSystemID {
			return props
		}
	}
	return nil
}

// FirstValue returns the first value for the named field.
func (a *AssembledNode) FirstValue(fieldName string) (PropertyValue, bool) {
	props := a.Properties[fieldName]
	if len(props) == 0 {
		return PropertyValue{}, false
	}
	return props[0].Value, true
}

// References collects every reference-kind value across all properties.
func (a *AssembledNode) References() []string {
	var out []string
	for _, props := range a.Properties {
		for _, p := range props {
			if p.Value.IsReference() {
				out = append(out, p.Value.NodeID)
			}
		}
	}
	return out
}

// SortProperties orders each field's edges by Order and normalizes nil maps.
// Backends call this as the last assembly step so reads are deterministic.
func (a *AssembledNode) SortProperties() {
	if a.Properties == nil {
		a.Properties = map[string][]Property{}
	}
	for name, props := range a.Properties {
		sort.SliceStable(props, func(i, j int) bool { return props[i].Order < props[j].Order })
		a.Properties[name] = props
	}
}

// InitialProperty seeds one property edge at node creation.
type InitialProperty struct {
	FieldID string
	Value   PropertyValue
	Order   int
}

// CreateNodeOptions configures CreateNode. SupertagID and Properties are
// applied in the same logical operation as the insert.
type CreateNodeOptions struct {
	Content    string
	SystemID   string
	OwnerID    string
	SupertagID string
	Properties []InitialProperty
}

// FieldDefinition is one field declared directly on a supertag, keyed by
// field name in GetSupertagFieldDefinitions results. DefaultValue nil means
// the supertag declares the field without a default.
type FieldDefinition struct {
	FieldNodeID   string
	FieldSystemID string
	FieldName     string
	DefaultValue  *PropertyValue
}

// NormalizeContent lowercases content for the case-insensitive search copy.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

// NowMillis returns the current time as Unix millis, the timestamp unit used
// across the store.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
