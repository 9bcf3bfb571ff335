package graph

// Well-known system node keys. Bootstrap upserts one node per entry, so these
// are stable lookups regardless of generated ids.
const (
	SupertagTool          = "supertag:tool"
	SupertagCommand       = "supertag:command"
	SupertagInstallable   = "supertag:installable"
	SupertagQuery         = "supertag:query"
	SupertagComputedField = "supertag:computed_field"

	FieldValueType       = "field:value_type"
	FieldPath            = "field:path"
	FieldURL             = "field:url"
	FieldDependencies    = "field:dependencies"
	FieldTags            = "field:tags"
	FieldInstallCommand  = "field:install_command"
	FieldExtends         = "field:extends"
	FieldDefaults        = "field:defaults"
	FieldQueryDefinition = "field:query_definition"
	FieldQueryResults    = "field:query_results"
	FieldQueryEvaluated  = "field:query_evaluated_at"
	FieldComputedDef     = "field:computed_definition"
	FieldComputedValue   = "field:computed_value"
)

// SystemFieldSpec describes one built-in field node.
type SystemFieldSpec struct {
	SystemID  string
	Name      string
	ValueType ValueType
}

// SystemSupertagSpec describes one built-in supertag node.
type SystemSupertagSpec struct {
	SystemID string
	Name     string
	Extends  []string // system ids of parent supertags
}

// SystemFields lists every field bootstrap must guarantee. field:value_type
// comes first because the others declare their type through it.
func SystemFields() []SystemFieldSpec {
	return []SystemFieldSpec{
		{SystemID: FieldValueType, Name: "value_type", ValueType: ValueTypeText},
		{SystemID: FieldPath, Name: "path", ValueType: ValueTypeText},
		{SystemID: FieldURL, Name: "url", ValueType: ValueTypeText},
		{SystemID: FieldDependencies, Name: "dependencies", ValueType: ValueTypeReference},
		{SystemID: FieldTags, Name: "tags", ValueType: ValueTypeReference},
		{SystemID: FieldInstallCommand, Name: "install_command", ValueType: ValueTypeText},
		{SystemID: FieldExtends, Name: "extends", ValueType: ValueTypeReference},
		{SystemID: FieldDefaults, Name: "defaults", ValueType: ValueTypeJSON},
		{SystemID: FieldQueryDefinition, Name: "query_definition", ValueType: ValueTypeJSON},
		{SystemID: FieldQueryResults, Name: "query_results", ValueType: ValueTypeJSON},
		{SystemID: FieldQueryEvaluated, Name: "query_evaluated_at", ValueType: ValueTypeNumber},
		{SystemID: FieldComputedDef, Name: "computed_definition", ValueType: ValueTypeJSON},
		{SystemID: FieldComputedValue, Name: "computed_value", ValueType: ValueTypeNumber},
	}
}

// SystemSupertags lists every supertag bootstrap must guarantee.
func SystemSupertags() []SystemSupertagSpec {
	return []SystemSupertagSpec{
		{SystemID: SupertagTool, Name: "Tool"},
		{SystemID: SupertagInstallable, Name: "Installable"},
		{SystemID: SupertagCommand, Name: "Command", Extends: []string{SupertagTool}},
		{SystemID: SupertagQuery, Name: "Query"},
		{SystemID: SupertagComputedField, Name: "Computed Field"},
	}
}
