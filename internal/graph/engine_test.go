package graph

import (
	"context"
	"testing"
	"time"
)

type fakeSource struct {
	nodes []AssembledNode
}

func (f *fakeSource) AllNodes(ctx context.Context) ([]AssembledNode, error) {
	return f.nodes, nil
}

func strPtr(s string) *string { return &s }

func tnode(id, content string, createdAt int64) AssembledNode {
	return AssembledNode{
		Node: Node{
			ID:           id,
			Content:      content,
			ContentPlain: NormalizeContent(content),
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
		},
		Properties: make(map[string][]Property),
	}
}

func addProp(n *AssembledNode, fieldSysID, fieldName string, values ...PropertyValue) {
	for i, v := range values {
		n.Properties[fieldName] = append(n.Properties[fieldName], Property{
			FieldID:       "fid-" + fieldSysID,
			FieldSystemID: fieldSysID,
			FieldName:     fieldName,
			Value:         v,
			Order:         i,
		})
	}
}

func addTag(n *AssembledNode, ref SupertagRef) {
	n.Supertags = append(n.Supertags, ref)
}

// testUniverse builds a small catalog:
//
//	tool, command supertag nodes (command extends tool)
//	rg: #Tool, path=/usr/bin/rg, priority=2
//	fd: #Tool, path=/usr/bin/fd, priority=5, dependencies -> rg
//	gl: #Command only, owned by fd, created 30 days ago
func testUniverse(now int64) []AssembledNode {
	tool := tnode("st-tool", "Tool", now-5000)
	tool.SystemID = strPtr(SupertagTool)
	command := tnode("st-command", "Command", now-5000)
	command.SystemID = strPtr(SupertagCommand)
	addProp(&command, FieldExtends, "extends", Reference("st-tool"))

	rg := tnode("n-rg", "ripgrep", now-3000)
	addTag(&rg, SupertagRef{ID: "st-tool", SystemID: SupertagTool, Name: "Tool"})
	addProp(&rg, FieldPath, "path", Scalar("/usr/bin/rg"))
	addProp(&rg, "field:priority", "priority", Scalar(float64(2)))

	fd := tnode("n-fd", "fd finder", now-2000)
	addTag(&fd, SupertagRef{ID: "st-tool", SystemID: SupertagTool, Name: "Tool"})
	addProp(&fd, FieldPath, "path", Scalar("/usr/bin/fd"))
	addProp(&fd, "field:priority", "priority", Scalar(float64(5)))
	addProp(&fd, FieldDependencies, "dependencies", Reference("n-rg"))

	gl := tnode("n-gl", "git log", now-30*86_400_000)
	gl.UpdatedAt = now - 30*86_400_000
	gl.OwnerID = strPtr("n-fd")
	addTag(&gl, SupertagRef{ID: "st-command", SystemID: SupertagCommand, Name: "Command"})

	return []AssembledNode{tool, command, rg, fd, gl}
}

func evalIDs(t *testing.T, src Source, def QueryDefinition) []string {
	t.Helper()
	res, err := EvaluateQuery(context.Background(), src, def)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return res.IDs()
}

func assertIDs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEvaluateSupertagFilter(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	direct := evalIDs(t, src, QueryDefinition{Filters: []Filter{BySupertag(SupertagTool, false)}})
	assertIDs(t, direct, []string{"n-rg", "n-fd"})

	// Command extends Tool, so inherited matching pulls in git log too.
	inherited := evalIDs(t, src, QueryDefinition{Filters: []Filter{BySupertag(SupertagTool, true)}})
	assertIDs(t, inherited, []string{"n-gl", "n-rg", "n-fd"})
}

func TestEvaluatePropertyFilter(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	eq := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldPath, OpEq, "/usr/bin/rg")}})
	assertIDs(t, eq, []string{"n-rg"})

	gt := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty("field:priority", OpGt, 3)}})
	assertIDs(t, gt, []string{"n-fd"})

	// String numerics coerce for comparison.
	gte := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty("field:priority", OpGte, "2")}})
	assertIDs(t, gte, []string{"n-rg", "n-fd"})

	starts := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldPath, OpStartsWith, "/usr")}})
	assertIDs(t, starts, []string{"n-rg", "n-fd"})

	// neq needs the field present AND no value equal to the operand.
	neq := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldPath, OpNeq, "/usr/bin/rg")}})
	assertIDs(t, neq, []string{"n-fd"})

	empty := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldPath, OpIsEmpty, nil)}})
	assertIDs(t, empty, []string{"n-gl", "st-command", "st-tool"})
}

func TestEvaluateMultiValueAnyMatch(t *testing.T) {
	now := NowMillis()
	n := tnode("n-multi", "multi", now)
	addProp(&n, FieldTags, "tags", Scalar("cli"), Scalar("search"))
	src := &fakeSource{nodes: []AssembledNode{n}}

	hit := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldTags, OpEq, "search")}})
	assertIDs(t, hit, []string{"n-multi"})

	miss := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldTags, OpEq, "gui")}})
	assertIDs(t, miss, nil)

	// neq fails when any value equals the operand.
	neq := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByProperty(FieldTags, OpNeq, "cli")}})
	assertIDs(t, neq, nil)
}

func TestEvaluateContentFilter(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	insensitive := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByContent("RIPGREP", false)}})
	assertIDs(t, insensitive, []string{"n-rg"})

	sensitive := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByContent("RIPGREP", true)}})
	assertIDs(t, sensitive, nil)
}

func TestEvaluateHasFieldFilter(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	has := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		BySupertag(SupertagTool, false),
		HasField(FieldDependencies, false),
	}})
	assertIDs(t, has, []string{"n-fd"})

	negated := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		BySupertag(SupertagTool, false),
		HasField(FieldDependencies, true),
	}})
	assertIDs(t, negated, []string{"n-rg"})
}

func TestEvaluateRelationFilter(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	linksTo := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationLinksTo, "n-rg")}})
	assertIDs(t, linksTo, []string{"n-fd"})

	linkedFrom := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationLinkedFrom, "n-fd")}})
	assertIDs(t, linkedFrom, []string{"n-rg"})

	childOf := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationChildOf, "n-fd")}})
	assertIDs(t, childOf, []string{"n-gl"})

	// Empty target means "has any such relation".
	anyLink := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationLinksTo, "")}})
	assertIDs(t, anyLink, []string{"st-command", "n-fd"})

	// Missing target: no matches rather than an error.
	gone := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationLinksTo, "n-missing")}})
	assertIDs(t, gone, nil)
}

func TestEvaluateOwnedByTransitive(t *testing.T) {
	now := NowMillis()
	a := tnode("n-a", "a", now-3)
	b := tnode("n-b", "b", now-2)
	b.OwnerID = strPtr("n-a")
	c := tnode("n-c", "c", now-1)
	c.OwnerID = strPtr("n-b")
	src := &fakeSource{nodes: []AssembledNode{a, b, c}}

	owned := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationOwnedBy, "n-a")}})
	assertIDs(t, owned, []string{"n-b", "n-c"})

	// childOf is direct only.
	children := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationChildOf, "n-a")}})
	assertIDs(t, children, []string{"n-b"})
}

func TestEvaluateOwnerCycleTerminates(t *testing.T) {
	now := NowMillis()
	a := tnode("n-a", "a", now-2)
	a.OwnerID = strPtr("n-b")
	b := tnode("n-b", "b", now-1)
	b.OwnerID = strPtr("n-a")
	src := &fakeSource{nodes: []AssembledNode{a, b}}

	got := evalIDs(t, src, QueryDefinition{Filters: []Filter{ByRelation(RelationOwnedBy, "n-x")}})
	assertIDs(t, got, nil)
}

func TestEvaluateTemporalFilter(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	recent := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		{Type: FilterTemporal, Temporal: &TemporalFilter{Field: "createdAt", Op: TemporalWithin, Days: 7}},
	}})
	assertIDs(t, recent, []string{"st-command", "st-tool", "n-rg", "n-fd"})

	old := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		{Type: FilterTemporal, Temporal: &TemporalFilter{Field: "updatedAt", Op: TemporalBefore, Days: 7}},
	}})
	assertIDs(t, old, []string{"n-gl"})

	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	before := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		{Type: FilterTemporal, Temporal: &TemporalFilter{Field: "createdAt", Op: TemporalBefore, Date: date}},
	}})
	if len(before) != 5 {
		t.Errorf("date boundary: got %v", before)
	}
}

func TestEvaluateBooleanComposition(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	or := evalIDs(t, src, QueryDefinition{Filters: []Filter{Or(
		ByContent("ripgrep", false),
		ByContent("git", false),
	)}})
	assertIDs(t, or, []string{"n-gl", "n-rg"})

	not := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		BySupertag(SupertagTool, false),
		Not(HasField(FieldDependencies, false)),
	}})
	assertIDs(t, not, []string{"n-rg"})

	// not with multiple children negates their conjunction.
	notAnd := evalIDs(t, src, QueryDefinition{Filters: []Filter{
		BySupertag(SupertagTool, false),
		Not(
			HasField(FieldDependencies, false),
			ByContent("fd", false),
		),
	}})
	assertIDs(t, notAnd, []string{"n-rg"})
}

func TestEvaluateSortAndLimit(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}

	res, err := EvaluateQuery(context.Background(), src, QueryDefinition{
		Filters: []Filter{BySupertag(SupertagTool, false)},
		Sort:    &SortSpec{Field: "field:priority", Direction: "desc"},
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("totalCount = %d, want 2 (pre-truncation)", res.TotalCount)
	}
	assertIDs(t, res.IDs(), []string{"n-fd"})

	byContent := evalIDs(t, src, QueryDefinition{
		Filters: []Filter{BySupertag(SupertagTool, false)},
		Sort:    &SortSpec{Field: "content"},
	})
	assertIDs(t, byContent, []string{"n-fd", "n-rg"})
}

func TestEvaluateSortMissingFieldLast(t *testing.T) {
	now := NowMillis()
	with := tnode("n-with", "with", now-2)
	addProp(&with, "field:priority", "priority", Scalar(float64(1)))
	without := tnode("n-without", "without", now-1)
	src := &fakeSource{nodes: []AssembledNode{without, with}}

	got := evalIDs(t, src, QueryDefinition{Sort: &SortSpec{Field: "field:priority"}})
	assertIDs(t, got, []string{"n-with", "n-without"})
}

func TestEvaluateDefaultOrderDeterministic(t *testing.T) {
	now := NowMillis()
	a := tnode("n-a", "a", now)
	b := tnode("n-b", "b", now) // same createdAt, id breaks the tie
	src := &fakeSource{nodes: []AssembledNode{b, a}}

	first := evalIDs(t, src, QueryDefinition{})
	second := evalIDs(t, src, QueryDefinition{})
	assertIDs(t, first, []string{"n-a", "n-b"})
	assertIDs(t, second, first)
}

func TestEvaluateRejectsInvalidDefinition(t *testing.T) {
	src := &fakeSource{nodes: nil}
	_, err := EvaluateQuery(context.Background(), src, QueryDefinition{
		Filters: []Filter{{Type: "bogus"}},
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMatchesNode(t *testing.T) {
	src := &fakeSource{nodes: testUniverse(NowMillis())}
	def := QueryDefinition{Filters: []Filter{BySupertag(SupertagTool, false)}}

	ok, err := MatchesNode(context.Background(), src, def, "n-rg")
	if err != nil || !ok {
		t.Errorf("n-rg should match: %v %v", ok, err)
	}
	ok, err = MatchesNode(context.Background(), src, def, "n-gl")
	if err != nil || ok {
		t.Errorf("n-gl should not match: %v %v", ok, err)
	}
	ok, err = MatchesNode(context.Background(), src, def, "n-missing")
	if err != nil || ok {
		t.Errorf("missing node should not match: %v %v", ok, err)
	}
}
