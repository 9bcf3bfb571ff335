package memstore

import (
	"context"
	"path/filepath"
	"testing"

	"toolgraph/internal/graph"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func systemNodeID(t *testing.T, s *Store, systemID string) string {
	t.Helper()
	node, err := s.FindNodeBySystemID(context.Background(), systemID)
	if err != nil {
		t.Fatalf("resolving %s: %v", systemID, err)
	}
	if node == nil {
		t.Fatalf("system node %s missing", systemID)
	}
	return node.ID
}

func createTool(t *testing.T, s *Store, content, path string) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateNode(ctx, graph.CreateNodeOptions{
		Content:    content,
		SupertagID: systemNodeID(t, s, graph.SupertagTool),
		Properties: []graph.InitialProperty{{
			FieldID: systemNodeID(t, s, graph.FieldPath),
			Value:   graph.Scalar(path),
		}},
	})
	if err != nil {
		t.Fatalf("creating %s: %v", content, err)
	}
	return id
}

func TestInitIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	before, err := s.AllNodes(ctx)
	if err != nil {
		t.Fatalf("all nodes: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	after, err := s.AllNodes(ctx)
	if err != nil {
		t.Fatalf("all nodes: %v", err)
	}
	if len(before) != len(after) {
		t.Errorf("rerunning init grew the graph: %d -> %d", len(before), len(after))
	}

	// Command still extends Tool exactly once.
	ancestors, err := s.GetAncestorSupertags(ctx, systemNodeID(t, s, graph.SupertagCommand), 0)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 1 || ancestors[0].SystemID != graph.SupertagTool {
		t.Errorf("command ancestors = %+v", ancestors)
	}
}

func TestCreateAndFind(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id := createTool(t, s, "ripgrep", "/usr/bin/rg")
	node, err := s.FindNodeByID(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if node == nil || node.Content != "ripgrep" {
		t.Fatalf("node = %+v", node)
	}
	if !node.HasSupertagSystemID(graph.SupertagTool) {
		t.Error("supertag assignment lost")
	}
	if v, ok := node.FirstValue("path"); !ok || v.Text() != "/usr/bin/rg" {
		t.Errorf("path property lost: %+v", node.Properties)
	}

	missing, err := s.FindNodeByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("missing node should be nil, nil; got %v, %v", missing, err)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateNode(ctx, graph.CreateNodeOptions{Content: "x", SystemID: graph.SupertagTool})
	if !graph.IsValidation(err) {
		t.Errorf("duplicate system id: expected validation error, got %v", err)
	}
	_, err = s.CreateNode(ctx, graph.CreateNodeOptions{Content: "x", OwnerID: "ghost"})
	if !graph.IsNotFound(err) {
		t.Errorf("missing owner: expected not found, got %v", err)
	}
	_, err = s.CreateNode(ctx, graph.CreateNodeOptions{Content: "x", SupertagID: "ghost"})
	if !graph.IsValidation(err) {
		t.Errorf("missing supertag: expected validation error, got %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id := createTool(t, s, "fd", "/usr/bin/fd")
	if err := s.DeleteNode(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	node, err := s.FindNodeByID(ctx, id)
	if err != nil || node != nil {
		t.Errorf("deleted node still readable: %v, %v", node, err)
	}
	// Deleting again is a no-op, deleting a ghost is not found.
	if err := s.DeleteNode(ctx, id); err != nil {
		t.Errorf("double delete: %v", err)
	}
	if err := s.DeleteNode(ctx, "ghost"); !graph.IsNotFound(err) {
		t.Errorf("ghost delete: expected not found, got %v", err)
	}

	res, err := s.EvaluateQuery(ctx, graph.QueryDefinition{
		Filters: []graph.Filter{graph.BySupertag(graph.SupertagTool, false)},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for _, got := range res.IDs() {
		if got == id {
			t.Error("deleted node still matches queries")
		}
	}
}

func TestInitIdempotentAfterSystemNodeDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tool := systemNodeID(t, s, graph.SupertagTool)
	if err := s.DeleteNode(ctx, tool); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("re-init after deleting a system node: %v", err)
	}
	recreated := systemNodeID(t, s, graph.SupertagTool)
	if recreated == tool {
		t.Error("re-init resurrected the deleted node instead of creating a fresh one")
	}

	// The extends chain is rebuilt against the fresh node.
	ancestors, err := s.GetAncestorSupertags(ctx, systemNodeID(t, s, graph.SupertagCommand), 0)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	var found bool
	for _, a := range ancestors {
		if a.ID == recreated {
			found = true
		}
	}
	if !found {
		t.Errorf("command ancestors = %+v, want the recreated tool supertag", ancestors)
	}
}

func TestSystemIDReuseAfterDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.CreateNode(ctx, graph.CreateNodeOptions{Content: "first", SystemID: "probe:x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteNode(ctx, first); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Soft deletion frees the system id for a new node.
	second, err := s.CreateNode(ctx, graph.CreateNodeOptions{Content: "second", SystemID: "probe:x"})
	if err != nil {
		t.Fatalf("recreate with freed system id: %v", err)
	}
	node, err := s.FindNodeBySystemID(ctx, "probe:x")
	if err != nil || node == nil || node.ID != second {
		t.Errorf("freed system id resolves to %v, %v; want %s", node, err, second)
	}
}

func TestSupertagToggleIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id := createTool(t, s, "jq", "/usr/bin/jq")
	installable := systemNodeID(t, s, graph.SupertagInstallable)

	added, err := s.AddNodeSupertag(ctx, id, installable)
	if err != nil || !added {
		t.Fatalf("first add = %v, %v", added, err)
	}
	added, err = s.AddNodeSupertag(ctx, id, installable)
	if err != nil || added {
		t.Errorf("second add = %v, %v; want false, nil", added, err)
	}

	removed, err := s.RemoveNodeSupertag(ctx, id, installable)
	if err != nil || !removed {
		t.Fatalf("first remove = %v, %v", removed, err)
	}
	removed, err = s.RemoveNodeSupertag(ctx, id, installable)
	if err != nil || removed {
		t.Errorf("second remove = %v, %v; want false, nil", removed, err)
	}

	// Missing endpoints are a silent no-op, not an error.
	added, err = s.AddNodeSupertag(ctx, "ghost", installable)
	if err != nil || added {
		t.Errorf("ghost add = %v, %v; want false, nil", added, err)
	}
}

func TestMultiValueOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id := createTool(t, s, "make", "/usr/bin/make")
	tags := systemNodeID(t, s, graph.FieldTags)

	for _, v := range []string{"a", "b", "c"} {
		if err := s.AddPropertyValue(ctx, id, tags, graph.Scalar(v)); err != nil {
			t.Fatalf("append %s: %v", v, err)
		}
	}
	node, err := s.FindNodeByID(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	props := node.Properties["tags"]
	if len(props) != 3 {
		t.Fatalf("props = %d, want 3", len(props))
	}
	for i, want := range []string{"a", "b", "c"} {
		if props[i].Value.Text() != want || props[i].Order != i {
			t.Errorf("props[%d] = %s (order %d), want %s (order %d)",
				i, props[i].Value.Text(), props[i].Order, want, i)
		}
	}

	// SetProperty collapses the list to a single fresh edge.
	if err := s.SetProperty(ctx, id, tags, graph.Scalar("only"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	node, _ = s.FindNodeByID(ctx, id)
	props = node.Properties["tags"]
	if len(props) != 1 || props[0].Value.Text() != "only" {
		t.Errorf("after set: %+v", props)
	}

	// ClearProperty drops every edge for the pair.
	if err := s.ClearProperty(ctx, id, tags); err != nil {
		t.Fatalf("clear: %v", err)
	}
	node, _ = s.FindNodeByID(ctx, id)
	if _, ok := node.Properties["tags"]; ok {
		t.Error("clear left edges behind")
	}
}

func TestClearPropertyNoopIsSilent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id := createTool(t, s, "bat", "/usr/bin/bat")
	tags := systemNodeID(t, s, graph.FieldTags)
	before, _ := s.FindNodeByID(ctx, id)

	var events int
	s.SetEventEmitter(func(graph.MutationEvent) { events++ })

	if err := s.ClearProperty(ctx, id, tags); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if events != 0 {
		t.Errorf("clearing an empty field emitted %d events", events)
	}
	after, _ := s.FindNodeByID(ctx, id)
	if after.UpdatedAt != before.UpdatedAt {
		t.Error("clearing an empty field bumped updated_at")
	}

	// A clear that removes edges still notifies.
	if err := s.AddPropertyValue(ctx, id, tags, graph.Scalar("cli")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.ClearProperty(ctx, id, tags); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if events != 2 {
		t.Errorf("events = %d, want 2 (append + effective clear)", events)
	}
}

func TestLinkNodes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := createTool(t, s, "a", "/usr/bin/a")
	b := createTool(t, s, "b", "/usr/bin/b")
	deps := systemNodeID(t, s, graph.FieldDependencies)

	if err := s.LinkNodes(ctx, b, deps, a, true); err != nil {
		t.Fatalf("link: %v", err)
	}
	node, _ := s.FindNodeByID(ctx, b)
	refs := node.References()
	if len(refs) != 1 || refs[0] != a {
		t.Errorf("references = %v, want [%s]", refs, a)
	}

	if err := s.LinkNodes(ctx, b, deps, "ghost", true); !graph.IsNotFound(err) {
		t.Errorf("dangling link: expected not found, got %v", err)
	}
}

func TestGetNodesBySupertags(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tool := systemNodeID(t, s, graph.SupertagTool)
	installable := systemNodeID(t, s, graph.SupertagInstallable)
	a := createTool(t, s, "a", "/usr/bin/a")
	b := createTool(t, s, "b", "/usr/bin/b")
	if _, err := s.AddNodeSupertag(ctx, b, installable); err != nil {
		t.Fatalf("tagging: %v", err)
	}

	anyMatch, err := s.GetNodesBySupertags(ctx, []string{tool, installable}, false)
	if err != nil {
		t.Fatalf("any: %v", err)
	}
	if len(anyMatch) != 2 {
		t.Errorf("any match = %d nodes, want 2", len(anyMatch))
	}

	all, err := s.GetNodesBySupertags(ctx, []string{tool, installable}, true)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].ID != b {
		t.Errorf("all match = %+v, want only %s", all, b)
	}
	_ = a
}

func TestInheritanceThroughExtendsChain(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Declare a default on Tool; Command extends Tool via bootstrap.
	toolTag := systemNodeID(t, s, graph.SupertagTool)
	defaults := systemNodeID(t, s, graph.FieldDefaults)
	err := s.SetProperty(ctx, toolTag, defaults,
		graph.Scalar(map[string]any{graph.FieldPath: "/usr/local/bin"}), 0)
	if err != nil {
		t.Fatalf("declaring defaults: %v", err)
	}

	id, err := s.CreateNode(ctx, graph.CreateNodeOptions{
		Content:    "deploy",
		SupertagID: systemNodeID(t, s, graph.SupertagCommand),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	node, err := s.AssembleNodeWithInheritance(ctx, id)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	props := node.Properties["path"]
	if len(props) != 1 || props[0].Value.Text() != "/usr/local/bin" || !props[0].Inherited {
		t.Fatalf("inherited default lost: %+v", props)
	}

	// An explicit value beats the ancestor default.
	if err := s.SetProperty(ctx, id, systemNodeID(t, s, graph.FieldPath), graph.Scalar("/opt/bin"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	node, err = s.AssembleNodeWithInheritance(ctx, id)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	props = node.Properties["path"]
	if len(props) != 1 || props[0].Value.Text() != "/opt/bin" || props[0].Inherited {
		t.Fatalf("explicit value lost: %+v", props)
	}
}

func TestQueryEndToEnd(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := createTool(t, s, "x", "/usr/bin/x")
	b := createTool(t, s, "y", "/usr/bin/y")
	deps := systemNodeID(t, s, graph.FieldDependencies)
	if err := s.LinkNodes(ctx, b, deps, a, true); err != nil {
		t.Fatalf("link: %v", err)
	}

	res, err := s.EvaluateQuery(ctx, graph.QueryDefinition{
		Filters: []graph.Filter{graph.BySupertag(graph.SupertagTool, false)},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.TotalCount != 2 || len(res.Nodes) != 2 {
		t.Errorf("tool query = %d/%d, want 2/2", len(res.Nodes), res.TotalCount)
	}

	res, err = s.EvaluateQuery(ctx, graph.QueryDefinition{
		Filters: []graph.Filter{graph.ByRelation(graph.RelationLinksTo, a)},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != b {
		t.Errorf("linksTo query = %v, want [%s]", res.IDs(), b)
	}
}

func TestQueryTotalCountVsLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		createTool(t, s, "tool", "/usr/bin/t")
	}
	res, err := s.EvaluateQuery(ctx, graph.QueryDefinition{
		Filters: []graph.Filter{graph.BySupertag(graph.SupertagTool, false)},
		Limit:   3,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Nodes) != 3 || res.TotalCount != 10 {
		t.Errorf("limit query = %d/%d, want 3/10", len(res.Nodes), res.TotalCount)
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	id := createTool(t, s, "ripgrep", "/usr/bin/rg")
	if err := s.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	node, err := reopened.FindNodeByID(ctx, id)
	if err != nil {
		t.Fatalf("find after reload: %v", err)
	}
	if node == nil || node.Content != "ripgrep" {
		t.Fatalf("node lost across snapshot: %+v", node)
	}
	if v, ok := node.FirstValue("path"); !ok || v.Text() != "/usr/bin/rg" {
		t.Errorf("property lost across snapshot: %+v", node.Properties)
	}
	if !node.HasSupertagSystemID(graph.SupertagTool) {
		t.Error("supertag lost across snapshot")
	}
	// The system index is rebuilt from the snapshot.
	if got := systemNodeID(t, reopened, graph.SupertagTool); got == "" {
		t.Error("system map not rebuilt")
	}
}
