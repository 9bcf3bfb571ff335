// Package memstore is the graph-native storage engine: nodes, has_field and
// has_supertag edges held as first-class in-memory relations, with an
// explicit Save that snapshots the graph to disk as JSON.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"toolgraph/internal/graph"
)

type propEdge struct {
	ID        string              `json:"id"`
	FieldID   string              `json:"field_id"`
	Value     graph.PropertyValue `json:"value"`
	Order     int                 `json:"order"`
	CreatedAt int64               `json:"created_at"`
	UpdatedAt int64               `json:"updated_at"`
}

type tagEdge struct {
	SupertagID string `json:"supertag_id"`
	Order      int    `json:"order"`
	CreatedAt  int64  `json:"created_at"`
}

type record struct {
	Node  graph.Node `json:"node"`
	Props []propEdge `json:"props"`
	Tags  []tagEdge  `json:"tags"`
}

// Store implements graph.NodeBackend. Reads hold the lock shared; every
// mutation takes it exclusively and emits its event only after release, so
// subscribers can safely re-enter the store.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]*record
	system map[string]string // system id -> node id
	path   string            // snapshot file; empty means volatile
	emit   func(graph.MutationEvent)
}

var _ graph.NodeBackend = (*Store)(nil)

// Open creates a store backed by the given snapshot path, loading an
// existing snapshot when one is present. An empty path gives a volatile
// store (used by tests and the in-memory CLI mode).
func Open(path string) (*Store, error) {
	s := &Store{
		nodes:  make(map[string]*record),
		system: make(map[string]string),
		path:   path,
	}
	if path != "" {
		if err := s.loadSnapshot(); err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
	}
	return s, nil
}

func (s *Store) SetEventEmitter(emit func(graph.MutationEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emit
}

func (s *Store) notify(ev graph.MutationEvent) {
	s.mu.RLock()
	emit := s.emit
	s.mu.RUnlock()
	if emit != nil {
		emit(ev)
	}
}

func (s *Store) Close() error { return nil }

// Init bootstraps the system fields and supertags. Upsert-by-systemId keeps
// it idempotent: rerunning creates nothing new. Bootstrap emits no events.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valueTypeID := ""
	for _, spec := range graph.SystemFields() {
		id := s.upsertSystemLocked(spec.SystemID, spec.Name)
		if spec.SystemID == graph.FieldValueType {
			valueTypeID = id
		}
	}
	// Second pass: declare each field's value type through field:value_type.
	for _, spec := range graph.SystemFields() {
		fieldID := s.system[spec.SystemID]
		s.setPropertyLocked(fieldID, valueTypeID, graph.Scalar(string(spec.ValueType)), 0)
	}
	extendsID := s.system[graph.FieldExtends]
	for _, spec := range graph.SystemSupertags() {
		s.upsertSystemLocked(spec.SystemID, spec.Name)
	}
	for _, spec := range graph.SystemSupertags() {
		tagID := s.system[spec.SystemID]
		for _, parentSys := range spec.Extends {
			parentID, ok := s.system[parentSys]
			if !ok {
				continue
			}
			if !s.hasReferenceLocked(tagID, extendsID, parentID) {
				s.addPropertyValueLocked(tagID, extendsID, graph.Reference(parentID))
			}
		}
	}
	return nil
}

func (s *Store) upsertSystemLocked(systemID, name string) string {
	if id, ok := s.system[systemID]; ok {
		if rec, exists := s.nodes[id]; exists && !rec.Node.Deleted() {
			return id
		}
	}
	now := graph.NowMillis()
	id := newID()
	sysCopy := systemID
	s.nodes[id] = &record{Node: graph.Node{
		ID:           id,
		Content:      name,
		ContentPlain: graph.NormalizeContent(name),
		SystemID:     &sysCopy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	s.system[systemID] = id
	return id
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// live returns the record when it exists and is not soft-deleted.
func (s *Store) live(id string) *record {
	rec, ok := s.nodes[id]
	if !ok || rec.Node.Deleted() {
		return nil
	}
	return rec
}

func (s *Store) CreateNode(ctx context.Context, opts graph.CreateNodeOptions) (string, error) {
	s.mu.Lock()
	now := graph.NowMillis()
	id := newID()
	rec := &record{Node: graph.Node{
		ID:           id,
		Content:      opts.Content,
		ContentPlain: graph.NormalizeContent(opts.Content),
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	if opts.SystemID != "" {
		if existing, ok := s.system[opts.SystemID]; ok && s.live(existing) != nil {
			s.mu.Unlock()
			return "", graph.Validationf("system id %s already in use by node %s", opts.SystemID, existing)
		}
		sysCopy := opts.SystemID
		rec.Node.SystemID = &sysCopy
	}
	if opts.OwnerID != "" {
		if s.live(opts.OwnerID) == nil {
			s.mu.Unlock()
			return "", &graph.NotFoundError{Kind: "node", Ref: opts.OwnerID}
		}
		ownerCopy := opts.OwnerID
		rec.Node.OwnerID = &ownerCopy
	}
	if opts.SupertagID != "" && s.live(opts.SupertagID) == nil {
		s.mu.Unlock()
		return "", graph.Validationf("supertag %s does not exist: bootstrap not run?", opts.SupertagID)
	}
	for _, p := range opts.Properties {
		if s.live(p.FieldID) == nil {
			s.mu.Unlock()
			return "", graph.Validationf("field %s does not exist: bootstrap not run?", p.FieldID)
		}
	}

	s.nodes[id] = rec
	if rec.Node.SystemID != nil {
		s.system[*rec.Node.SystemID] = id
	}
	if opts.SupertagID != "" {
		rec.Tags = append(rec.Tags, tagEdge{SupertagID: opts.SupertagID, CreatedAt: now})
	}
	for _, p := range opts.Properties {
		rec.Props = append(rec.Props, propEdge{
			ID:        newID(),
			FieldID:   p.FieldID,
			Value:     p.Value,
			Order:     p.Order,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventNodeCreated, NodeID: id})
	return id, nil
}

func (s *Store) FindNodeByID(ctx context.Context, id string) (*graph.AssembledNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live(id) == nil {
		return nil, nil
	}
	return s.assembleLocked(id), nil
}

func (s *Store) FindNodeBySystemID(ctx context.Context, systemID string) (*graph.AssembledNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.system[systemID]
	if !ok || s.live(id) == nil {
		return nil, nil
	}
	return s.assembleLocked(id), nil
}

func (s *Store) UpdateNodeContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	rec := s.live(id)
	if rec == nil {
		s.mu.Unlock()
		return &graph.NotFoundError{Kind: "node", Ref: id}
	}
	rec.Node.Content = content
	rec.Node.ContentPlain = graph.NormalizeContent(content)
	rec.Node.UpdatedAt = graph.NowMillis()
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventNodeUpdated, NodeID: id})
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return &graph.NotFoundError{Kind: "node", Ref: id}
	}
	if rec.Node.Deleted() {
		s.mu.Unlock()
		return nil
	}
	now := graph.NowMillis()
	rec.Node.DeletedAt = &now
	rec.Node.UpdatedAt = now
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventNodeDeleted, NodeID: id})
	return nil
}

func (s *Store) SetProperty(ctx context.Context, nodeID, fieldID string, value graph.PropertyValue, order int) error {
	s.mu.Lock()
	if err := s.checkPropertyEndpoints(nodeID, fieldID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setPropertyLocked(nodeID, fieldID, value, order)
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: nodeID})
	return nil
}

func (s *Store) AddPropertyValue(ctx context.Context, nodeID, fieldID string, value graph.PropertyValue) error {
	s.mu.Lock()
	if err := s.checkPropertyEndpoints(nodeID, fieldID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.addPropertyValueLocked(nodeID, fieldID, value)
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: nodeID})
	return nil
}

// ClearProperty removes all edges for the (node, field) pair. Clearing a
// field with no edges is a no-op: no updated_at bump, no event.
func (s *Store) ClearProperty(ctx context.Context, nodeID, fieldID string) error {
	s.mu.Lock()
	if err := s.checkPropertyEndpoints(nodeID, fieldID); err != nil {
		s.mu.Unlock()
		return err
	}
	rec := s.live(nodeID)
	kept := rec.Props[:0]
	for _, p := range rec.Props {
		if p.FieldID != fieldID {
			kept = append(kept, p)
		}
	}
	removed := len(rec.Props) - len(kept)
	rec.Props = kept
	if removed == 0 {
		s.mu.Unlock()
		return nil
	}
	rec.Node.UpdatedAt = graph.NowMillis()
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: nodeID})
	return nil
}

func (s *Store) LinkNodes(ctx context.Context, fromID, fieldID, toID string, appendValue bool) error {
	s.mu.Lock()
	if err := s.checkPropertyEndpoints(fromID, fieldID); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.live(toID) == nil {
		s.mu.Unlock()
		return &graph.NotFoundError{Kind: "node", Ref: toID}
	}
	if appendValue {
		s.addPropertyValueLocked(fromID, fieldID, graph.Reference(toID))
	} else {
		s.setPropertyLocked(fromID, fieldID, graph.Reference(toID), 0)
	}
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventPropertyChanged, NodeID: fromID})
	return nil
}

func (s *Store) checkPropertyEndpoints(nodeID, fieldID string) error {
	if s.live(nodeID) == nil {
		return &graph.NotFoundError{Kind: "node", Ref: nodeID}
	}
	if s.live(fieldID) == nil {
		return &graph.NotFoundError{Kind: "field", Ref: fieldID}
	}
	return nil
}

// setPropertyLocked implements replace semantics: drop every (node, field)
// edge, insert one fresh edge.
func (s *Store) setPropertyLocked(nodeID, fieldID string, value graph.PropertyValue, order int) {
	rec := s.live(nodeID)
	kept := rec.Props[:0]
	for _, p := range rec.Props {
		if p.FieldID != fieldID {
			kept = append(kept, p)
		}
	}
	now := graph.NowMillis()
	rec.Props = append(kept, propEdge{
		ID:        newID(),
		FieldID:   fieldID,
		Value:     value,
		Order:     order,
		CreatedAt: now,
		UpdatedAt: now,
	})
	rec.Node.UpdatedAt = now
}

// addPropertyValueLocked implements append semantics: order is one past the
// current maximum for the (node, field) pair.
func (s *Store) addPropertyValueLocked(nodeID, fieldID string, value graph.PropertyValue) {
	rec := s.live(nodeID)
	next := 0
	for _, p := range rec.Props {
		if p.FieldID == fieldID && p.Order >= next {
			next = p.Order + 1
		}
	}
	now := graph.NowMillis()
	rec.Props = append(rec.Props, propEdge{
		ID:        newID(),
		FieldID:   fieldID,
		Value:     value,
		Order:     next,
		CreatedAt: now,
		UpdatedAt: now,
	})
	rec.Node.UpdatedAt = now
}

func (s *Store) hasReferenceLocked(nodeID, fieldID, targetID string) bool {
	rec := s.live(nodeID)
	if rec == nil {
		return false
	}
	for _, p := range rec.Props {
		if p.FieldID == fieldID && p.Value.IsReference() && p.Value.NodeID == targetID {
			return true
		}
	}
	return false
}

func (s *Store) AddNodeSupertag(ctx context.Context, nodeID, supertagID string) (bool, error) {
	s.mu.Lock()
	rec := s.live(nodeID)
	if rec == nil || s.live(supertagID) == nil {
		s.mu.Unlock()
		return false, nil
	}
	for _, t := range rec.Tags {
		if t.SupertagID == supertagID {
			s.mu.Unlock()
			return false, nil
		}
	}
	next := 0
	for _, t := range rec.Tags {
		if t.Order >= next {
			next = t.Order + 1
		}
	}
	now := graph.NowMillis()
	rec.Tags = append(rec.Tags, tagEdge{SupertagID: supertagID, Order: next, CreatedAt: now})
	rec.Node.UpdatedAt = now
	s.mu.Unlock()

	s.notify(graph.MutationEvent{Kind: graph.EventSupertagChanged, NodeID: nodeID})
	return true, nil
}

func (s *Store) RemoveNodeSupertag(ctx context.Context, nodeID, supertagID string) (bool, error) {
	s.mu.Lock()
	rec := s.live(nodeID)
	if rec == nil {
		s.mu.Unlock()
		return false, nil
	}
	found := false
	kept := rec.Tags[:0]
	for _, t := range rec.Tags {
		if t.SupertagID == supertagID {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	rec.Tags = kept
	if found {
		rec.Node.UpdatedAt = graph.NowMillis()
	}
	s.mu.Unlock()

	if found {
		s.notify(graph.MutationEvent{Kind: graph.EventSupertagChanged, NodeID: nodeID})
	}
	return found, nil
}

func (s *Store) GetNodesBySupertags(ctx context.Context, supertagIDs []string, matchAll bool) ([]graph.AssembledNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.AssembledNode
	for id, rec := range s.nodes {
		if rec.Node.Deleted() {
			continue
		}
		carried := make(map[string]bool, len(rec.Tags))
		for _, t := range rec.Tags {
			carried[t.SupertagID] = true
		}
		hits := 0
		for _, want := range supertagIDs {
			if carried[want] {
				hits++
			}
		}
		if (matchAll && hits == len(supertagIDs) && len(supertagIDs) > 0) || (!matchAll && hits > 0) {
			out = append(out, *s.assembleLocked(id))
		}
	}
	sortAssembled(out)
	return out, nil
}

// GetAncestorSupertags walks extends references breadth-first. A visited set
// terminates cycles; maxDepth truncates silently, returning the chain
// discovered so far.
func (s *Store) GetAncestorSupertags(ctx context.Context, supertagID string, maxDepth int) ([]graph.SupertagRef, error) {
	if maxDepth <= 0 {
		maxDepth = graph.DefaultMaxAncestorDepth
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live(supertagID) == nil {
		return nil, nil
	}
	extendsID := s.system[graph.FieldExtends]

	var chain []graph.SupertagRef
	visited := map[string]bool{supertagID: true}
	frontier := []string{supertagID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			rec := s.live(id)
			if rec == nil {
				continue
			}
			ordered := append([]propEdge(nil), rec.Props...)
			sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
			for _, p := range ordered {
				if p.FieldID != extendsID || !p.Value.IsReference() {
					continue
				}
				parentID := p.Value.NodeID
				if visited[parentID] {
					continue
				}
				visited[parentID] = true
				parent := s.live(parentID)
				if parent == nil {
					continue
				}
				chain = append(chain, supertagRef(&parent.Node))
				next = append(next, parentID)
			}
		}
		frontier = next
	}
	return chain, nil
}

func supertagRef(n *graph.Node) graph.SupertagRef {
	ref := graph.SupertagRef{ID: n.ID, Name: n.Content}
	if n.SystemID != nil {
		ref.SystemID = *n.SystemID
	}
	return ref
}

// GetSupertagFieldDefinitions reads the supertag's field:defaults map
// (field system id -> default value). Keys that resolve to no live field
// node are skipped; a null default declares the field without one.
func (s *Store) GetSupertagFieldDefinitions(ctx context.Context, supertagID string) (map[string]graph.FieldDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.live(supertagID)
	if rec == nil {
		return map[string]graph.FieldDefinition{}, nil
	}
	defaultsID := s.system[graph.FieldDefaults]
	out := make(map[string]graph.FieldDefinition)
	for _, p := range rec.Props {
		if p.FieldID != defaultsID || p.Value.Kind != graph.KindScalar {
			continue
		}
		decl, ok := p.Value.Scalar.(map[string]any)
		if !ok {
			continue
		}
		for fieldSysID, raw := range decl {
			fieldID, ok := s.system[fieldSysID]
			if !ok {
				continue
			}
			fieldRec := s.live(fieldID)
			if fieldRec == nil {
				continue
			}
			def := graph.FieldDefinition{
				FieldNodeID:   fieldID,
				FieldSystemID: fieldSysID,
				FieldName:     fieldRec.Node.Content,
			}
			if raw != nil {
				v := graph.Scalar(raw)
				def.DefaultValue = &v
			}
			out[fieldRec.Node.Content] = def
		}
	}
	return out, nil
}

func (s *Store) AssembleNode(ctx context.Context, id string) (*graph.AssembledNode, error) {
	return s.FindNodeByID(ctx, id)
}

func (s *Store) AssembleNodeWithInheritance(ctx context.Context, id string) (*graph.AssembledNode, error) {
	return graph.AssembleWithInheritance(ctx, s, id)
}

func (s *Store) EvaluateQuery(ctx context.Context, def graph.QueryDefinition) (*graph.QueryResult, error) {
	return graph.EvaluateQuery(ctx, s, def)
}

func (s *Store) AllNodes(ctx context.Context) ([]graph.AssembledNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.AssembledNode, 0, len(s.nodes))
	for id, rec := range s.nodes {
		if rec.Node.Deleted() {
			continue
		}
		out = append(out, *s.assembleLocked(id))
	}
	sortAssembled(out)
	return out, nil
}

func sortAssembled(nodes []graph.AssembledNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].CreatedAt != nodes[j].CreatedAt {
			return nodes[i].CreatedAt < nodes[j].CreatedAt
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// assembleLocked builds the full read view. Property edges whose field node
// is deleted are skipped since they can no longer be named.
func (s *Store) assembleLocked(id string) *graph.AssembledNode {
	rec := s.nodes[id]
	assembled := &graph.AssembledNode{
		Node:       rec.Node,
		Properties: make(map[string][]graph.Property),
	}
	for _, p := range rec.Props {
		fieldRec := s.live(p.FieldID)
		if fieldRec == nil {
			continue
		}
		prop := graph.Property{
			FieldID:   p.FieldID,
			FieldName: fieldRec.Node.Content,
			Value:     p.Value,
			Order:     p.Order,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}
		if fieldRec.Node.SystemID != nil {
			prop.FieldSystemID = *fieldRec.Node.SystemID
		}
		assembled.Properties[prop.FieldName] = append(assembled.Properties[prop.FieldName], prop)
	}
	ordered := append([]tagEdge(nil), rec.Tags...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	for _, t := range ordered {
		tagRec := s.live(t.SupertagID)
		if tagRec == nil {
			continue
		}
		assembled.Supertags = append(assembled.Supertags, supertagRef(&tagRec.Node))
	}
	assembled.SortProperties()
	return assembled
}
