// Package computed maintains named aggregates (COUNT/SUM/AVG/MIN/MAX) bound
// to live queries. Each computed field is a node carrying its definition; the
// service holds the runtime state (active subscription, last value, change
// listeners), which is process-local and rebuilt by Initialize after restart.
package computed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"toolgraph/internal/graph"
	"toolgraph/internal/subscribe"
)

// Aggregation names one aggregate kind.
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

func (a Aggregation) valid() bool {
	switch a {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// Definition binds an aggregation to a query. FieldSystemID names the numeric
// source field; COUNT ignores it. A SUM/AVG/MIN/MAX definition without a field
// is structurally accepted but degrades to a logged warning and a nil value.
type Definition struct {
	Query         graph.QueryDefinition `json:"query"`
	Aggregation   Aggregation           `json:"aggregation"`
	FieldSystemID string                `json:"fieldSystemId,omitempty"`
}

// Validate checks the structural parts of the definition.
func (d Definition) Validate() error {
	if !d.Aggregation.valid() {
		return graph.Validationf("unknown aggregation %q", d.Aggregation)
	}
	return d.Query.Validate()
}

// Listener receives the new value after it actually changed. A nil value
// means "no data" (zero numeric contributors), which is distinct from zero.
type Listener func(value *float64)

// Service owns the runtime side of computed fields.
type Service struct {
	backend  graph.NodeBackend
	registry *subscribe.Registry
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*activeField // computed-field node id -> runtime state
}

type activeField struct {
	nodeID string
	def    Definition
	sub    *subscribe.Subscription

	mu        sync.Mutex
	value     *float64
	listeners map[string]Listener
}

// NewService wires the service against a backend and its subscription
// registry. No field is active until Create, Recompute, or Initialize runs.
func NewService(backend graph.NodeBackend, registry *subscribe.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		backend:  backend,
		registry: registry,
		log:      log,
		active:   make(map[string]*activeField),
	}
}

// Create persists a new computed-field node, activates it, computes the
// initial aggregate, and writes the cached value back onto the node.
func (s *Service) Create(ctx context.Context, name string, def Definition, ownerID string) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	tag, err := s.systemNode(ctx, graph.SupertagComputedField)
	if err != nil {
		return "", err
	}
	defField, err := s.systemNode(ctx, graph.FieldComputedDef)
	if err != nil {
		return "", err
	}
	encoded, err := encodeDefinition(def)
	if err != nil {
		return "", err
	}
	id, err := s.backend.CreateNode(ctx, graph.CreateNodeOptions{
		Content:    name,
		OwnerID:    ownerID,
		SupertagID: tag.ID,
		Properties: []graph.InitialProperty{{FieldID: defField.ID, Value: encoded}},
	})
	if err != nil {
		return "", err
	}
	if _, err := s.activate(ctx, id, def); err != nil {
		return "", err
	}
	return id, nil
}

// GetValue returns the live value when the field is active, else the last
// persisted cached value. A restarted process serves only persisted snapshots
// until Initialize runs.
func (s *Service) GetValue(ctx context.Context, id string) (*float64, error) {
	s.mu.Lock()
	af, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		af.mu.Lock()
		defer af.mu.Unlock()
		return af.value, nil
	}

	node, err := s.backend.FindNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &graph.NotFoundError{Kind: "computed field", Ref: id}
	}
	props := node.PropertiesBySystemID(graph.FieldComputedValue)
	if len(props) == 0 {
		return nil, nil
	}
	if n, ok := props[0].Value.Number(); ok {
		return &n, nil
	}
	return nil, nil
}

// Recompute forces a fresh aggregate, lazily activating the field from its
// stored definition when needed, and returns the (possibly unchanged) value.
func (s *Service) Recompute(ctx context.Context, id string) (*float64, error) {
	af, err := s.ensureActive(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.backend.EvaluateQuery(ctx, af.def.Query)
	if err != nil {
		return nil, err
	}
	value := s.aggregate(af.def, res)
	s.applyValue(ctx, af, value)
	return value, nil
}

// Delete tears a field down: unsubscribes, drops listeners, soft-deletes the
// node. The node delete is the only hard requirement; runtime state simply
// stops existing.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	af, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if ok {
		af.sub.Unsubscribe()
		af.mu.Lock()
		af.listeners = nil
		af.mu.Unlock()
	}
	return s.backend.DeleteNode(ctx, id)
}

// OnValueChange registers a listener, activating the field first when needed.
// The returned function removes the listener and may be called repeatedly.
func (s *Service) OnValueChange(ctx context.Context, id string, fn Listener) (func(), error) {
	af, err := s.ensureActive(ctx, id)
	if err != nil {
		return nil, err
	}
	key := uuid.NewString()
	af.mu.Lock()
	if af.listeners == nil {
		af.listeners = make(map[string]Listener)
	}
	af.listeners[key] = fn
	af.mu.Unlock()

	return func() {
		af.mu.Lock()
		delete(af.listeners, key)
		af.mu.Unlock()
	}, nil
}

// Initialize rehydrates every non-deleted computed-field node into an active
// subscription. Nodes with an unreadable definition are logged and skipped.
func (s *Service) Initialize(ctx context.Context) error {
	res, err := s.backend.EvaluateQuery(ctx, graph.QueryDefinition{
		Filters: []graph.Filter{graph.BySupertag(graph.SupertagComputedField, false)},
	})
	if err != nil {
		return fmt.Errorf("listing computed fields: %w", err)
	}
	for i := range res.Nodes {
		node := &res.Nodes[i]
		def, err := definitionOf(node)
		if err != nil {
			s.log.Warn("skipping computed field with bad definition", "node", node.ID, "error", err)
			continue
		}
		if _, err := s.activate(ctx, node.ID, *def); err != nil {
			s.log.Warn("failed to activate computed field", "node", node.ID, "error", err)
		}
	}
	return nil
}

// List returns every non-deleted computed-field node.
func (s *Service) List(ctx context.Context) ([]graph.AssembledNode, error) {
	res, err := s.backend.EvaluateQuery(ctx, graph.QueryDefinition{
		Filters: []graph.Filter{graph.BySupertag(graph.SupertagComputedField, false)},
	})
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

// Clear drops all runtime state without touching storage. Persisted cached
// values survive; Initialize rebuilds the subscriptions.
func (s *Service) Clear() {
	s.mu.Lock()
	active := s.active
	s.active = make(map[string]*activeField)
	s.mu.Unlock()
	for _, af := range active {
		af.sub.Unsubscribe()
	}
}

// Close is Clear under a lifecycle name.
func (s *Service) Close() { s.Clear() }

func (s *Service) ensureActive(ctx context.Context, id string) (*activeField, error) {
	s.mu.Lock()
	af, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		return af, nil
	}
	node, err := s.backend.FindNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &graph.NotFoundError{Kind: "computed field", Ref: id}
	}
	def, err := definitionOf(node)
	if err != nil {
		return nil, err
	}
	return s.activate(ctx, id, *def)
}

// activate subscribes the field's query and seeds the value from the
// subscription's baseline. Re-activating an already-active field is a no-op.
func (s *Service) activate(ctx context.Context, id string, def Definition) (*activeField, error) {
	s.mu.Lock()
	if af, ok := s.active[id]; ok {
		s.mu.Unlock()
		return af, nil
	}
	s.mu.Unlock()

	af := &activeField{nodeID: id, def: def}
	sub, err := s.registry.Subscribe(ctx, def.Query, func(res *graph.QueryResult) {
		value := s.aggregate(af.def, res)
		s.applyValue(context.Background(), af, value)
	})
	if err != nil {
		return nil, err
	}
	af.sub = sub

	s.mu.Lock()
	if existing, ok := s.active[id]; ok {
		s.mu.Unlock()
		sub.Unsubscribe()
		return existing, nil
	}
	s.active[id] = af
	s.mu.Unlock()

	s.applyValue(ctx, af, s.aggregate(def, sub.GetLastResults()))
	return af, nil
}

// applyValue stores a freshly computed value. When it differs from the last
// one it is persisted onto the node and listeners fire; a failing or
// panicking listener never blocks the rest.
func (s *Service) applyValue(ctx context.Context, af *activeField, value *float64) {
	af.mu.Lock()
	changed := !sameValue(af.value, value)
	af.value = value
	var listeners []Listener
	if changed {
		for _, fn := range af.listeners {
			listeners = append(listeners, fn)
		}
	}
	af.mu.Unlock()
	if !changed {
		return
	}

	if err := s.persistValue(ctx, af.nodeID, value); err != nil {
		s.log.Error("failed to persist computed value", "node", af.nodeID, "error", err)
	}
	for _, fn := range listeners {
		s.invoke(af.nodeID, fn, value)
	}
}

func (s *Service) invoke(nodeID string, fn Listener, value *float64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("computed value listener panicked", "node", nodeID, "panic", r)
		}
	}()
	fn(value)
}

func (s *Service) persistValue(ctx context.Context, nodeID string, value *float64) error {
	field, err := s.systemNode(ctx, graph.FieldComputedValue)
	if err != nil {
		return err
	}
	if value == nil {
		return s.backend.ClearProperty(ctx, nodeID, field.ID)
	}
	return s.backend.SetProperty(ctx, nodeID, field.ID, graph.Scalar(*value), 0)
}

// aggregate folds a result set. COUNT is the matched-node count before any
// limit truncation, zero included. The others need a source field: each
// returned node contributes its first value that parses to a finite number;
// when no node contributes, the result is nil rather than zero.
func (s *Service) aggregate(def Definition, res *graph.QueryResult) *float64 {
	if def.Aggregation == AggCount {
		v := float64(res.TotalCount)
		return &v
	}
	if def.FieldSystemID == "" {
		s.log.Warn("aggregation requires a field but none is configured",
			"aggregation", string(def.Aggregation))
		return nil
	}

	var nums []float64
	for i := range res.Nodes {
		for _, p := range res.Nodes[i].PropertiesBySystemID(def.FieldSystemID) {
			n, ok := p.Value.Number()
			if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
				continue
			}
			nums = append(nums, n)
			break
		}
	}
	if len(nums) == 0 {
		return nil
	}

	var out float64
	switch def.Aggregation {
	case AggSum, AggAvg:
		for _, n := range nums {
			out += n
		}
		if def.Aggregation == AggAvg {
			out /= float64(len(nums))
		}
	case AggMin:
		out = nums[0]
		for _, n := range nums[1:] {
			if n < out {
				out = n
			}
		}
	case AggMax:
		out = nums[0]
		for _, n := range nums[1:] {
			if n > out {
				out = n
			}
		}
	}
	return &out
}

func (s *Service) systemNode(ctx context.Context, systemID string) (*graph.AssembledNode, error) {
	node, err := s.backend.FindNodeBySystemID(ctx, systemID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, graph.Validationf("system node %s missing: run init first", systemID)
	}
	return node, nil
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func encodeDefinition(def Definition) (graph.PropertyValue, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return graph.PropertyValue{}, fmt.Errorf("encoding computed definition: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return graph.PropertyValue{}, err
	}
	return graph.Scalar(decoded), nil
}

// definitionOf reads the stored definition off a computed-field node.
func definitionOf(node *graph.AssembledNode) (*Definition, error) {
	props := node.PropertiesBySystemID(graph.FieldComputedDef)
	if len(props) == 0 {
		return nil, graph.Validationf("node %s has no computed definition", node.ID)
	}
	if props[0].Value.Kind != graph.KindScalar {
		return nil, graph.Validationf("computed definition of %s is not a scalar", node.ID)
	}
	raw, err := json.Marshal(props[0].Value.Scalar)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decoding computed definition of %s: %w", node.ID, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
