// Package subscribe keeps live query results current. A Registry attaches to
// a backend's mutation stream and re-evaluates a subscription's query when a
// mutation could plausibly have changed its result set, invoking the
// subscriber callback only when the result actually differs.
package subscribe

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"toolgraph/internal/graph"
)

// Callback receives the fresh result after a subscription's query changes.
// Callbacks run synchronously on the mutating goroutine and may re-enter the
// store; they must not block for long.
type Callback func(res *graph.QueryResult)

// Registry fans mutation events out to active subscriptions.
type Registry struct {
	backend graph.NodeBackend
	log     *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewRegistry wires the registry into the backend's event stream. At most
// one registry should be attached per backend.
func NewRegistry(backend graph.NodeBackend, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		backend: backend,
		log:     log,
		subs:    make(map[string]*Subscription),
	}
	backend.SetEventEmitter(r.handleMutation)
	return r
}

// Close detaches the registry from the backend and drops all subscriptions.
func (r *Registry) Close() {
	r.backend.SetEventEmitter(nil)
	r.mu.Lock()
	for id, sub := range r.subs {
		sub.markDone()
		delete(r.subs, id)
	}
	r.mu.Unlock()
}

// Subscribe evaluates def immediately to establish the baseline result and
// registers for change notifications. The baseline is available via
// GetLastResults right away; the callback fires only on later changes.
func (r *Registry) Subscribe(ctx context.Context, def graph.QueryDefinition, cb Callback) (*Subscription, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	baseline, err := r.backend.EvaluateQuery(ctx, def)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:       uuid.NewString(),
		registry: r,
		def:      def,
		cb:       cb,
		last:     baseline,
		lastIDs:  baseline.IDs(),
	}
	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()
	return sub, nil
}

// Active reports how many subscriptions are currently registered.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// handleMutation decides, per subscription, whether the mutated node could
// have entered or left the result set. The check errs toward re-evaluating:
// a node already in the last result may have changed or vanished, and a node
// outside it may now match. Only when both are false is the event skipped.
func (r *Registry) handleMutation(ev graph.MutationEvent) {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	ctx := context.Background()
	for _, sub := range subs {
		relevant, err := r.couldAffect(ctx, sub, ev)
		if err != nil {
			r.log.Error("staleness check failed", "subscription", sub.id, "node", ev.NodeID, "error", err)
			relevant = true
		}
		if !relevant {
			continue
		}
		if err := r.refresh(ctx, sub); err != nil {
			r.log.Error("query re-evaluation failed", "subscription", sub.id, "error", err)
		}
	}
}

func (r *Registry) couldAffect(ctx context.Context, sub *Subscription, ev graph.MutationEvent) (bool, error) {
	if sub.inLastResult(ev.NodeID) {
		return true, nil
	}
	return graph.MatchesNode(ctx, r.backend, sub.def, ev.NodeID)
}

// refresh re-runs the query and fires the callback when the result changed.
// Without an explicit sort the node order is storage-defined, so only set
// membership is compared; with a sort, order changes count as changes too.
func (r *Registry) refresh(ctx context.Context, sub *Subscription) error {
	res, err := r.backend.EvaluateQuery(ctx, sub.def)
	if err != nil {
		return err
	}
	changed, cb := sub.update(res)
	if changed && cb != nil {
		cb(res)
	}
	return nil
}

// Subscription is one live query registration.
type Subscription struct {
	id       string
	registry *Registry
	def      graph.QueryDefinition
	cb       Callback

	mu      sync.Mutex
	last    *graph.QueryResult
	lastIDs []string
	done    bool
}

// ID returns the subscription's opaque identifier.
func (s *Subscription) ID() string { return s.id }

// GetLastResults returns the most recent evaluation without touching storage.
func (s *Subscription) GetLastResults() *graph.QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	s.registry.remove(s.id)
}

func (s *Subscription) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *Subscription) inLastResult(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.lastIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// update stores the new result and reports whether it differs from the last
// one, returning the callback to invoke outside the lock.
func (s *Subscription) update(res *graph.QueryResult) (bool, Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false, nil
	}
	ids := res.IDs()
	changed := resultChanged(s.lastIDs, ids, s.def.Sort != nil)
	s.last = res
	s.lastIDs = ids
	return changed, s.cb
}

func resultChanged(prev, next []string, ordered bool) bool {
	if len(prev) != len(next) {
		return true
	}
	if ordered {
		for i := range prev {
			if prev[i] != next[i] {
				return true
			}
		}
		return false
	}
	seen := make(map[string]bool, len(prev))
	for _, id := range prev {
		seen[id] = true
	}
	for _, id := range next {
		if !seen[id] {
			return true
		}
	}
	return false
}
