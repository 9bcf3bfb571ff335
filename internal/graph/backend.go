package graph

import "context"

// EventKind classifies a store mutation for subscribers.
type EventKind string

const (
	EventNodeCreated     EventKind = "node_created"
	EventNodeUpdated     EventKind = "node_updated"
	EventNodeDeleted     EventKind = "node_deleted"
	EventPropertyChanged EventKind = "property_changed"
	EventSupertagChanged EventKind = "supertag_changed"
)

// MutationEvent is emitted after each successful write. The event carries the
// node id only; subscribers re-read through the public contract so they never
// hold stale node objects.
type MutationEvent struct {
	Kind   EventKind
	NodeID string
}

// Source is the read view the query engine needs: every non-deleted node,
// fully assembled. Both backends satisfy it.
type Source interface {
	AllNodes(ctx context.Context) ([]AssembledNode, error)
}

// NodeBackend is the uniform storage contract. The relational (sqlite) and
// graph-native (memstore) engines both implement it; everything above this
// seam is storage-agnostic.
//
// Write paths that reference a missing node/field raise NotFoundError.
// Idempotent toggles and read paths signal "absent" with false/nil instead.
type NodeBackend interface {
	Source

	// Init bootstraps schema and system nodes. Idempotent: system rows are
	// upserted by system id, so running it twice duplicates nothing.
	Init(ctx context.Context) error
	// Save flushes buffered state. No-op for engines that persist every write.
	Save(ctx context.Context) error
	Close() error

	CreateNode(ctx context.Context, opts CreateNodeOptions) (string, error)
	FindNodeByID(ctx context.Context, id string) (*AssembledNode, error)
	FindNodeBySystemID(ctx context.Context, systemID string) (*AssembledNode, error)
	UpdateNodeContent(ctx context.Context, id, content string) error
	// DeleteNode soft-deletes: sets deleted_at, never removes rows.
	DeleteNode(ctx context.Context, id string) error

	// SetProperty replaces every (node, field) edge with a single new one.
	SetProperty(ctx context.Context, nodeID, fieldID string, value PropertyValue, order int) error
	// AddPropertyValue appends an edge with order = max(existing)+1.
	AddPropertyValue(ctx context.Context, nodeID, fieldID string, value PropertyValue) error
	ClearProperty(ctx context.Context, nodeID, fieldID string) error
	// LinkNodes stores toID as a reference value under fieldID, replacing or
	// appending per appendValue.
	LinkNodes(ctx context.Context, fromID, fieldID, toID string, appendValue bool) error

	// AddNodeSupertag returns false without writing when the assignment
	// already exists or either endpoint is missing; RemoveNodeSupertag
	// mirrors that for absent assignments.
	AddNodeSupertag(ctx context.Context, nodeID, supertagID string) (bool, error)
	RemoveNodeSupertag(ctx context.Context, nodeID, supertagID string) (bool, error)

	// GetNodesBySupertags returns nodes carrying at least one (matchAll
	// false) or all (matchAll true) of the given supertag ids.
	GetNodesBySupertags(ctx context.Context, supertagIDs []string, matchAll bool) ([]AssembledNode, error)
	// GetAncestorSupertags walks extends edges breadth-first, closest first.
	// Cycles and maxDepth truncate the walk silently.
	GetAncestorSupertags(ctx context.Context, supertagID string, maxDepth int) ([]SupertagRef, error)
	// GetSupertagFieldDefinitions returns the fields declared directly on
	// one supertag, keyed by field name. Ancestor merging is the caller's job.
	GetSupertagFieldDefinitions(ctx context.Context, supertagID string) (map[string]FieldDefinition, error)

	AssembleNode(ctx context.Context, id string) (*AssembledNode, error)
	AssembleNodeWithInheritance(ctx context.Context, id string) (*AssembledNode, error)

	EvaluateQuery(ctx context.Context, def QueryDefinition) (*QueryResult, error)

	// SetEventEmitter registers the mutation sink. At most one emitter is
	// active; passing nil detaches it.
	SetEventEmitter(emit func(MutationEvent))
}

// DefaultMaxAncestorDepth caps extends-chain walks.
const DefaultMaxAncestorDepth = 20
