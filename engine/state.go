package engine

import (
	"context"
	"time"
)

// Status is the lifecycle phase of a query entry.
type Status string

const (
	// StatusPending means no fetch has completed yet.
	StatusPending Status = "pending"

	// StatusSuccess means the entry holds data from a completed fetch.
	StatusSuccess Status = "success"

	// StatusError means the last fetch failed before any data arrived.
	StatusError Status = "error"
)

// QueryState is the observable state of a cache entry. For infinite queries
// Data holds an InfiniteData value.
type QueryState struct {
	Status        Status
	Data          any
	Error         error
	DataUpdatedAt time.Time
	IsFetching    bool
	IsInvalidated bool
}

// HasData reports whether the entry has ever been populated. An entry keeps
// its data through later fetch errors; Error is set alongside the stale data
// in that case.
func (s QueryState) HasData() bool {
	return !s.DataUpdatedAt.IsZero()
}

// InfiniteData accumulates the pages of a paginated query together with the
// cursor each page was fetched with.
type InfiniteData struct {
	Pages   []any
	Cursors []any
}

// MutationState is the observable state of a mutation binding.
type MutationState struct {
	Status Status
	Data   any
	Error  error
}

// Listener observes state transitions of a query entry.
type Listener func(QueryState)

// Query is a reactive read binding: one call-site's view of a cache entry.
// Its lifetime is bounded by the owning component; Close detaches its
// observers without touching the underlying entry.
type Query interface {
	State() QueryState
	Subscribe(l Listener) (unsubscribe func())

	// Mount runs the fetch-on-mount decision: fetch when the entry has no
	// data, was invalidated, or its data is older than the binding's stale
	// time (unless refetch-on-mount is disabled).
	Mount(ctx context.Context) error

	// Refetch forces a fresh fetch regardless of staleness.
	Refetch(ctx context.Context) error

	// UpdateOptions replaces the binding's per-call options; nil fields
	// keep their current value. Used by the hydration step to relax an
	// artificially long stale time after mount.
	UpdateOptions(opts QueryOptions)

	Close()
}

// InfiniteQuery is a reactive paginated read binding.
type InfiniteQuery interface {
	State() QueryState
	Subscribe(l Listener) (unsubscribe func())
	Mount(ctx context.Context) error
	FetchNextPage(ctx context.Context) error
	Refetch(ctx context.Context) error
	UpdateOptions(opts QueryOptions)
	Close()
}

// Mutation is a reactive write binding.
type Mutation interface {
	Mutate(ctx context.Context, input any) (any, error)
	State() MutationState
	Subscribe(l func(MutationState)) (unsubscribe func())
	Close()
}

// Queries tracks a batch of query bindings jointly, optionally folding their
// states through a CombineFn.
type Queries interface {
	States() []QueryState
	Combined() any
	Subscribe(l func(states []QueryState)) (unsubscribe func())

	// Len and At expose the constituent bindings in descriptor order.
	Len() int
	At(i int) Query

	// Mount mounts every constituent binding concurrently and waits for
	// all of them to settle.
	Mount(ctx context.Context) error

	Close()
}
