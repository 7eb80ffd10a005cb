package engine

import (
	"context"

	"github.com/goliatone/go-rpc-query/querykey"
)

// FetchFn is the data-source closure bound into a query entry. It is expected
// to call the remote procedure and return its result.
type FetchFn func(ctx context.Context) (any, error)

// PageFetchFn fetches one page of a paginated query for the given cursor.
type PageFetchFn func(ctx context.Context, cursor any) (any, error)

// MutateFn executes a write-style remote procedure.
type MutateFn func(ctx context.Context, input any) (any, error)

// CombineFn folds the states of a batch of queries into a single derived
// value.
type CombineFn func(states []QueryState) any

// FetchSpec describes a single-shot read: its cache key, the data source to
// populate it, and per-call options.
type FetchSpec struct {
	Key     querykey.Key
	Fetch   FetchFn
	Options QueryOptions
}

// InfiniteSpec describes a paginated read. FetchPage is invoked with
// InitialCursor for the first page; NextCursor, when provided, derives the
// cursor for FetchNextPage from the last fetched page.
type InfiniteSpec struct {
	Key           querykey.Key
	FetchPage     PageFetchFn
	InitialCursor any
	NextCursor    func(lastPage any) (any, bool)
	Options       QueryOptions
}

// MutationSpec describes a write binding. Mutations are keyed by bare
// procedure path; they are actions, not cacheable reads.
type MutationSpec struct {
	Key     querykey.Key
	Mutate  MutateFn
	Options MutationOptions
}

// Filter selects cache entries for bulk operations. The key is matched as a
// structural prefix (querykey.Key.Matches); the zero Filter selects every
// entry.
type Filter struct {
	Key querykey.Key
}

// EntrySnapshot is a point-in-time view of a cache entry, used by the server
// prefetch coordinator to decide whether a key is already warm.
type EntrySnapshot struct {
	Key   querykey.Key
	State QueryState
}

// Warm reports whether the entry holds usable data: it has been populated at
// least once and has not been invalidated since.
func (s EntrySnapshot) Warm() bool {
	return !s.State.DataUpdatedAt.IsZero() && !s.State.IsInvalidated
}

// Engine is the reactive cache collaborator consumed by the binding layer.
// It owns entry storage, staleness bookkeeping, fetch deduplication and
// observer notification. All methods are safe for concurrent use.
//
// Fetch and Prefetch differ in error handling: Fetch variants return the
// fetch error to the caller, Prefetch variants capture it in the entry's
// error state and return normally, matching how server-side prefetch
// failures are surfaced to resumed client bindings.
type Engine interface {
	FetchQuery(ctx context.Context, spec FetchSpec) (any, error)
	PrefetchQuery(ctx context.Context, spec FetchSpec)
	FetchInfiniteQuery(ctx context.Context, spec InfiniteSpec) (InfiniteData, error)
	PrefetchInfiniteQuery(ctx context.Context, spec InfiniteSpec)
	EnsureQueryData(ctx context.Context, spec FetchSpec) (any, error)

	InvalidateQueries(ctx context.Context, f Filter) error
	RefetchQueries(ctx context.Context, f Filter) error
	ResetQueries(ctx context.Context, f Filter) error
	CancelQueries(ctx context.Context, f Filter) error

	SetQueryData(key querykey.Key, value any)
	GetQueryData(key querykey.Key) (any, bool)
	SetInfiniteData(key querykey.Key, data InfiniteData)
	GetInfiniteData(key querykey.Key) (InfiniteData, bool)

	Find(key querykey.Key) (EntrySnapshot, bool)

	CreateQuery(spec FetchSpec) Query
	CreateInfiniteQuery(spec InfiniteSpec) InfiniteQuery
	CreateMutation(spec MutationSpec) Mutation
	CreateQueries(specs []FetchSpec, combine CombineFn) Queries

	SetMutationDefaults(key querykey.Key, opts MutationOptions)
	GetMutationDefaults(key querykey.Key) (MutationOptions, bool)
	IsMutating(f Filter) int

	Defaults() QueryOptions
}
