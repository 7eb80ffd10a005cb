// Package engine implements the reactive cache the binding layer builds on.
//
// # Overview
//
// The Engine interface covers three concerns:
//
//   - read-through fetching (FetchQuery, PrefetchQuery, EnsureQueryData and
//     their infinite variants) keyed by querykey.Key
//   - bulk cache control (InvalidateQueries, RefetchQueries, ResetQueries,
//     CancelQueries) over structural key-prefix filters
//   - reactive bindings (CreateQuery, CreateInfiniteQuery, CreateMutation,
//     CreateQueries) that let call sites observe entry state transitions
//
// The default implementation, constructed by New, stores values in a sturdyc
// client. Capacity, TTL eviction, early refresh and fetch stampede
// protection belong to the store; this package adds entry states (status,
// error, invalidation, staleness timestamps) and observer notification on
// top. Entry metadata lives in xsync maps, which also serve as the key
// registry that prefix-filtered bulk operations walk.
//
// # Staleness vs. eviction
//
// These are independent. A binding's StaleTime decides when a mount triggers
// a background refetch; the store's TTL decides when a value is garbage
// collected. Data can be stale long before it is evicted, and bindings keep
// serving it while a refetch is in flight.
//
// # Error channel
//
// Fetch errors are recorded on the entry and surfaced through QueryState;
// prefetch variants swallow the return so server-side prefetch failures are
// observed by resumed client bindings like any other failed query.
// Cancellation is not an error state: an aborted fetch leaves the entry as
// it was.
package engine
