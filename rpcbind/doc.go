// Package rpcbind exposes an RPC client's procedure tree as cache-backed,
// observable bindings.
//
// # Overview
//
// A Binder wraps a Client (the transport) and an engine.Engine (the cache).
// Procedure values are immutable path accumulators: each Child call extends
// the path, and the leaf factories (CreateQuery, CreateInfiniteQuery,
// CreateMutation, CreateSubscription) derive a cache key from the
// accumulated path plus the call input and hand the fetch closure to the
// engine.
//
//	b, _ := rpcbind.New(rpcbind.Config{Client: client, Engine: eng})
//	q, _ := b.Procedure("users", "getById").CreateQuery(ctx, 42)
//
// # Registry
//
// Dispatch validation is optional. With a Registry configured, the binder
// checks every dispatch against the leaf's registered kind and rejects
// mismatches (CreateMutation on a query leaf, an infinite query on a leaf
// not registered as paginated) before any key is derived. Without one, the
// binder trusts the caller and errors surface from the server at call time.
//
// # Lifecycle
//
// Bindings do not assume a host framework. Mount and teardown are driven by
// a Lifecycle the host provides, per call (WithCallLifecycle), per context
// (WithLifecycle) or per binder (Config.Lifecycle). The default mounts
// synchronously at creation, which suits plain Go callers and tests;
// ManualLifecycle lets a host defer mounting until its own render cycle
// settles.
//
// # Server prefetch
//
// CreateServerQuery and CreateServerQueries run the prefetch decision on the
// server: keys already warm in the cache are skipped, everything else is
// fetched before rendering finishes. The returned factories Resume on the
// client under a long hydration staleness window that relaxes to the
// caller's configured staleness after mount, so hydration never repeats the
// server's fetch.
//
// # Cache control
//
// CreateUtils returns the same path-accumulating access to the cache's
// imperative surface: fetch, prefetch, invalidation, refetch, reset and
// direct reads and writes, all scoped to the utils value's path prefix.
package rpcbind
