package rpcbind

import (
	"context"

	"github.com/goliatone/go-rpc-query/engine"
	"github.com/goliatone/go-rpc-query/querykey"
)

// Utils mirrors the procedure tree but exposes cache-control operations
// instead of reactive bindings. Navigation accumulates a path exactly like
// Procedure; every operation derives its key fresh from that path plus the
// per-call input.
//
// Bulk operations (Invalidate, Refetch, Reset, Cancel, IsMutating) take an
// optional input: omitted, the derived key is a bare path prefix and the
// operation applies to every cached entry under the path, including inputs
// the caller never enumerated.
type Utils struct {
	b    *Binder
	path []string
}

// Path returns a Utils handle deeper in the tree. Segments may be dotted
// fragments.
func (u *Utils) Path(segments ...string) *Utils {
	path := make([]string, 0, len(u.path)+len(segments))
	path = append(path, u.path...)
	path = append(path, segments...)
	return &Utils{b: u.b, path: querykey.SplitPath(path)}
}

// Client returns the raw RPC client, escaping the utils tree. Available at
// any depth; an intentional escape hatch.
func (u *Utils) Client() Client {
	return u.b.cfg.Client
}

func (u *Utils) proc() *Procedure {
	return &Procedure{b: u.b, path: u.path}
}

// queryKey derives a typed key for the current path.
func (u *Utils) queryKey(input any, access querykey.AccessType) querykey.Key {
	return querykey.Derive(u.path, input, access)
}

// filterKey derives the untyped filter key: bare path when no input is
// given, input-qualified otherwise.
func (u *Utils) filterKey(input []any) querykey.Key {
	return u.queryKey(first(input), querykey.TypeAny)
}

func first(input []any) any {
	if len(input) == 0 {
		return nil
	}
	return input[0]
}

// Fetch runs the procedure through the cache's read-through path and returns
// the result, fetching only when the entry is missing or stale.
func (u *Utils) Fetch(ctx context.Context, input any) (any, error) {
	return u.b.cfg.Engine.FetchQuery(ctx, engine.FetchSpec{
		Key:   u.queryKey(input, querykey.TypeQuery),
		Fetch: u.proc().fetchFn(input),
	})
}

// Prefetch populates the entry; failures are captured in the entry's error
// state rather than returned.
func (u *Utils) Prefetch(ctx context.Context, input any) {
	u.b.cfg.Engine.PrefetchQuery(ctx, engine.FetchSpec{
		Key:   u.queryKey(input, querykey.TypeQuery),
		Fetch: u.proc().fetchFn(input),
	})
}

// FetchInfinite fetches the first page of a paginated read.
func (u *Utils) FetchInfinite(ctx context.Context, input any, opts ...QueryOption) (engine.InfiniteData, error) {
	cfg := u.b.callConfig(ctx, opts)
	return u.b.cfg.Engine.FetchInfiniteQuery(ctx, engine.InfiniteSpec{
		Key:           u.queryKey(input, querykey.TypeInfinite),
		FetchPage:     u.proc().pageFetchFn(input),
		InitialCursor: cfg.initialCursor,
		NextCursor:    cfg.nextCursor,
	})
}

// PrefetchInfinite populates the first page; failures land in the entry's
// error state.
func (u *Utils) PrefetchInfinite(ctx context.Context, input any, opts ...QueryOption) {
	cfg := u.b.callConfig(ctx, opts)
	u.b.cfg.Engine.PrefetchInfiniteQuery(ctx, engine.InfiniteSpec{
		Key:           u.queryKey(input, querykey.TypeInfinite),
		FetchPage:     u.proc().pageFetchFn(input),
		InitialCursor: cfg.initialCursor,
		NextCursor:    cfg.nextCursor,
	})
}

// EnsureData returns the cached value when present, fetching otherwise.
func (u *Utils) EnsureData(ctx context.Context, input any) (any, error) {
	return u.b.cfg.Engine.EnsureQueryData(ctx, engine.FetchSpec{
		Key:   u.queryKey(input, querykey.TypeQuery),
		Fetch: u.proc().fetchFn(input),
	})
}

// Invalidate marks entries under this path stale and refetches the actively
// observed ones. With no input every entry under the path is invalidated.
func (u *Utils) Invalidate(ctx context.Context, input ...any) error {
	return u.b.cfg.Engine.InvalidateQueries(ctx, engine.Filter{Key: u.filterKey(input)})
}

// Refetch force-fetches matching entries and waits for all to settle.
func (u *Utils) Refetch(ctx context.Context, input ...any) error {
	return u.b.cfg.Engine.RefetchQueries(ctx, engine.Filter{Key: u.filterKey(input)})
}

// Reset returns matching entries to their pristine pending state.
func (u *Utils) Reset(ctx context.Context, input ...any) error {
	return u.b.cfg.Engine.ResetQueries(ctx, engine.Filter{Key: u.filterKey(input)})
}

// Cancel aborts in-flight fetches for matching entries. Cancellation is not
// an error state.
func (u *Utils) Cancel(ctx context.Context, input ...any) error {
	return u.b.cfg.Engine.CancelQueries(ctx, engine.Filter{Key: u.filterKey(input)})
}

// SetData seeds or replaces the cached value for this path and input.
func (u *Utils) SetData(input any, value any) {
	u.b.cfg.Engine.SetQueryData(u.queryKey(input, querykey.TypeQuery), value)
}

// GetData returns the cached value for this path and input.
func (u *Utils) GetData(input any) (any, bool) {
	return u.b.cfg.Engine.GetQueryData(u.queryKey(input, querykey.TypeQuery))
}

// SetInfiniteData seeds or replaces the accumulated pages for this path and
// input.
func (u *Utils) SetInfiniteData(input any, data engine.InfiniteData) {
	u.b.cfg.Engine.SetInfiniteData(u.queryKey(input, querykey.TypeInfinite), data)
}

// GetInfiniteData returns the accumulated pages for this path and input.
func (u *Utils) GetInfiniteData(input any) (engine.InfiniteData, bool) {
	return u.b.cfg.Engine.GetInfiniteData(u.queryKey(input, querykey.TypeInfinite))
}

// SetMutationDefaults registers default callbacks for mutations of this
// path; they fill slots individual mutation calls leave unset.
func (u *Utils) SetMutationDefaults(opts engine.MutationOptions) {
	u.b.cfg.Engine.SetMutationDefaults(u.queryKey(nil, querykey.TypeAny), opts)
}

// GetMutationDefaults returns the registered mutation defaults for this
// path.
func (u *Utils) GetMutationDefaults() (engine.MutationOptions, bool) {
	return u.b.cfg.Engine.GetMutationDefaults(u.queryKey(nil, querykey.TypeAny))
}

// IsMutating counts in-flight mutations under this path.
func (u *Utils) IsMutating() int {
	return u.b.cfg.Engine.IsMutating(engine.Filter{Key: u.queryKey(nil, querykey.TypeAny)})
}
