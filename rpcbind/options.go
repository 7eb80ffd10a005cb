package rpcbind

import (
	"time"

	"github.com/goliatone/go-rpc-query/engine"
)

// callConfig is the resolved per-dispatch configuration: engine options plus
// binder-level concerns (lifecycle, abort-on-unmount, SSR participation).
type callConfig struct {
	query          engine.QueryOptions
	abortOnUnmount bool
	lifecycle      Lifecycle
	ssr            bool
	optionsStore   *Store

	// infinite-query extras; ignored by other dispatches
	initialCursor any
	nextCursor    func(lastPage any) (any, bool)

	// subscription extras
	enabled bool
}

// QueryOption customizes a single dispatch. Options that do not apply to the
// dispatch kind are ignored.
type QueryOption func(*callConfig)

// WithStaleTime sets how long fetched data stays fresh for this binding.
func WithStaleTime(d time.Duration) QueryOption {
	return func(c *callConfig) { c.query.StaleTime = engine.Duration(d) }
}

// WithEnabled gates the binding; a disabled binding (or subscription) never
// starts on mount.
func WithEnabled(enabled bool) QueryOption {
	return func(c *callConfig) {
		c.query.Enabled = engine.Bool(enabled)
		c.enabled = enabled
	}
}

// WithRefetchOnMount overrides whether stale data triggers a fetch at mount.
func WithRefetchOnMount(refetch bool) QueryOption {
	return func(c *callConfig) { c.query.RefetchOnMount = engine.Bool(refetch) }
}

// WithInitialData seeds the cache entry before the first fetch.
func WithInitialData(data any) QueryOption {
	return func(c *callConfig) { c.query.InitialData = data }
}

// WithAbortOnUnmount overrides the binder-wide abort-on-unmount default for
// this call. When enabled, the context forwarded to the RPC client is
// cancelled at cleanup.
func WithAbortOnUnmount(abort bool) QueryOption {
	return func(c *callConfig) { c.abortOnUnmount = abort }
}

// WithCallLifecycle overrides the lifecycle for this call. Takes precedence
// over a context-attached lifecycle and the binder default.
func WithCallLifecycle(lc Lifecycle) QueryOption {
	return func(c *callConfig) {
		if lc != nil {
			c.lifecycle = lc
		}
	}
}

// WithoutSSR opts a server-side dispatch out of prefetching; the resumed
// client binding fetches normally.
func WithoutSSR() QueryOption {
	return func(c *callConfig) { c.ssr = false }
}

// WithReactiveOptions attaches a Store of engine.QueryOptions; option
// changes are applied to the live binding without recreating it.
func WithReactiveOptions(s *Store) QueryOption {
	return func(c *callConfig) { c.optionsStore = s }
}

// WithInitialCursor sets the cursor for the first page of an infinite query.
func WithInitialCursor(cursor any) QueryOption {
	return func(c *callConfig) { c.initialCursor = cursor }
}

// WithNextCursor sets how the next page's cursor is derived from the last
// fetched page. Without it, FetchNextPage fails.
func WithNextCursor(fn func(lastPage any) (cursor any, ok bool)) QueryOption {
	return func(c *callConfig) { c.nextCursor = fn }
}

// MutationOption customizes a mutation dispatch.
type MutationOption func(*engine.MutationOptions)

// OnSuccess runs after a successful mutation.
func OnSuccess(fn func(data any, input any)) MutationOption {
	return func(o *engine.MutationOptions) { o.OnSuccess = fn }
}

// OnError runs after a failed mutation.
func OnError(fn func(err error, input any)) MutationOption {
	return func(o *engine.MutationOptions) { o.OnError = fn }
}

// OnSettled runs after every mutation, success or failure.
func OnSettled(fn func(data any, err error, input any)) MutationOption {
	return func(o *engine.MutationOptions) { o.OnSettled = fn }
}
