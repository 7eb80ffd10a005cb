package rpcbind

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-rpc-query/engine"
	"github.com/goliatone/go-rpc-query/querykey"
)

// Config wires a Binder to its collaborators.
type Config struct {
	// Client is the RPC transport whose procedures are being bound.
	Client Client

	// Engine is the reactive cache instance shared by every binding this
	// binder produces.
	Engine engine.Engine

	// Registry optionally describes the procedure tree. With one,
	// kind-mismatched dispatches fail at dispatch time; without one they
	// fail lazily at the RPC boundary.
	Registry *Registry

	// KeySerializer is used for the binder's own key bookkeeping (e.g.
	// tracking which batch descriptors were prefetched). Defaults to
	// querykey.NewDefaultSerializer.
	KeySerializer querykey.Serializer

	// AbortOnUnmount makes bindings cancel their in-flight RPC call at
	// cleanup. Overridable per call with WithAbortOnUnmount.
	AbortOnUnmount bool

	// Lifecycle supplies mount/cleanup hooks for bindings. Defaults to an
	// immediate lifecycle: mount runs synchronously, cleanup never fires.
	Lifecycle Lifecycle
}

// Validate checks whether the configuration is usable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Client, validation.Required),
		validation.Field(&c.Engine, validation.Required),
	)
}

// Binder is the root of the bound procedure tree. Navigating paths off it is
// lazy and unvalidated; only terminal dispatches touch the RPC client or the
// cache engine.
type Binder struct {
	cfg Config
}

// New creates a Binder from the configuration.
func New(cfg Config) (*Binder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeySerializer == nil {
		cfg.KeySerializer = querykey.NewDefaultSerializer()
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = immediateLifecycle{}
	}
	return &Binder{cfg: cfg}, nil
}

// Client returns the raw RPC client, escaping the binding layer.
func (b *Binder) Client() Client {
	return b.cfg.Client
}

// Engine returns the shared cache engine.
func (b *Binder) Engine() engine.Engine {
	return b.cfg.Engine
}

// Procedure returns a handle for the given path. Segments may be individual
// names or dotted fragments ("users", "getById" and "users.getById" are the
// same path). The path is not validated here; an unknown path surfaces when
// a terminal dispatch resolves it.
func (b *Binder) Procedure(path ...string) *Procedure {
	return &Procedure{b: b, path: querykey.SplitPath(path)}
}

// CreateUtils returns the cache-control mirror of the procedure tree,
// rooted at the top. Utils operate on path prefixes computed per call, which
// is why they are only obtainable at the root.
func (b *Binder) CreateUtils() *Utils {
	return &Utils{b: b}
}

// CreateContext is the deprecated name for CreateUtils, retained for
// compatibility with callers of the old API.
//
// Deprecated: use CreateUtils.
func (b *Binder) CreateContext() *Utils {
	return b.CreateUtils()
}

// callConfig resolves per-dispatch configuration: binder defaults, then a
// context-attached lifecycle, then explicit options.
func (b *Binder) callConfig(ctx context.Context, opts []QueryOption) callConfig {
	cfg := callConfig{
		abortOnUnmount: b.cfg.AbortOnUnmount,
		lifecycle:      b.cfg.Lifecycle,
		ssr:            true,
		enabled:        true,
	}
	if lc := lifecycleFromContext(ctx); lc != nil {
		cfg.lifecycle = lc
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Procedure is an immutable path accumulator pointing into the procedure
// tree. It records navigation only; every descent returns a new handle.
type Procedure struct {
	b    *Binder
	path []string
}

// Child returns the handle one level deeper.
func (p *Procedure) Child(name string) *Procedure {
	path := make([]string, 0, len(p.path)+1)
	path = append(path, p.path...)
	return &Procedure{b: p.b, path: querykey.SplitPath(append(path, name))}
}

// Path returns a copy of the accumulated path segments.
func (p *Procedure) Path() []string {
	return append([]string(nil), p.path...)
}

func (p *Procedure) dotted() string {
	return strings.Join(p.path, querykey.PathSeparator)
}

// GetQueryKey derives the cache key a single-shot read of this procedure
// with the given input would use. Pass nil for an input-less key.
func (p *Procedure) GetQueryKey(input any) querykey.Key {
	return querykey.Derive(p.path, input, querykey.TypeQuery)
}

// GetInfiniteQueryKey derives the cache key a paginated read would use;
// pagination fields are stripped from the input.
func (p *Procedure) GetInfiniteQueryKey(input any) querykey.Key {
	return querykey.Derive(p.path, input, querykey.TypeInfinite)
}

// PathKey derives the untyped, input-less key for this path: the prefix that
// matches every cached entry under it.
func (p *Procedure) PathKey() querykey.Key {
	return querykey.Derive(p.path, nil, querykey.TypeAny)
}

// fetchFn closes over the path and input as the entry's data source.
func (p *Procedure) fetchFn(input any) engine.FetchFn {
	client := p.b.cfg.Client
	path := p.dotted()
	return func(ctx context.Context) (any, error) {
		return client.Query(ctx, path, input)
	}
}

// pageFetchFn closes over the path and base input; the cursor is merged into
// the input per page.
func (p *Procedure) pageFetchFn(input any) engine.PageFetchFn {
	client := p.b.cfg.Client
	path := p.dotted()
	return func(ctx context.Context, cursor any) (any, error) {
		return client.Query(ctx, path, mergeCursor(input, cursor))
	}
}

// mountContext returns the context a binding's fetches run under. With
// abort-on-unmount it is cancellable; the returned cancel (nil otherwise)
// must fire at cleanup. Every fetch the binding issues, including refetches
// triggered by reactive input changes, goes through this context.
func mountContext(ctx context.Context, cfg callConfig) (context.Context, context.CancelFunc) {
	if cfg.abortOnUnmount {
		return context.WithCancel(ctx)
	}
	return ctx, nil
}

// bindLifecycle attaches a query-shaped binding to its lifecycle: fetch
// decision at mount, observer detach (and optional abort) at cleanup.
func bindLifecycle(ctx context.Context, q interface {
	Mount(context.Context) error
	Close()
}, cfg callConfig) {
	mctx, cancel := mountContext(ctx, cfg)

	cfg.lifecycle.OnMount(func() {
		// Mount errors are recorded on the entry; observers see them
		// through the binding's error state.
		_ = q.Mount(mctx)
	})
	cfg.lifecycle.OnCleanup(func() {
		if cancel != nil {
			cancel()
		}
		q.Close()
	})
}
