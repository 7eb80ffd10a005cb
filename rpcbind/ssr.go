package rpcbind

import (
	"context"
	"time"

	"github.com/goliatone/go-rpc-query/engine"
	"github.com/goliatone/go-rpc-query/querykey"
)

// hydrationStaleTime is the artificially long staleness window a resumed
// binding mounts under, so hydration does not immediately duplicate the
// fetch the server already did. It is relaxed to the caller's configured
// staleness once the component has fully mounted.
const hydrationStaleTime = 24 * time.Hour

// snapshotInput unwraps a reactive input store to its current value. A
// server render is a point-in-time snapshot; there is no mounted component
// for the store to drive, so the value at prefetch time is the input.
func snapshotInput(input any) any {
	if store, ok := input.(*Store); ok {
		return store.Get()
	}
	return input
}

// ServerQuery is the resumable factory for one server-prefetched read. It is
// produced on the server after the prefetch decision has run; the client
// invokes Resume once mounted to obtain the live binding for the same cache
// key.
type ServerQuery struct {
	p     *Procedure
	input any
	cfg   callConfig
	key   querykey.Key

	// warm is true when the key held data before render, either found
	// already warm or populated by this call's blocking prefetch. Warm
	// resumes suppress the refetch-on-mount that hydration would trigger.
	warm bool

	infinite bool
}

// CreateServerQuery derives the key and data source for this read, then
// decides: if the cache already holds warm data for the exact key the
// prefetch is skipped; otherwise (unless opted out via WithoutSSR) a
// blocking fetch populates the cache before the server finishes rendering.
// Prefetch failures are captured in the entry's error state, observed by
// the resumed binding like any failed query.
func (p *Procedure) CreateServerQuery(ctx context.Context, input any, opts ...QueryOption) (*ServerQuery, error) {
	if err := p.b.cfg.Registry.require(p.path, KindQuery, false); err != nil {
		return nil, err
	}
	cfg := p.b.callConfig(ctx, opts)
	input = snapshotInput(input)

	sq := &ServerQuery{
		p:     p,
		input: input,
		cfg:   cfg,
		key:   p.GetQueryKey(input),
	}

	if !cfg.ssr {
		return sq, nil
	}

	if snap, ok := p.b.cfg.Engine.Find(sq.key); ok && snap.Warm() {
		sq.warm = true
		return sq, nil
	}

	p.b.cfg.Engine.PrefetchQuery(ctx, engine.FetchSpec{
		Key:     sq.key,
		Fetch:   p.fetchFn(input),
		Options: cfg.query,
	})
	sq.warm = true
	return sq, nil
}

// CreateServerInfiniteQuery is the paginated variant of CreateServerQuery.
func (p *Procedure) CreateServerInfiniteQuery(ctx context.Context, input any, opts ...QueryOption) (*ServerQuery, error) {
	if err := p.b.cfg.Registry.require(p.path, KindQuery, true); err != nil {
		return nil, err
	}
	cfg := p.b.callConfig(ctx, opts)
	input = snapshotInput(input)

	sq := &ServerQuery{
		p:        p,
		input:    input,
		cfg:      cfg,
		key:      p.GetInfiniteQueryKey(input),
		infinite: true,
	}

	if !cfg.ssr {
		return sq, nil
	}

	if snap, ok := p.b.cfg.Engine.Find(sq.key); ok && snap.Warm() {
		sq.warm = true
		return sq, nil
	}

	p.b.cfg.Engine.PrefetchInfiniteQuery(ctx, engine.InfiniteSpec{
		Key:           sq.key,
		FetchPage:     p.pageFetchFn(input),
		InitialCursor: cfg.initialCursor,
		NextCursor:    cfg.nextCursor,
		Options:       cfg.query,
	})
	sq.warm = true
	return sq, nil
}

// Resume creates the client-side binding for the same key. When the server
// left the key warm, the binding mounts under the hydration staleness window
// and relaxes to the caller's configured staleness after mount, so
// hydration never duplicates the server's fetch while background
// revalidation resumes shortly after.
func (sq *ServerQuery) Resume(ctx context.Context, opts ...QueryOption) (engine.Query, error) {
	if sq.infinite {
		return nil, ErrInfiniteResume
	}
	return sq.resume(ctx, sq.input, opts)
}

// ResumeWith resumes with a new input computed from the previous one. The
// key and data source are re-derived; a new key is a cache miss, so the
// warm fast path does not apply and normal fetch behavior resumes.
func (sq *ServerQuery) ResumeWith(ctx context.Context, update func(prev any) any, opts ...QueryOption) (engine.Query, error) {
	if sq.infinite {
		return nil, ErrInfiniteResume
	}
	input := sq.input
	if update != nil {
		input = update(input)
	}
	if !sq.key.Equal(sq.p.GetQueryKey(input)) {
		// Different key: plain client-side binding, no hydration window.
		return sq.p.CreateQuery(ctx, input, opts...)
	}
	return sq.resume(ctx, input, opts)
}

// ResumeInfinite is the paginated counterpart of Resume.
func (sq *ServerQuery) ResumeInfinite(ctx context.Context, opts ...QueryOption) (engine.InfiniteQuery, error) {
	if !sq.infinite {
		return nil, ErrNotInfinite
	}
	cfg := sq.resumeConfig(ctx, opts)

	spec := engine.InfiniteSpec{
		Key:           sq.key,
		FetchPage:     sq.p.pageFetchFn(sq.input),
		InitialCursor: cfg.initialCursor,
		NextCursor:    cfg.nextCursor,
		Options:       cfg.query,
	}
	if sq.warm {
		spec.Options.StaleTime = engine.Duration(hydrationStaleTime)
	}

	q := sq.p.b.cfg.Engine.CreateInfiniteQuery(spec)
	sq.bindResumed(ctx, q, cfg)
	return q, nil
}

func (sq *ServerQuery) resume(ctx context.Context, input any, opts []QueryOption) (engine.Query, error) {
	cfg := sq.resumeConfig(ctx, opts)

	spec := engine.FetchSpec{
		Key:     sq.p.GetQueryKey(input),
		Fetch:   sq.p.fetchFn(input),
		Options: cfg.query,
	}
	if sq.warm {
		spec.Options.StaleTime = engine.Duration(hydrationStaleTime)
	}

	q := sq.p.b.cfg.Engine.CreateQuery(spec)
	sq.bindResumed(ctx, q, cfg)
	return q, nil
}

// resumeConfig layers the resume call's options over the server call's.
func (sq *ServerQuery) resumeConfig(ctx context.Context, opts []QueryOption) callConfig {
	cfg := sq.cfg
	if lc := lifecycleFromContext(ctx); lc != nil {
		cfg.lifecycle = lc
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// bindResumed wires the two-phase relaxation: mount under the hydration
// window, then restore the caller's staleness once mounted. The host
// framework orders mount after initial render, which is what keeps the
// relaxation from racing hydration.
func (sq *ServerQuery) bindResumed(ctx context.Context, q interface {
	Mount(context.Context) error
	UpdateOptions(engine.QueryOptions)
	Close()
}, cfg callConfig) {
	mctx := ctx
	var cancel context.CancelFunc
	if cfg.abortOnUnmount {
		mctx, cancel = context.WithCancel(ctx)
	}

	cfg.lifecycle.OnMount(func() {
		_ = q.Mount(mctx)
		if sq.warm {
			restore := cfg.query.StaleTime
			if restore == nil {
				restore = sq.p.b.cfg.Engine.Defaults().StaleTime
			}
			q.UpdateOptions(engine.QueryOptions{StaleTime: restore})
		}
	})
	cfg.lifecycle.OnCleanup(func() {
		if cancel != nil {
			cancel()
		}
		q.Close()
	})
}
