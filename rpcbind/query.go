package rpcbind

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/goliatone/go-rpc-query/engine"
)

// CreateQuery binds a single-shot read of this procedure. The returned
// binding shares its cache entry with every other binding for the same key;
// the fetch decision runs at mount (immediately, under the default
// lifecycle) and the entry's state is observable via Subscribe.
//
// Passing a *Store as input produces a reactive binding: the cache key and
// data source follow the store's value without the binding being recreated.
func (p *Procedure) CreateQuery(ctx context.Context, input any, opts ...QueryOption) (engine.Query, error) {
	if err := p.b.cfg.Registry.require(p.path, KindQuery, false); err != nil {
		return nil, err
	}
	cfg := p.b.callConfig(ctx, opts)

	if store, ok := input.(*Store); ok {
		return p.createReactiveQuery(ctx, store, cfg)
	}

	spec := engine.FetchSpec{
		Key:     p.GetQueryKey(input),
		Fetch:   p.fetchFn(input),
		Options: cfg.query,
	}
	q := p.b.cfg.Engine.CreateQuery(spec)
	if cfg.optionsStore != nil {
		q = withReactiveOptions(q, cfg.optionsStore)
	}
	bindLifecycle(ctx, q, cfg)
	return q, nil
}

// CreateInfiniteQuery binds a paginated read. Page fetches pass
// {...input, cursor} to the data source, starting from WithInitialCursor;
// WithNextCursor derives later pages. With a registry wired, the leaf must
// have been registered Paginated.
func (p *Procedure) CreateInfiniteQuery(ctx context.Context, input any, opts ...QueryOption) (engine.InfiniteQuery, error) {
	if err := p.b.cfg.Registry.require(p.path, KindQuery, true); err != nil {
		return nil, err
	}
	cfg := p.b.callConfig(ctx, opts)

	if store, ok := input.(*Store); ok {
		return p.createReactiveInfiniteQuery(ctx, store, cfg)
	}

	spec := engine.InfiniteSpec{
		Key:           p.GetInfiniteQueryKey(input),
		FetchPage:     p.pageFetchFn(input),
		InitialCursor: cfg.initialCursor,
		NextCursor:    cfg.nextCursor,
		Options:       cfg.query,
	}
	q := p.b.cfg.Engine.CreateInfiniteQuery(spec)
	bindLifecycle(ctx, q, cfg)
	return q, nil
}

// reactiveQuery keeps a stable outer binding while swapping the inner
// engine binding whenever the input store changes. Outer subscribers are
// carried across swaps; the component never remounts.
type reactiveQuery struct {
	p   *Procedure
	ctx context.Context

	mu         sync.Mutex
	cfg        callConfig
	inner      engine.Query
	innerUnsub func()
	nextID     int64
	subs       map[int64]engine.Listener
	storeUnsub func()
	closed     bool
}

func (p *Procedure) createReactiveQuery(ctx context.Context, store *Store, cfg callConfig) (engine.Query, error) {
	// Reactive bindings fetch under the mount context on every store
	// change, so abort-on-unmount covers store-triggered refetches too.
	mctx, cancel := mountContext(ctx, cfg)

	r := &reactiveQuery{
		p:    p,
		ctx:  mctx,
		cfg:  cfg,
		subs: make(map[int64]engine.Listener),
	}
	r.swap(store.Get())

	r.storeUnsub = store.Subscribe(func(input any) {
		if !r.swap(input) {
			return
		}
		// The new key may be a cache miss; re-run the mount decision so
		// the fresh input is fetched.
		_ = r.Mount(r.ctx)
	})

	if cfg.optionsStore != nil {
		optsUnsub := cfg.optionsStore.Subscribe(func(v any) {
			if opts, ok := v.(engine.QueryOptions); ok {
				r.UpdateOptions(opts)
			}
		})
		prev := r.storeUnsub
		r.storeUnsub = func() { prev(); optsUnsub() }
	}

	cfg.lifecycle.OnMount(func() {
		_ = r.Mount(r.ctx)
	})
	cfg.lifecycle.OnCleanup(func() {
		if cancel != nil {
			cancel()
		}
		r.Close()
	})
	return r, nil
}

// swap rebinds the inner engine binding to the key derived from input. It
// reports false, leaving the binding untouched, when a concurrent Close won
// the race; the check runs under the same lock Close takes, so a swapped-in
// binding can never outlive the outer one.
func (r *reactiveQuery) swap(input any) bool {
	spec := engine.FetchSpec{
		Key:   r.p.GetQueryKey(input),
		Fetch: r.p.fetchFn(input),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	spec.Options = r.cfg.query
	old, oldUnsub := r.inner, r.innerUnsub
	inner := r.p.b.cfg.Engine.CreateQuery(spec)
	r.inner = inner
	r.innerUnsub = inner.Subscribe(func(st engine.QueryState) {
		r.broadcast(st)
	})
	r.mu.Unlock()

	if oldUnsub != nil {
		oldUnsub()
	}
	if old != nil {
		old.Close()
	}
	return true
}

func (r *reactiveQuery) broadcast(st engine.QueryState) {
	r.mu.Lock()
	subs := make([]engine.Listener, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func (r *reactiveQuery) State() engine.QueryState {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.State()
}

func (r *reactiveQuery) Subscribe(l engine.Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = l
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *reactiveQuery) Mount(ctx context.Context) error {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.Mount(ctx)
}

func (r *reactiveQuery) Refetch(ctx context.Context) error {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.Refetch(ctx)
}

func (r *reactiveQuery) UpdateOptions(opts engine.QueryOptions) {
	r.mu.Lock()
	r.cfg.query = mergeQueryOptions(r.cfg.query, opts)
	inner := r.inner
	r.mu.Unlock()
	inner.UpdateOptions(opts)
}

func (r *reactiveQuery) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	inner, innerUnsub, storeUnsub := r.inner, r.innerUnsub, r.storeUnsub
	r.subs = make(map[int64]engine.Listener)
	r.mu.Unlock()

	if storeUnsub != nil {
		storeUnsub()
	}
	if innerUnsub != nil {
		innerUnsub()
	}
	if inner != nil {
		inner.Close()
	}
}

// reactiveInfiniteQuery is the paginated counterpart of reactiveQuery: a
// stable outer binding whose inner infinite binding follows the input store.
// A store change restarts pagination from the first page of the new key.
type reactiveInfiniteQuery struct {
	p   *Procedure
	ctx context.Context

	mu         sync.Mutex
	cfg        callConfig
	inner      engine.InfiniteQuery
	innerUnsub func()
	nextID     int64
	subs       map[int64]engine.Listener
	storeUnsub func()
	closed     bool
}

func (p *Procedure) createReactiveInfiniteQuery(ctx context.Context, store *Store, cfg callConfig) (engine.InfiniteQuery, error) {
	mctx, cancel := mountContext(ctx, cfg)

	r := &reactiveInfiniteQuery{
		p:    p,
		ctx:  mctx,
		cfg:  cfg,
		subs: make(map[int64]engine.Listener),
	}
	r.swap(store.Get())

	r.storeUnsub = store.Subscribe(func(input any) {
		if !r.swap(input) {
			return
		}
		_ = r.Mount(r.ctx)
	})

	if cfg.optionsStore != nil {
		optsUnsub := cfg.optionsStore.Subscribe(func(v any) {
			if opts, ok := v.(engine.QueryOptions); ok {
				r.UpdateOptions(opts)
			}
		})
		prev := r.storeUnsub
		r.storeUnsub = func() { prev(); optsUnsub() }
	}

	cfg.lifecycle.OnMount(func() {
		_ = r.Mount(r.ctx)
	})
	cfg.lifecycle.OnCleanup(func() {
		if cancel != nil {
			cancel()
		}
		r.Close()
	})
	return r, nil
}

// swap rebinds the inner infinite binding to the key derived from input,
// reporting false when a concurrent Close won the race.
func (r *reactiveInfiniteQuery) swap(input any) bool {
	spec := engine.InfiniteSpec{
		Key:       r.p.GetInfiniteQueryKey(input),
		FetchPage: r.p.pageFetchFn(input),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	spec.InitialCursor = r.cfg.initialCursor
	spec.NextCursor = r.cfg.nextCursor
	spec.Options = r.cfg.query
	old, oldUnsub := r.inner, r.innerUnsub
	inner := r.p.b.cfg.Engine.CreateInfiniteQuery(spec)
	r.inner = inner
	r.innerUnsub = inner.Subscribe(func(st engine.QueryState) {
		r.broadcast(st)
	})
	r.mu.Unlock()

	if oldUnsub != nil {
		oldUnsub()
	}
	if old != nil {
		old.Close()
	}
	return true
}

func (r *reactiveInfiniteQuery) broadcast(st engine.QueryState) {
	r.mu.Lock()
	subs := make([]engine.Listener, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func (r *reactiveInfiniteQuery) State() engine.QueryState {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.State()
}

func (r *reactiveInfiniteQuery) Subscribe(l engine.Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = l
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *reactiveInfiniteQuery) Mount(ctx context.Context) error {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.Mount(ctx)
}

func (r *reactiveInfiniteQuery) FetchNextPage(ctx context.Context) error {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.FetchNextPage(ctx)
}

func (r *reactiveInfiniteQuery) Refetch(ctx context.Context) error {
	r.mu.Lock()
	inner := r.inner
	r.mu.Unlock()
	return inner.Refetch(ctx)
}

func (r *reactiveInfiniteQuery) UpdateOptions(opts engine.QueryOptions) {
	r.mu.Lock()
	r.cfg.query = mergeQueryOptions(r.cfg.query, opts)
	inner := r.inner
	r.mu.Unlock()
	inner.UpdateOptions(opts)
}

func (r *reactiveInfiniteQuery) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	inner, innerUnsub, storeUnsub := r.inner, r.innerUnsub, r.storeUnsub
	r.subs = make(map[int64]engine.Listener)
	r.mu.Unlock()

	if storeUnsub != nil {
		storeUnsub()
	}
	if innerUnsub != nil {
		innerUnsub()
	}
	if inner != nil {
		inner.Close()
	}
}

// optionsQuery overlays a reactive options store onto a plain binding.
type optionsQuery struct {
	engine.Query
	unsub func()
}

func withReactiveOptions(q engine.Query, store *Store) engine.Query {
	unsub := store.Subscribe(func(v any) {
		if opts, ok := v.(engine.QueryOptions); ok {
			q.UpdateOptions(opts)
		}
	})
	return &optionsQuery{Query: q, unsub: unsub}
}

func (q *optionsQuery) Close() {
	q.unsub()
	q.Query.Close()
}

func mergeQueryOptions(base, overlay engine.QueryOptions) engine.QueryOptions {
	if overlay.Enabled != nil {
		base.Enabled = overlay.Enabled
	}
	if overlay.StaleTime != nil {
		base.StaleTime = overlay.StaleTime
	}
	if overlay.RefetchOnMount != nil {
		base.RefetchOnMount = overlay.RefetchOnMount
	}
	if overlay.InitialData != nil {
		base.InitialData = overlay.InitialData
	}
	return base
}

// mergeCursor folds a page cursor into the call input. Map inputs get a
// cursor field; struct inputs are flattened to a map first; a nil input
// becomes a cursor-only map. Inputs that cannot carry a cursor pass through
// unchanged.
func mergeCursor(input, cursor any) any {
	if cursor == nil {
		return input
	}
	if input == nil {
		return map[string]any{"cursor": cursor}
	}

	if m, ok := input.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["cursor"] = cursor
		return out
	}

	rv := reflect.ValueOf(input)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return map[string]any{"cursor": cursor}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return input
	}

	rt := rv.Type()
	out := make(map[string]any, rt.NumField()+1)
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			if comma := strings.Index(tag, ","); comma >= 0 {
				tag = tag[:comma]
			}
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		out[name] = rv.Field(i).Interface()
	}
	out["cursor"] = cursor
	return out
}
