package engine

import (
	"context"
	"sync"
)

// queryBinding is one call-site's view of a cache entry. Bindings share the
// entry (and therefore data, staleness and in-flight deduplication) with
// every other binding for the same key; Close only detaches this binding's
// observers.
type queryBinding struct {
	c   *cacheEngine
	ent *entry

	mu     sync.Mutex
	opts   QueryOptions
	unsubs []func()
	closed bool
}

func (c *cacheEngine) CreateQuery(spec FetchSpec) Query {
	ent := c.entryFor(spec.Key)
	ent.setFetch(spec.Fetch)

	opts := spec.Options.withDefaults(c.defaults)
	if opts.InitialData != nil {
		st := ent.snapshot()
		if !st.HasData() {
			c.SetQueryData(spec.Key, opts.InitialData)
		}
	}

	return &queryBinding{c: c, ent: ent, opts: opts}
}

func (b *queryBinding) State() QueryState {
	return b.ent.snapshot()
}

func (b *queryBinding) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	unsub := b.ent.subscribe(l)
	b.unsubs = append(b.unsubs, unsub)
	return unsub
}

func (b *queryBinding) Mount(ctx context.Context) error {
	b.mu.Lock()
	opts := b.opts
	b.mu.Unlock()

	if !opts.enabled() {
		return nil
	}

	st := b.ent.snapshot()
	switch {
	case !st.HasData():
		_, err := b.c.fetchEntry(ctx, b.ent, nil, false)
		return err
	case st.IsInvalidated:
		_, err := b.c.fetchEntry(ctx, b.ent, nil, true)
		return err
	case opts.refetchOnMount() && !fresh(st, opts):
		_, err := b.c.fetchEntry(ctx, b.ent, nil, true)
		return err
	default:
		return nil
	}
}

func (b *queryBinding) Refetch(ctx context.Context) error {
	_, err := b.c.fetchEntry(ctx, b.ent, nil, true)
	return err
}

func (b *queryBinding) UpdateOptions(opts QueryOptions) {
	b.mu.Lock()
	b.opts = b.opts.merge(opts)
	b.mu.Unlock()
}

func (b *queryBinding) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.closed = true
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// infiniteBinding is the paginated counterpart of queryBinding.
type infiniteBinding struct {
	c   *cacheEngine
	ent *entry

	mu     sync.Mutex
	opts   QueryOptions
	unsubs []func()
	closed bool
}

func (c *cacheEngine) CreateInfiniteQuery(spec InfiniteSpec) InfiniteQuery {
	ent := c.entryFor(spec.Key)
	if spec.FetchPage != nil {
		ent.mu.Lock()
		ent.infinite = infinitePager{
			fetchPage:     spec.FetchPage,
			initialCursor: spec.InitialCursor,
			nextCursor:    spec.NextCursor,
		}
		ent.mu.Unlock()
	}

	return &infiniteBinding{c: c, ent: ent, opts: spec.Options.withDefaults(c.defaults)}
}

func (b *infiniteBinding) State() QueryState {
	return b.ent.snapshot()
}

func (b *infiniteBinding) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	unsub := b.ent.subscribe(l)
	b.unsubs = append(b.unsubs, unsub)
	return unsub
}

func (b *infiniteBinding) Mount(ctx context.Context) error {
	b.mu.Lock()
	opts := b.opts
	b.mu.Unlock()

	if !opts.enabled() {
		return nil
	}

	st := b.ent.snapshot()
	if st.HasData() && !st.IsInvalidated && (!opts.refetchOnMount() || fresh(st, opts)) {
		return nil
	}
	_, err := b.c.fetchFirstPage(ctx, b.ent)
	return err
}

func (b *infiniteBinding) FetchNextPage(ctx context.Context) error {
	_, err := b.c.fetchNextPage(ctx, b.ent)
	return err
}

// Refetch restarts from the first page; accumulated pages are replaced.
func (b *infiniteBinding) Refetch(ctx context.Context) error {
	_, err := b.c.fetchFirstPage(ctx, b.ent)
	return err
}

func (b *infiniteBinding) UpdateOptions(opts QueryOptions) {
	b.mu.Lock()
	b.opts = b.opts.merge(opts)
	b.mu.Unlock()
}

func (b *infiniteBinding) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.closed = true
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
