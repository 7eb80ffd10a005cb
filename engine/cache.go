package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-rpc-query/querykey"
)

// ErrNoFetcher is returned when an operation needs to populate an entry that
// has no data source recorded, e.g. refetching a key that was only ever
// seeded via SetQueryData.
var ErrNoFetcher = errors.New("engine: no data source registered for cache entry")

// ErrNoNextCursor is returned by FetchNextPage when the infinite spec did not
// provide a NextCursor derivation.
var ErrNoNextCursor = errors.New("engine: infinite query has no next-cursor derivation")

// mutationRecord tracks in-flight mutation counts per bare-path key so
// IsMutating can answer prefix-filtered queries.
type mutationRecord struct {
	key    querykey.Key
	active atomic.Int64
}

// cacheEngine is the default Engine. The sturdyc store owns values, TTL
// eviction and fetch stampede protection; the engine owns entry states,
// staleness bookkeeping and observer notification. The entries map doubles
// as the key registry that prefix-filtered bulk operations walk.
type cacheEngine struct {
	store            *sturdyc.Client[any]
	serializer       querykey.Serializer
	entries          *xsync.MapOf[string, *entry]
	mutationDefaults *xsync.MapOf[string, MutationOptions]
	mutations        *xsync.MapOf[string, *mutationRecord]
	defaults         QueryOptions
}

func (c *cacheEngine) hash(key querykey.Key) string {
	return c.serializer.Serialize(key)
}

func (c *cacheEngine) entryFor(key querykey.Key) *entry {
	h := c.hash(key)
	ent, _ := c.entries.LoadOrCompute(h, func() *entry {
		return newEntry(key, h)
	})
	return ent
}

func (c *cacheEngine) matching(f Filter) []*entry {
	var out []*entry
	c.entries.Range(func(_ string, ent *entry) bool {
		if f.Key.Matches(ent.key) {
			out = append(out, ent)
		}
		return true
	})
	return out
}

// fresh reports whether the entry's data is inside the staleness window.
func fresh(st QueryState, opts QueryOptions) bool {
	return st.HasData() && !st.IsInvalidated && time.Since(st.DataUpdatedAt) <= opts.staleTime()
}

// fetchEntry runs the entry's data source through the store's read-through
// path, recording the outcome in the entry state. force bypasses the stored
// value; an invalidated entry bypasses it regardless. Concurrent calls for
// the same entry are deduplicated by the store.
func (c *cacheEngine) fetchEntry(ctx context.Context, ent *entry, fetch FetchFn, force bool) (any, error) {
	ent.mu.Lock()
	if fetch == nil {
		fetch = ent.fetch
	} else {
		ent.fetch = fetch
	}
	invalid := ent.state.IsInvalidated
	ent.mu.Unlock()

	if fetch == nil {
		return nil, ErrNoFetcher
	}

	if force || invalid {
		c.store.Delete(ent.hash)
	}

	fctx, cancel := context.WithCancel(ctx)
	release := ent.trackCancel(cancel)
	ent.notify()

	// The store may hand back a cached value without calling the fetch
	// closure; fetchErr keeps the raw source error when it does run, so
	// the entry records the transport failure and not a store wrapper.
	var fetchErr error
	value, err := c.store.GetOrFetch(fctx, ent.hash, func(ctx context.Context) (any, error) {
		v, ferr := fetch(ctx)
		if ferr != nil {
			fetchErr = ferr
			return nil, ferr
		}
		return v, nil
	})
	if fetchErr != nil {
		err = fetchErr
	}
	release()

	if err == nil {
		ent.recordData(value)
	} else {
		ent.recordError(err)
	}
	ent.notify()

	return value, err
}

func (c *cacheEngine) FetchQuery(ctx context.Context, spec FetchSpec) (any, error) {
	ent := c.entryFor(spec.Key)
	ent.setFetch(spec.Fetch)
	opts := spec.Options.withDefaults(c.defaults)

	st := ent.snapshot()
	if fresh(st, opts) {
		return st.Data, nil
	}
	return c.fetchEntry(ctx, ent, spec.Fetch, st.HasData())
}

// PrefetchQuery populates the entry, capturing any failure in its error
// state instead of returning it. Resumed client bindings observe the failure
// like any other failed query.
func (c *cacheEngine) PrefetchQuery(ctx context.Context, spec FetchSpec) {
	_, _ = c.FetchQuery(ctx, spec)
}

// EnsureQueryData returns the cached value when one exists and is not
// invalidated, ignoring staleness; otherwise it fetches.
func (c *cacheEngine) EnsureQueryData(ctx context.Context, spec FetchSpec) (any, error) {
	ent := c.entryFor(spec.Key)
	ent.setFetch(spec.Fetch)

	st := ent.snapshot()
	if st.HasData() && !st.IsInvalidated {
		return st.Data, nil
	}
	return c.fetchEntry(ctx, ent, spec.Fetch, st.HasData())
}

func (c *cacheEngine) FetchInfiniteQuery(ctx context.Context, spec InfiniteSpec) (InfiniteData, error) {
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
	opts := spec.Options.withDefaults(c.defaults)

	st := ent.snapshot()
	if fresh(st, opts) {
		if data, ok := st.Data.(InfiniteData); ok {
			return data, nil
		}
	}
	return c.fetchFirstPage(ctx, ent)
}

func (c *cacheEngine) PrefetchInfiniteQuery(ctx context.Context, spec InfiniteSpec) {
	_, _ = c.FetchInfiniteQuery(ctx, spec)
}

// fetchFirstPage resets an infinite entry to its first page.
func (c *cacheEngine) fetchFirstPage(ctx context.Context, ent *entry) (InfiniteData, error) {
	ent.pageMu.Lock()
	defer ent.pageMu.Unlock()

	ent.mu.Lock()
	pager := ent.infinite
	ent.mu.Unlock()
	if pager.fetchPage == nil {
		return InfiniteData{}, ErrNoFetcher
	}

	fctx, cancel := context.WithCancel(ctx)
	release := ent.trackCancel(cancel)
	ent.notify()

	page, err := pager.fetchPage(fctx, pager.initialCursor)
	release()
	if err != nil {
		ent.recordError(err)
		ent.notify()
		return InfiniteData{}, err
	}

	data := InfiniteData{Pages: []any{page}, Cursors: []any{pager.initialCursor}}
	c.store.Set(ent.hash, data)
	ent.recordData(data)
	ent.notify()
	return data, nil
}

// fetchNextPage appends one page to an infinite entry.
func (c *cacheEngine) fetchNextPage(ctx context.Context, ent *entry) (InfiniteData, error) {
	ent.pageMu.Lock()
	defer ent.pageMu.Unlock()

	ent.mu.Lock()
	pager := ent.infinite
	data, hasData := ent.state.Data.(InfiniteData)
	ent.mu.Unlock()

	if pager.fetchPage == nil {
		return InfiniteData{}, ErrNoFetcher
	}
	if !hasData || len(data.Pages) == 0 {
		ent.pageMu.Unlock()
		first, err := c.fetchFirstPage(ctx, ent)
		ent.pageMu.Lock()
		return first, err
	}
	if pager.nextCursor == nil {
		return data, ErrNoNextCursor
	}

	cursor, ok := pager.nextCursor(data.Pages[len(data.Pages)-1])
	if !ok {
		return data, nil
	}

	fctx, cancel := context.WithCancel(ctx)
	release := ent.trackCancel(cancel)
	ent.notify()

	page, err := pager.fetchPage(fctx, cursor)
	release()
	if err != nil {
		ent.recordError(err)
		ent.notify()
		return data, err
	}

	next := InfiniteData{
		Pages:   append(append([]any(nil), data.Pages...), page),
		Cursors: append(append([]any(nil), data.Cursors...), cursor),
	}
	c.store.Set(ent.hash, next)
	ent.recordData(next)
	ent.notify()
	return next, nil
}

// InvalidateQueries marks matching entries stale, drops their stored values
// and refetches the ones with active observers in the background.
func (c *cacheEngine) InvalidateQueries(ctx context.Context, f Filter) error {
	refetchCtx := context.WithoutCancel(ctx)
	for _, ent := range c.matching(f) {
		ent.mu.Lock()
		ent.state.IsInvalidated = true
		refetch := len(ent.listeners) > 0 && ent.fetch != nil
		ent.mu.Unlock()

		c.store.Delete(ent.hash)
		ent.notify()

		if refetch {
			go func(ent *entry) {
				_, _ = c.fetchEntry(refetchCtx, ent, nil, true)
			}(ent)
		}
	}
	return nil
}

// RefetchQueries force-fetches every matching entry that has a recorded data
// source, concurrently, and waits for all to settle. Entries without one are
// skipped; they can only be repopulated by a caller-supplied fetch.
func (c *cacheEngine) RefetchQueries(ctx context.Context, f Filter) error {
	ents := c.matching(f)
	errs := make([]error, len(ents))

	var wg sync.WaitGroup
	for i, ent := range ents {
		ent.mu.Lock()
		has := ent.fetch != nil
		ent.mu.Unlock()
		if !has {
			continue
		}
		wg.Add(1)
		go func(i int, ent *entry) {
			defer wg.Done()
			_, errs[i] = c.fetchEntry(ctx, ent, nil, true)
		}(i, ent)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// ResetQueries cancels in-flight fetches and returns matching entries to
// their pristine pending state.
func (c *cacheEngine) ResetQueries(_ context.Context, f Filter) error {
	for _, ent := range c.matching(f) {
		ent.cancelInflight()
		c.store.Delete(ent.hash)

		ent.mu.Lock()
		ent.state = QueryState{Status: StatusPending, IsFetching: len(ent.cancels) > 0}
		ent.mu.Unlock()
		ent.notify()
	}
	return nil
}

// CancelQueries aborts in-flight fetches for matching entries. Cancellation
// is not recorded as an error state.
func (c *cacheEngine) CancelQueries(_ context.Context, f Filter) error {
	for _, ent := range c.matching(f) {
		ent.cancelInflight()
	}
	return nil
}

func (c *cacheEngine) SetQueryData(key querykey.Key, value any) {
	ent := c.entryFor(key)
	c.store.Set(ent.hash, value)
	ent.recordData(value)
	ent.notify()
}

func (c *cacheEngine) GetQueryData(key querykey.Key) (any, bool) {
	ent, ok := c.entries.Load(c.hash(key))
	if !ok {
		return nil, false
	}
	st := ent.snapshot()
	if !st.HasData() {
		return nil, false
	}
	return st.Data, true
}

func (c *cacheEngine) SetInfiniteData(key querykey.Key, data InfiniteData) {
	ent := c.entryFor(key)
	c.store.Set(ent.hash, data)
	ent.recordData(data)
	ent.notify()
}

func (c *cacheEngine) GetInfiniteData(key querykey.Key) (InfiniteData, bool) {
	v, ok := c.GetQueryData(key)
	if !ok {
		return InfiniteData{}, false
	}
	data, ok := v.(InfiniteData)
	return data, ok
}

func (c *cacheEngine) Find(key querykey.Key) (EntrySnapshot, bool) {
	ent, ok := c.entries.Load(c.hash(key))
	if !ok {
		return EntrySnapshot{}, false
	}
	return EntrySnapshot{Key: ent.key, State: ent.snapshot()}, true
}

func (c *cacheEngine) SetMutationDefaults(key querykey.Key, opts MutationOptions) {
	c.mutationDefaults.Store(c.hash(key), opts)
}

func (c *cacheEngine) GetMutationDefaults(key querykey.Key) (MutationOptions, bool) {
	return c.mutationDefaults.Load(c.hash(key))
}

func (c *cacheEngine) IsMutating(f Filter) int {
	total := 0
	c.mutations.Range(func(_ string, rec *mutationRecord) bool {
		if f.Key.Matches(rec.key) {
			total += int(rec.active.Load())
		}
		return true
	})
	return total
}

func (c *cacheEngine) Defaults() QueryOptions {
	return c.defaults
}

func (c *cacheEngine) mutationRecordFor(key querykey.Key) *mutationRecord {
	rec, _ := c.mutations.LoadOrCompute(c.hash(key), func() *mutationRecord {
		return &mutationRecord{key: key}
	})
	return rec
}
