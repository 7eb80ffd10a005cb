package rpcbind

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-rpc-query/engine"
)

// BatchQuery is one entry of a batch: a fully derived key and data source,
// not yet bound to a live reactive context. DisableSSR excludes it from
// server-side prefetching.
type BatchQuery struct {
	Spec       engine.FetchSpec
	DisableSSR bool

	err error
}

// QueriesBuilder is the restricted view of the procedure tree handed to a
// batch callback: only query dispatch is available, and it produces unbound
// descriptors rather than live bindings.
type QueriesBuilder struct {
	b *Binder
}

// Query describes one read of the batch at the given dotted path.
func (qb *QueriesBuilder) Query(path string, input any, opts ...QueryOption) BatchQuery {
	p := qb.b.Procedure(path)
	cfg := qb.b.callConfig(context.Background(), opts)

	return BatchQuery{
		Spec: engine.FetchSpec{
			Key:     p.GetQueryKey(input),
			Fetch:   p.fetchFn(input),
			Options: cfg.query,
		},
		DisableSSR: !cfg.ssr,
		err:        qb.b.cfg.Registry.require(p.path, KindQuery, false),
	}
}

// BuildQueriesFn produces the ordered descriptor list of a batch.
type BuildQueriesFn func(qb *QueriesBuilder) []BatchQuery

// QueriesOption customizes a batch dispatch.
type QueriesOption func(*queriesConfig)

type queriesConfig struct {
	combine engine.CombineFn
}

// WithCombine folds the batch's states into a single derived value,
// recomputed whenever any constituent changes.
func WithCombine(fn engine.CombineFn) QueriesOption {
	return func(c *queriesConfig) { c.combine = fn }
}

func buildBatch(b *Binder, build BuildQueriesFn) ([]BatchQuery, error) {
	batch := build(&QueriesBuilder{b: b})
	var errs []error
	for _, bq := range batch {
		if bq.err != nil {
			errs = append(errs, bq.err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return batch, nil
}

func specsOf(batch []BatchQuery) []engine.FetchSpec {
	specs := make([]engine.FetchSpec, len(batch))
	for i, bq := range batch {
		specs[i] = bq.Spec
	}
	return specs
}

// CreateQueries binds a batch of reads as one joint reactive binding. The
// callback receives the restricted builder and returns the descriptor list;
// mounting fetches all constituents concurrently.
func (b *Binder) CreateQueries(ctx context.Context, build BuildQueriesFn, opts ...QueriesOption) (engine.Queries, error) {
	var qcfg queriesConfig
	for _, opt := range opts {
		opt(&qcfg)
	}

	batch, err := buildBatch(b, build)
	if err != nil {
		return nil, err
	}

	q := b.cfg.Engine.CreateQueries(specsOf(batch), qcfg.combine)
	bindLifecycle(ctx, q, b.callConfig(ctx, nil))
	return q, nil
}

// ServerQueries is the resumable factory returned by CreateServerQueries:
// the server-side prefetch already happened; calling Resume on the client
// creates the live joint binding, pre-seeded so it does not refetch what the
// server fetched.
type ServerQueries struct {
	b       *Binder
	batch   []BatchQuery
	combine engine.CombineFn

	// prefetched records, by serialized key, which descriptors were warm
	// or prefetched on the server and therefore get the hydration
	// staleness window on resume.
	prefetched map[string]bool
}

// CreateServerQueries prefetches the batch on the server. Descriptors whose
// key is already warm are skipped, as are those with DisableSSR; the rest
// are prefetched concurrently, and the call returns once all have settled.
// Prefetch failures are captured in the entries' error states.
func (b *Binder) CreateServerQueries(ctx context.Context, build BuildQueriesFn, opts ...QueriesOption) (*ServerQueries, error) {
	var qcfg queriesConfig
	for _, opt := range opts {
		opt(&qcfg)
	}

	batch, err := buildBatch(b, build)
	if err != nil {
		return nil, err
	}

	sq := &ServerQueries{
		b:          b,
		batch:      batch,
		combine:    qcfg.combine,
		prefetched: make(map[string]bool),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, bq := range batch {
		if bq.DisableSSR {
			continue
		}
		hash := b.cfg.KeySerializer.Serialize(bq.Spec.Key)
		if snap, ok := b.cfg.Engine.Find(bq.Spec.Key); ok && snap.Warm() {
			sq.prefetched[hash] = true
			continue
		}
		wg.Add(1)
		go func(spec engine.FetchSpec, hash string) {
			defer wg.Done()
			b.cfg.Engine.PrefetchQuery(ctx, spec)
			mu.Lock()
			sq.prefetched[hash] = true
			mu.Unlock()
		}(bq.Spec, hash)
	}
	wg.Wait()

	return sq, nil
}

// Resume creates the live joint binding on the client. A non-nil transform
// receives the previous descriptor list and returns the one to bind;
// descriptors whose keys the server did not prefetch fetch normally.
// Prefetched descriptors mount under a hydration staleness window that is
// relaxed to their configured staleness once the component has mounted.
func (s *ServerQueries) Resume(ctx context.Context, transform func(prev []BatchQuery) []BatchQuery, opts ...QueriesOption) (engine.Queries, error) {
	qcfg := queriesConfig{combine: s.combine}
	for _, opt := range opts {
		opt(&qcfg)
	}

	batch := s.batch
	if transform != nil {
		batch = transform(batch)
	}

	specs := specsOf(batch)
	warm := make([]bool, len(specs))
	restores := make([]*time.Duration, len(specs))
	for i := range specs {
		hash := s.b.cfg.KeySerializer.Serialize(specs[i].Key)
		if !s.prefetched[hash] {
			continue
		}
		warm[i] = true
		restores[i] = specs[i].Options.StaleTime
		specs[i].Options.StaleTime = engine.Duration(hydrationStaleTime)
	}

	q := s.b.cfg.Engine.CreateQueries(specs, qcfg.combine)

	cfg := s.b.callConfig(ctx, nil)
	cfg.lifecycle.OnMount(func() {
		_ = q.Mount(ctx)
		// Hydration done; let background revalidation resume at the
		// caller's configured staleness.
		for i := range specs {
			if !warm[i] {
				continue
			}
			restore := restores[i]
			if restore == nil {
				restore = s.b.cfg.Engine.Defaults().StaleTime
			}
			q.At(i).UpdateOptions(engine.QueryOptions{StaleTime: restore})
		}
	})
	cfg.lifecycle.OnCleanup(q.Close)

	return q, nil
}
