package engine

import (
	"context"
	"sync"
)

// mutationBinding is a write binding. Unlike queries, mutations own their
// state; nothing is cached and two bindings for the same key do not share
// results. The engine only tracks in-flight counts per key for IsMutating.
type mutationBinding struct {
	c      *cacheEngine
	spec   MutationSpec
	rec    *mutationRecord
	mu     sync.Mutex
	state  MutationState
	nextID int64
	subs   map[int64]func(MutationState)
	closed bool
}

func (c *cacheEngine) CreateMutation(spec MutationSpec) Mutation {
	return &mutationBinding{
		c:     c,
		spec:  spec,
		rec:   c.mutationRecordFor(spec.Key),
		state: MutationState{Status: StatusPending},
		subs:  make(map[int64]func(MutationState)),
	}
}

func (b *mutationBinding) Mutate(ctx context.Context, input any) (any, error) {
	// Per-key defaults fill callbacks the binding did not set.
	opts := b.spec.Options
	if defaults, ok := b.c.GetMutationDefaults(b.spec.Key); ok {
		opts = opts.withDefaults(defaults)
	}

	b.rec.active.Add(1)
	defer b.rec.active.Add(-1)

	b.setState(MutationState{Status: StatusPending})

	data, err := b.spec.Mutate(ctx, input)
	if err != nil {
		b.setState(MutationState{Status: StatusError, Error: err})
		if opts.OnError != nil {
			opts.OnError(err, input)
		}
		if opts.OnSettled != nil {
			opts.OnSettled(nil, err, input)
		}
		return nil, err
	}

	b.setState(MutationState{Status: StatusSuccess, Data: data})
	if opts.OnSuccess != nil {
		opts.OnSuccess(data, input)
	}
	if opts.OnSettled != nil {
		opts.OnSettled(data, nil, input)
	}
	return data, nil
}

func (b *mutationBinding) setState(s MutationState) {
	b.mu.Lock()
	b.state = s
	subs := make([]func(MutationState), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

func (b *mutationBinding) State() MutationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *mutationBinding) Subscribe(l func(MutationState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *mutationBinding) Close() {
	b.mu.Lock()
	b.subs = make(map[int64]func(MutationState))
	b.closed = true
	b.mu.Unlock()
}
