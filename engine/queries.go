package engine

import (
	"context"
	"errors"
	"sync"
)

// queriesBinding tracks a batch of query bindings jointly. Each child is a
// regular queryBinding; the batch subscribes to every child and forwards the
// full state slice (and the combined value, when a CombineFn is set) to its
// own listeners whenever any child changes.
type queriesBinding struct {
	children []Query
	combine  CombineFn

	mu     sync.Mutex
	nextID int64
	subs   map[int64]func([]QueryState)
	unsubs []func()
	closed bool
}

func (c *cacheEngine) CreateQueries(specs []FetchSpec, combine CombineFn) Queries {
	b := &queriesBinding{
		children: make([]Query, len(specs)),
		combine:  combine,
		subs:     make(map[int64]func([]QueryState)),
	}
	for i, spec := range specs {
		b.children[i] = c.CreateQuery(spec)
	}
	for _, child := range b.children {
		unsub := child.Subscribe(func(QueryState) {
			b.broadcast()
		})
		b.unsubs = append(b.unsubs, unsub)
	}
	return b
}

func (b *queriesBinding) Len() int {
	return len(b.children)
}

func (b *queriesBinding) At(i int) Query {
	return b.children[i]
}

func (b *queriesBinding) States() []QueryState {
	states := make([]QueryState, len(b.children))
	for i, child := range b.children {
		states[i] = child.State()
	}
	return states
}

func (b *queriesBinding) Combined() any {
	if b.combine == nil {
		return nil
	}
	return b.combine(b.States())
}

func (b *queriesBinding) Subscribe(l func([]QueryState)) func() {
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

func (b *queriesBinding) broadcast() {
	b.mu.Lock()
	subs := make([]func([]QueryState), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	states := b.States()
	for _, fn := range subs {
		fn(states)
	}
}

// Mount mounts every child concurrently and waits for all of them to settle.
// Independent reads have no ordering dependency between them.
func (b *queriesBinding) Mount(ctx context.Context) error {
	errs := make([]error, len(b.children))

	var wg sync.WaitGroup
	for i, child := range b.children {
		wg.Add(1)
		go func(i int, child Query) {
			defer wg.Done()
			errs[i] = child.Mount(ctx)
		}(i, child)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (b *queriesBinding) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.subs = make(map[int64]func([]QueryState))
	b.closed = true
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, child := range b.children {
		child.Close()
	}
}
