package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-rpc-query/querykey"
)

// entry is the internal record behind one cache key: its observable state,
// the last data source bound to it, attached listeners and in-flight fetch
// cancellation handles. The value itself also lives in the sturdyc store;
// the entry keeps a copy in state.Data so observers see it synchronously.
type entry struct {
	key  querykey.Key
	hash string

	mu        sync.Mutex
	state     QueryState
	fetch     FetchFn
	listeners map[int64]Listener
	nextID    int64
	cancels   map[int64]context.CancelFunc
	nextCID   int64

	// pageMu serializes page fetches of an infinite entry; page results
	// are order-dependent so they must not interleave.
	pageMu   sync.Mutex
	infinite infinitePager
}

// infinitePager is the page-fetching machinery remembered by an infinite
// entry so that invalidation-triggered refetches can replay the first page.
type infinitePager struct {
	fetchPage     PageFetchFn
	initialCursor any
	nextCursor    func(lastPage any) (any, bool)
}

func newEntry(key querykey.Key, hash string) *entry {
	return &entry{
		key:       key,
		hash:      hash,
		state:     QueryState{Status: StatusPending},
		listeners: make(map[int64]Listener),
		cancels:   make(map[int64]context.CancelFunc),
	}
}

func (e *entry) snapshot() QueryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *entry) setFetch(fn FetchFn) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.fetch = fn
	e.mu.Unlock()
}

// subscribe attaches a listener and returns its idempotent removal func.
func (e *entry) subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

func (e *entry) hasListeners() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners) > 0
}

// notify delivers the current state to every listener. Listeners are called
// outside the lock; a listener that unsubscribes mid-notification may still
// receive this one delivery.
func (e *entry) notify() {
	e.mu.Lock()
	state := e.state
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.mu.Unlock()

	for _, l := range ls {
		l(state)
	}
}

// recordData stores a successful fetch result, clearing any prior error or
// invalidation.
func (e *entry) recordData(v any) {
	e.mu.Lock()
	e.state.Status = StatusSuccess
	e.state.Data = v
	e.state.Error = nil
	e.state.DataUpdatedAt = time.Now()
	e.state.IsInvalidated = false
	e.mu.Unlock()
}

// recordError stores a fetch failure. Cancellation is not an error state and
// is dropped. Previously fetched data survives the failure; the entry only
// transitions to StatusError when it never held data.
func (e *entry) recordError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	e.mu.Lock()
	e.state.Error = err
	if e.state.DataUpdatedAt.IsZero() {
		e.state.Status = StatusError
	}
	e.mu.Unlock()
}

// trackCancel registers an in-flight fetch's cancel func and returns its
// release. IsFetching reflects whether any fetch is registered.
func (e *entry) trackCancel(cancel context.CancelFunc) (release func()) {
	e.mu.Lock()
	id := e.nextCID
	e.nextCID++
	e.cancels[id] = cancel
	e.state.IsFetching = true
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.state.IsFetching = len(e.cancels) > 0
		e.mu.Unlock()
		cancel()
	}
}

// cancelInflight aborts every in-flight fetch for this entry.
func (e *entry) cancelInflight() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.cancels))
	for _, c := range e.cancels {
		cancels = append(cancels, c)
	}
	e.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}
