package rpcbind

import "sync"

// Store is a minimal observable value container: the explicit listener-list
// replacement for reactive input stores. Passing a *Store as a binding's
// input (or via WithReactiveOptions) makes the binding re-derive its cache
// key and re-issue its fetch whenever the value changes, without tearing the
// binding down.
type Store struct {
	mu     sync.RWMutex
	value  any
	nextID int64
	subs   map[int64]func(any)
}

// NewStore creates a Store holding the initial value.
func NewStore(initial any) *Store {
	return &Store{value: initial, subs: make(map[int64]func(any))}
}

// Get returns the current value.
func (s *Store) Get() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value and notifies subscribers synchronously, in
// unspecified order.
func (s *Store) Set(value any) {
	s.mu.Lock()
	s.value = value
	subs := make([]func(any), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Subscribe registers a change listener and returns its idempotent removal
// func. The listener is not called with the current value.
func (s *Store) Subscribe(fn func(any)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
