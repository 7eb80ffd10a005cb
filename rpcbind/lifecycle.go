package rpcbind

import "sync"

// Lifecycle is the externally-provided mount/unmount contract. The host UI
// framework guarantees OnMount callbacks run after initial render and
// OnCleanup callbacks run at unmount; this layer relies on that ordering
// instead of re-implementing it.
type Lifecycle interface {
	OnMount(fn func())
	OnCleanup(fn func())
}

// immediateLifecycle is the default when no host lifecycle is supplied:
// mount callbacks run synchronously at registration and cleanup callbacks
// never run. Callers own teardown via the binding's Close in that mode.
type immediateLifecycle struct{}

func (immediateLifecycle) OnMount(fn func()) { fn() }
func (immediateLifecycle) OnCleanup(func()) {}

// ManualLifecycle is a Lifecycle driven explicitly by the host: call Mount
// once the component has fully mounted and Cleanup at unmount. Callbacks
// registered after the corresponding phase has fired run immediately. Both
// phases are idempotent.
type ManualLifecycle struct {
	mu       sync.Mutex
	mounted  bool
	cleaned  bool
	mounts   []func()
	cleanups []func()
}

// NewManualLifecycle creates a ManualLifecycle with neither phase fired.
func NewManualLifecycle() *ManualLifecycle {
	return &ManualLifecycle{}
}

// OnMount registers fn to run when Mount fires.
func (l *ManualLifecycle) OnMount(fn func()) {
	l.mu.Lock()
	if l.mounted {
		l.mu.Unlock()
		fn()
		return
	}
	l.mounts = append(l.mounts, fn)
	l.mu.Unlock()
}

// OnCleanup registers fn to run when Cleanup fires.
func (l *ManualLifecycle) OnCleanup(fn func()) {
	l.mu.Lock()
	if l.cleaned {
		l.mu.Unlock()
		fn()
		return
	}
	l.cleanups = append(l.cleanups, fn)
	l.mu.Unlock()
}

// Mount fires the mount phase. Subsequent calls are no-ops.
func (l *ManualLifecycle) Mount() {
	l.mu.Lock()
	if l.mounted {
		l.mu.Unlock()
		return
	}
	l.mounted = true
	fns := l.mounts
	l.mounts = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Cleanup fires the cleanup phase. Subsequent calls are no-ops.
func (l *ManualLifecycle) Cleanup() {
	l.mu.Lock()
	if l.cleaned {
		l.mu.Unlock()
		return
	}
	l.cleaned = true
	fns := l.cleanups
	l.cleanups = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
