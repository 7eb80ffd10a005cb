package rpcbind

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-rpc-query/querykey"
)

// Kind classifies a procedure leaf. The tree shape is fixed once registered;
// only inputs vary at call time.
type Kind int

const (
	// KindQuery marks a read-style procedure.
	KindQuery Kind = iota

	// KindMutation marks a write-style procedure.
	KindMutation

	// KindSubscription marks a push-style procedure. Subscriptions have no
	// "fetch once" equivalent.
	KindSubscription
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	case KindSubscription:
		return "subscription"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrUnknownProcedure is returned when a dispatch names a path the registry
// has no leaf for.
var ErrUnknownProcedure = errors.New("rpcbind: procedure not registered")

// ErrNotPaginated is returned when an infinite-query dispatch targets a query
// leaf that was not registered as paginated. Leaves without a cursor in
// their input shape simply have no infinite binding.
var ErrNotPaginated = errors.New("rpcbind: procedure is not paginated")

// ErrInfiniteResume is returned when Resume is called on a server query that
// was created paginated; use ResumeInfinite.
var ErrInfiniteResume = errors.New("rpcbind: server query is paginated, use ResumeInfinite")

// ErrNotInfinite is returned when ResumeInfinite is called on a plain server
// query.
var ErrNotInfinite = errors.New("rpcbind: server query is not paginated")

// KindError reports a dispatch that does not match the leaf's registered
// kind, e.g. CreateMutation on a query leaf.
type KindError struct {
	Path string
	Want Kind
	Got  Kind
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return fmt.Sprintf("rpcbind: procedure %s is a %s, not a %s", e.Path, e.Got, e.Want)
}

// Leaf is a registered terminal node of the procedure tree.
type Leaf struct {
	Path      []string
	Kind      Kind
	Paginated bool
}

// RegisterOption customizes a leaf registration.
type RegisterOption func(*Leaf)

// Paginated marks a query leaf whose input shape admits a cursor, enabling
// infinite-query dispatch on it.
func Paginated() RegisterOption {
	return func(l *Leaf) {
		l.Paginated = true
	}
}

// Registry is the closed, registration-time description of the procedure
// tree. Wiring one into a Binder moves shape-mismatch failures from the
// transport boundary up to dispatch time; without one, dispatch stays lazy
// and misuse fails wherever the RPC client rejects it.
type Registry struct {
	mu     sync.RWMutex
	leaves map[string]Leaf
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{leaves: make(map[string]Leaf)}
}

// Register adds a leaf at the given dotted path, replacing any previous
// registration. Returns the registry for chaining.
func (r *Registry) Register(path string, kind Kind, opts ...RegisterOption) *Registry {
	segments := querykey.SplitPath([]string{path})
	leaf := Leaf{Path: segments, Kind: kind}
	for _, opt := range opts {
		opt(&leaf)
	}

	r.mu.Lock()
	r.leaves[strings.Join(segments, querykey.PathSeparator)] = leaf
	r.mu.Unlock()
	return r
}

// Resolve looks up the leaf at path.
func (r *Registry) Resolve(path []string) (Leaf, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	leaf, ok := r.leaves[strings.Join(path, querykey.PathSeparator)]
	return leaf, ok
}

// require validates a dispatch against the registered leaf. A nil registry
// never objects.
func (r *Registry) require(path []string, want Kind, paginated bool) error {
	if r == nil {
		return nil
	}
	joined := strings.Join(path, querykey.PathSeparator)
	leaf, ok := r.Resolve(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcedure, joined)
	}
	if leaf.Kind != want {
		return &KindError{Path: joined, Want: want, Got: leaf.Kind}
	}
	if paginated && !leaf.Paginated {
		return fmt.Errorf("%w: %s", ErrNotPaginated, joined)
	}
	return nil
}
