package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-rpc-query/rpcbind"
)

// Route is one scripted procedure in a FakeClient. Delay, when set, is slept
// before Handle runs, so tests can assert on fetch concurrency.
type Route struct {
	Handle func(ctx context.Context, input any) (any, error)
	Delay  time.Duration
}

// FakeClient is a scripted in-memory rpcbind.Client. It records every call
// per dotted path and answers from a route table, which keeps binding tests
// free of real transports.
type FakeClient struct {
	mu     sync.Mutex
	routes map[string]Route
	calls  map[string]int
}

// NewFakeClient builds a client answering from the given route table.
func NewFakeClient(routes map[string]Route) *FakeClient {
	return &FakeClient{
		routes: routes,
		calls:  make(map[string]int),
	}
}

// Query dispatches to the scripted route for path.
func (f *FakeClient) Query(ctx context.Context, path string, input any) (any, error) {
	return f.call(ctx, path, input)
}

// Mutate dispatches to the scripted route for path.
func (f *FakeClient) Mutate(ctx context.Context, path string, input any) (any, error) {
	return f.call(ctx, path, input)
}

// Subscribe starts a scripted subscription. The route's Handle is invoked
// once with the input; its result is delivered through OnData after
// OnStarted fires. Teardown is a no-op beyond marking the subscription
// stopped.
func (f *FakeClient) Subscribe(ctx context.Context, path string, input any, h rpcbind.SubscriptionHandlers) (rpcbind.Unsubscriber, error) {
	out, err := f.call(ctx, path, input)
	if err != nil {
		return nil, err
	}
	if h.OnStarted != nil {
		h.OnStarted()
	}
	if h.OnData != nil {
		h.OnData(out)
	}
	return rpcbind.UnsubscribeFunc(func() {}), nil
}

// Calls reports how many times path has been dispatched.
func (f *FakeClient) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *FakeClient) call(ctx context.Context, path string, input any) (any, error) {
	f.mu.Lock()
	route, ok := f.routes[path]
	f.calls[path]++
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("testsupport: no route for %q", path)
	}
	if route.Delay > 0 {
		select {
		case <-time.After(route.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return route.Handle(ctx, input)
}
