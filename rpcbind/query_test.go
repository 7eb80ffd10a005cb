package rpcbind

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-rpc-query/engine"
)

func TestCreateQuery_ImmediateLifecycleFetchesSynchronously(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)

	q, err := b.Procedure("greeting").CreateQuery(context.Background(), "world")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q.Close()

	st := q.State()
	if st.Status != engine.StatusSuccess {
		t.Fatalf("expected success after immediate mount, got %v", st.Status)
	}
	if st.Data != "Hello, world" {
		t.Errorf("unexpected data: %v", st.Data)
	}
	if client.callCount("greeting") != 1 {
		t.Errorf("expected one client call, got %d", client.callCount("greeting"))
	}
}

func TestCreateQuery_SharedEntryAcrossBindings(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)
	ctx := context.Background()

	q1, err := b.Procedure("greeting").CreateQuery(ctx, "world")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q1.Close()

	// Same key, fresh data: the second binding reads the shared entry.
	q2, err := b.Procedure("greeting").CreateQuery(ctx, "world")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q2.Close()

	if client.callCount("greeting") != 1 {
		t.Errorf("expected one client call across bindings, got %d", client.callCount("greeting"))
	}
	if q2.State().Data != "Hello, world" {
		t.Errorf("second binding should see cached data, got %v", q2.State().Data)
	}

	// Distinct input, distinct entry.
	q3, err := b.Procedure("greeting").CreateQuery(ctx, "mars")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q3.Close()

	if client.callCount("greeting") != 2 {
		t.Errorf("distinct input should fetch separately, got %d calls", client.callCount("greeting"))
	}
}

func TestCreateQuery_InitialDataSkipsFetchWhileFresh(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)

	q, err := b.Procedure("greeting").CreateQuery(context.Background(), "seeded",
		WithInitialData("Hello, seeded"))
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q.Close()

	if got := q.State().Data; got != "Hello, seeded" {
		t.Errorf("expected seeded data, got %v", got)
	}
	if client.callCount("greeting") != 0 {
		t.Errorf("seeded fresh entry should not fetch, got %d calls", client.callCount("greeting"))
	}
}

func TestCreateQuery_ZeroStaleTimeRefetchesPerBinding(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		q, err := b.Procedure("greeting").CreateQuery(ctx, "world", WithStaleTime(0))
		if err != nil {
			t.Fatalf("CreateQuery failed: %v", err)
		}
		q.Close()
	}

	if client.callCount("greeting") != 2 {
		t.Errorf("zero stale time should refetch on every mount, got %d calls", client.callCount("greeting"))
	}
}

func TestCreateQuery_ReactiveStoreInput(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)

	input := NewStore("world")
	q, err := b.Procedure("greeting").CreateQuery(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q.Close()

	if got := q.State().Data; got != "Hello, world" {
		t.Fatalf("expected initial fetch, got %v", got)
	}

	var mu sync.Mutex
	var seen []any
	unsub := q.Subscribe(func(st engine.QueryState) {
		if st.Status == engine.StatusSuccess {
			mu.Lock()
			seen = append(seen, st.Data)
			mu.Unlock()
		}
	})
	defer unsub()

	// Changing the store swaps the key and re-runs the mount decision;
	// Set notifies synchronously and the new entry fetches inline.
	input.Set("mars")

	if got := q.State().Data; got != "Hello, mars" {
		t.Errorf("expected refetched data for new input, got %v", got)
	}
	if client.callCount("greeting") != 2 {
		t.Errorf("expected one fetch per store value, got %d calls", client.callCount("greeting"))
	}

	mu.Lock()
	sawNew := false
	for _, d := range seen {
		if d == "Hello, mars" {
			sawNew = true
		}
	}
	mu.Unlock()
	if !sawNew {
		t.Error("outer subscriber should observe the swapped entry's data")
	}

	// Flipping back to an already-cached value is a cache hit.
	input.Set("world")
	if got := q.State().Data; got != "Hello, world" {
		t.Errorf("expected cached data for prior input, got %v", got)
	}
	if client.callCount("greeting") != 2 {
		t.Errorf("cached input should not refetch, got %d calls", client.callCount("greeting"))
	}
}

func TestCreateQuery_ReactiveOptionsStore(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)
	ctx := context.Background()

	// Seed the entry so the mount decision turns entirely on staleness.
	b.CreateUtils().Path("greeting").SetData("world", "Hello, world")

	// Control: fresh data with refetch-on-mount enabled does not fetch.
	lc1 := NewManualLifecycle()
	opts1 := NewStore(nil)
	q1, err := b.Procedure("greeting").CreateQuery(ctx, "world",
		WithCallLifecycle(lc1), WithRefetchOnMount(true), WithReactiveOptions(opts1))
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q1.Close()
	lc1.Mount()
	if client.callCount("greeting") != 0 {
		t.Fatalf("fresh entry should not fetch at mount, got %d calls", client.callCount("greeting"))
	}

	// Tightening staleness to zero through the options store before mount
	// makes the same decision fetch.
	lc2 := NewManualLifecycle()
	opts2 := NewStore(nil)
	q2, err := b.Procedure("greeting").CreateQuery(ctx, "world",
		WithCallLifecycle(lc2), WithRefetchOnMount(true), WithReactiveOptions(opts2))
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q2.Close()

	opts2.Set(engine.QueryOptions{StaleTime: engine.Duration(0)})
	lc2.Mount()
	if client.callCount("greeting") != 1 {
		t.Errorf("zero stale time via options store should fetch at mount, got %d calls", client.callCount("greeting"))
	}
}

func TestCreateQuery_AbortOnUnmountCancelsInflight(t *testing.T) {
	started := make(chan struct{})
	client := newScriptedClient(map[string]routeFn{
		"slow": func(ctx context.Context, input any) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	b := newTestBinder(t, client)

	lc := NewManualLifecycle()
	q, err := b.Procedure("slow").CreateQuery(context.Background(), nil,
		WithCallLifecycle(lc), WithAbortOnUnmount(true))
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		lc.Mount()
		close(done)
	}()

	<-started
	lc.Cleanup()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not unblock after cleanup cancelled the fetch")
	}

	// Cancellation is not an error state; the entry stays pristine.
	st := q.State()
	if st.Status != engine.StatusPending {
		t.Errorf("expected pending after abort, got %v", st.Status)
	}
	if st.Error != nil {
		t.Errorf("abort should not record an error, got %v", st.Error)
	}
}

func TestCreateQuery_AbortOnUnmountCoversStoreRefetch(t *testing.T) {
	started := make(chan struct{})
	client := newScriptedClient(map[string]routeFn{
		"watch": func(ctx context.Context, input any) (any, error) {
			if input == "blocking" {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "ok", nil
		},
	})
	b := newTestBinder(t, client)

	lc := NewManualLifecycle()
	input := NewStore("fast")
	q, err := b.Procedure("watch").CreateQuery(context.Background(), input,
		WithCallLifecycle(lc), WithAbortOnUnmount(true))
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	defer q.Close()

	lc.Mount()
	if q.State().Data != "ok" {
		t.Fatalf("expected mounted data, got %v", q.State().Data)
	}

	// A store change triggers a refetch; that fetch must run under the
	// same cancellable context as the mount fetch.
	done := make(chan struct{})
	go func() {
		input.Set("blocking")
		close(done)
	}()

	<-started
	lc.Cleanup()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("store-triggered refetch was not aborted at cleanup")
	}
}

func TestReactiveQuery_SwapAfterCloseIsRejected(t *testing.T) {
	client := newScriptedClient(greetingRoutes())
	b := newTestBinder(t, client)

	input := NewStore("world")
	q, err := b.Procedure("greeting").CreateQuery(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}

	r, ok := q.(*reactiveQuery)
	if !ok {
		t.Fatalf("expected reactive binding, got %T", q)
	}

	q.Close()

	before := r.inner
	if r.swap("mars") {
		t.Error("swap after close must be rejected")
	}
	if r.inner != before {
		t.Error("rejected swap must leave the inner binding untouched")
	}

	// Store changes after close never reach the client.
	input.Set("mars")
	if client.callCount("greeting") != 1 {
		t.Errorf("closed binding refetched, got %d calls", client.callCount("greeting"))
	}
}

func newPagedClient() *scriptedClient {
	pages := map[string][]string{
		"":   {"a", "b"},
		"c2": {"c", "d"},
		"c3": {"e"},
	}
	next := map[string]string{"": "c2", "c2": "c3"}

	return newScriptedClient(map[string]routeFn{
		"users.list": func(ctx context.Context, input any) (any, error) {
			cursor := ""
			if m, ok := input.(map[string]any); ok {
				if c, ok := m["cursor"].(string); ok {
					cursor = c
				}
			}
			items, ok := pages[cursor]
			if !ok {
				return nil, fmt.Errorf("unknown cursor %q", cursor)
			}
			page := map[string]any{"items": items}
			if n, ok := next[cursor]; ok {
				page["next"] = n
			}
			return page, nil
		},
	})
}

func pageNextCursor(lastPage any) (any, bool) {
	m, ok := lastPage.(map[string]any)
	if !ok {
		return nil, false
	}
	n, ok := m["next"]
	return n, ok
}

func TestCreateInfiniteQuery_PaginatesThroughCursors(t *testing.T) {
	client := newPagedClient()
	b := newTestBinder(t, client)
	ctx := context.Background()

	q, err := b.Procedure("users.list").CreateInfiniteQuery(ctx,
		map[string]any{"limit": 2},
		WithNextCursor(pageNextCursor))
	if err != nil {
		t.Fatalf("CreateInfiniteQuery failed: %v", err)
	}
	defer q.Close()

	pages := func() engine.InfiniteData {
		data, _ := q.State().Data.(engine.InfiniteData)
		return data
	}

	if got := len(pages().Pages); got != 1 {
		t.Fatalf("expected first page after mount, got %d pages", got)
	}

	if err := q.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage failed: %v", err)
	}
	if err := q.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage failed: %v", err)
	}

	data := pages()
	if len(data.Pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(data.Pages))
	}
	if !reflect.DeepEqual(data.Cursors, []any{nil, "c2", "c3"}) {
		t.Errorf("unexpected cursors: %v", data.Cursors)
	}
	last, _ := data.Pages[2].(map[string]any)
	if !reflect.DeepEqual(last["items"], []string{"e"}) {
		t.Errorf("unexpected last page: %v", last)
	}

	// Exhausted: NextCursor reports no more pages, the call is a no-op.
	if err := q.FetchNextPage(ctx); err != nil {
		t.Errorf("exhausted FetchNextPage should be a no-op, got %v", err)
	}
	if got := client.callCount("users.list"); got != 3 {
		t.Errorf("expected 3 page fetches, got %d", got)
	}
}

func TestCreateInfiniteQuery_ReactiveStoreInput(t *testing.T) {
	client := newPagedClient()
	b := newTestBinder(t, client)
	ctx := context.Background()

	input := NewStore(map[string]any{"limit": 2})
	q, err := b.Procedure("users.list").CreateInfiniteQuery(ctx, input,
		WithNextCursor(pageNextCursor))
	if err != nil {
		t.Fatalf("CreateInfiniteQuery failed: %v", err)
	}
	defer q.Close()

	if client.callCount("users.list") != 1 {
		t.Fatalf("expected first-page fetch at mount, got %d calls", client.callCount("users.list"))
	}

	// The key derives from the store's value, not the store itself: the
	// same entry is addressable through the plain value.
	if _, ok := b.CreateUtils().Path("users.list").GetInfiniteData(map[string]any{"limit": 2}); !ok {
		t.Error("entry should be addressable by the store's value")
	}
	key := b.Procedure("users.list").GetInfiniteQueryKey(map[string]any{"limit": 2})
	if !key.Equal(b.Procedure("users.list").GetInfiniteQueryKey(input.Get())) {
		t.Error("store-derived and value-derived keys should be equal")
	}

	// Changing the store swaps to the new key and fetches its first page.
	input.Set(map[string]any{"limit": 3})
	if client.callCount("users.list") != 2 {
		t.Errorf("store change should fetch the new key, got %d calls", client.callCount("users.list"))
	}
	if _, ok := b.CreateUtils().Path("users.list").GetInfiniteData(map[string]any{"limit": 3}); !ok {
		t.Error("new entry should be addressable by the new value")
	}

	// Pagination continues on the current key through the outer binding.
	if err := q.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage failed: %v", err)
	}
	data, _ := q.State().Data.(engine.InfiniteData)
	if len(data.Pages) != 2 {
		t.Errorf("expected 2 pages after next-page fetch, got %d", len(data.Pages))
	}

	// Flipping back to a cached value is a hit: its pages are retained.
	input.Set(map[string]any{"limit": 2})
	data, _ = q.State().Data.(engine.InfiniteData)
	if len(data.Pages) != 1 {
		t.Errorf("prior key should retain its own pages, got %d", len(data.Pages))
	}
	if got := client.callCount("users.list"); got != 3 {
		t.Errorf("cached key must not refetch, got %d calls", got)
	}
}

func TestCreateInfiniteQuery_WithoutNextCursorFails(t *testing.T) {
	client := newPagedClient()
	b := newTestBinder(t, client)
	ctx := context.Background()

	q, err := b.Procedure("users.list").CreateInfiniteQuery(ctx, nil)
	if err != nil {
		t.Fatalf("CreateInfiniteQuery failed: %v", err)
	}
	defer q.Close()

	if err := q.FetchNextPage(ctx); !errors.Is(err, engine.ErrNoNextCursor) {
		t.Errorf("expected ErrNoNextCursor, got %v", err)
	}
}

func TestMergeCursor(t *testing.T) {
	type listInput struct {
		Limit  int    `json:"limit"`
		Filter string `json:"filter,omitempty"`
		Secret string `json:"-"`
	}

	testCases := []struct {
		name   string
		input  any
		cursor any
		want   any
	}{
		{
			name:   "nil cursor passes input through",
			input:  map[string]any{"limit": 2},
			cursor: nil,
			want:   map[string]any{"limit": 2},
		},
		{
			name:   "nil input becomes cursor-only map",
			input:  nil,
			cursor: "c2",
			want:   map[string]any{"cursor": "c2"},
		},
		{
			name:   "map input gains cursor field",
			input:  map[string]any{"limit": 2},
			cursor: "c2",
			want:   map[string]any{"limit": 2, "cursor": "c2"},
		},
		{
			name:   "struct input flattens via json tags",
			input:  listInput{Limit: 5, Filter: "active", Secret: "x"},
			cursor: "c3",
			want:   map[string]any{"limit": 5, "filter": "active", "cursor": "c3"},
		},
		{
			name:   "pointer to struct flattens",
			input:  &listInput{Limit: 1},
			cursor: "c2",
			want:   map[string]any{"limit": 1, "filter": "", "cursor": "c2"},
		},
		{
			name:   "scalar input cannot carry a cursor",
			input:  42,
			cursor: "c2",
			want:   42,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeCursor(tc.input, tc.cursor)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("mergeCursor() = %#v, want %#v", got, tc.want)
			}
		})
	}

	t.Run("map input is not mutated", func(t *testing.T) {
		in := map[string]any{"limit": 2}
		mergeCursor(in, "c2")
		if _, ok := in["cursor"]; ok {
			t.Error("mergeCursor must copy map inputs")
		}
	})
}
