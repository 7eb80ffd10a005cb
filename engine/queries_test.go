package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func batchSpecs(delay time.Duration) []FetchSpec {
	values := []any{"a", "b", "c"}
	specs := make([]FetchSpec, len(values))
	for i, v := range values {
		v := v
		specs[i] = FetchSpec{
			Key: queryKey("batch.item", v),
			Fetch: func(ctx context.Context) (any, error) {
				if delay > 0 {
					time.Sleep(delay)
				}
				return v, nil
			},
		}
	}
	return specs
}

func TestQueries_StatesInDescriptorOrder(t *testing.T) {
	eng := newTestEngine(t, time.Minute)
	ctx := context.Background()

	q := eng.CreateQueries(batchSpecs(0), nil)
	defer q.Close()

	if q.Len() != 3 {
		t.Fatalf("expected 3 children, got %d", q.Len())
	}

	if err := q.Mount(ctx); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	states := q.States()
	want := []any{"a", "b", "c"}
	for i, st := range states {
		if st.Status != StatusSuccess || st.Data != want[i] {
			t.Errorf("state[%d] = %+v, want success with %v", i, st, want[i])
		}
	}

	for i := 0; i < q.Len(); i++ {
		if q.At(i).State().Data != want[i] {
			t.Errorf("At(%d) data = %v, want %v", i, q.At(i).State().Data, want[i])
		}
	}
}

func TestQueries_MountRunsConcurrently(t *testing.T) {
	eng := newTestEngine(t, time.Minute)
	ctx := context.Background()

	const perFetch = 30 * time.Millisecond
	q := eng.CreateQueries(batchSpecs(perFetch), nil)
	defer q.Close()

	start := time.Now()
	if err := q.Mount(ctx); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	elapsed := time.Since(start)

	// Three sequential 30ms fetches would take 90ms+; concurrent mounting
	// should finish close to a single fetch.
	if elapsed >= 75*time.Millisecond {
		t.Errorf("expected concurrent mount, took %v", elapsed)
	}
}

func TestQueries_Combined(t *testing.T) {
	eng := newTestEngine(t, time.Minute)
	ctx := context.Background()

	combine := func(states []QueryState) any {
		out := ""
		for _, st := range states {
			if s, ok := st.Data.(string); ok {
				out += s
			}
		}
		return out
	}

	q := eng.CreateQueries(batchSpecs(0), combine)
	defer q.Close()

	q.Mount(ctx)

	if got := q.Combined(); got != "abc" {
		t.Errorf("Combined() = %v, want abc", got)
	}
}

func TestQueries_SubscribeBroadcastsChildChanges(t *testing.T) {
	eng := newTestEngine(t, time.Minute)
	ctx := context.Background()

	q := eng.CreateQueries(batchSpecs(0), nil)
	defer q.Close()

	var broadcasts atomic.Int64
	unsub := q.Subscribe(func(states []QueryState) {
		if len(states) != 3 {
			t.Errorf("broadcast carried %d states, want 3", len(states))
		}
		broadcasts.Add(1)
	})
	defer unsub()

	q.Mount(ctx)

	if broadcasts.Load() == 0 {
		t.Error("expected at least one broadcast during mount")
	}
}

func TestQueries_CloseDetachesChildren(t *testing.T) {
	eng := newTestEngine(t, time.Minute)
	ctx := context.Background()

	q := eng.CreateQueries(batchSpecs(0), nil)
	q.Mount(ctx)

	var broadcasts atomic.Int64
	q.Subscribe(func([]QueryState) { broadcasts.Add(1) })
	q.Close()

	// Touching a shared entry after Close must not reach the batch.
	eng.SetQueryData(queryKey("batch.item", "a"), "changed")

	if n := broadcasts.Load(); n != 0 {
		t.Errorf("closed batch received %d broadcasts", n)
	}
}
