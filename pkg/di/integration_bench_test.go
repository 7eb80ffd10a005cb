package di

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-rpc-query/engine"
	"github.com/goliatone/go-rpc-query/querykey"
	"github.com/goliatone/go-rpc-query/rpcbind"
)

func benchContainer(tb testing.TB) (*Container, *rpcbind.Binder, *userService) {
	tb.Helper()

	config := engine.Config{
		Capacity:           10000,
		NumShards:          16,
		TTL:                time.Minute,
		EvictionPercentage: 10,
		DefaultStaleTime:   time.Minute,
		RefetchOnMount:     true,
	}

	container, err := NewContainer(config)
	if err != nil {
		tb.Fatalf("Failed to create DI container: %v", err)
	}

	svc := newUserService()
	binder, err := container.NewBinder(newUserClient(svc), WithRegistry(newUserRegistry()))
	if err != nil {
		tb.Fatalf("Failed to create binder: %v", err)
	}
	return container, binder, svc
}

// TestConcurrentAccess runs many workers through the same binder to verify
// the caching layer holds up under contention and actually reduces client
// round trips.
func TestConcurrentAccess(t *testing.T) {
	_, binder, svc := benchContainer(t)

	for i := 0; i < 100; i++ {
		svc.create(User{
			ID:    i + 1,
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
		})
	}

	ctx := context.Background()
	getByID := binder.CreateUtils().Path("users", "getById")
	list := binder.CreateUtils().Path("users", "list")

	const numGoroutines = 50
	const operationsPerGoroutine = 20

	var wg sync.WaitGroup
	errCh := make(chan error, numGoroutines*operationsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for j := 0; j < operationsPerGoroutine; j++ {
				id := (workerID*operationsPerGoroutine+j)%100 + 1

				if _, err := getByID.Fetch(ctx, id); err != nil {
					errCh <- fmt.Errorf("worker %d operation %d Fetch failed: %v", workerID, j, err)
					continue
				}

				if j%5 == 0 {
					if _, err := list.Fetch(ctx, nil); err != nil {
						errCh <- fmt.Errorf("worker %d operation %d list failed: %v", workerID, j, err)
					}
				}
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	var errorCount int
	for err := range errCh {
		t.Error(err)
		errorCount++
		if errorCount > 10 {
			t.Error("... and more errors")
			break
		}
	}
	if errorCount > 0 {
		t.Fatalf("Concurrent access test failed with %d errors", errorCount)
	}

	// The cache should collapse most operations onto few client calls.
	totalOperations := numGoroutines * operationsPerGoroutine
	clientCalls := svcCallTotal(binder)
	if clientCalls >= totalOperations {
		t.Errorf("Expected cache to reduce client calls: got %d calls for %d operations", clientCalls, totalOperations)
	}

	t.Logf("Concurrent test completed: %d operations resulted in %d client calls", totalOperations, clientCalls)
}

func svcCallTotal(binder *rpcbind.Binder) int {
	client := binder.Client().(interface{ Calls(string) int })
	return client.Calls("users.getById") + client.Calls("users.list")
}

// BenchmarkKeySerialization benchmarks key derivation plus serialization for
// representative input shapes.
func BenchmarkKeySerialization(b *testing.B) {
	serializer := querykey.NewDefaultSerializer()
	path := []string{"users", "getById"}

	testCases := []struct {
		name  string
		input any
	}{
		{name: "scalar_input", input: 123},
		{
			name: "struct_input",
			input: User{
				ID:    42,
				Name:  "Benchmark User",
				Email: "bench@example.com",
			},
		},
		{name: "slice_input", input: []string{"a", "b", "c"}},
		{
			name: "map_input",
			input: map[string]any{
				"key1": "value1",
				"key2": 42,
				"key3": true,
			},
		},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			key := querykey.Derive(path, tc.input, querykey.TypeQuery)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = serializer.Serialize(key)
			}
		})
	}
}

// BenchmarkCachedVsDirectClient compares a cache hit against a direct client
// round trip.
func BenchmarkCachedVsDirectClient(b *testing.B) {
	_, binder, svc := benchContainer(b)

	for i := 0; i < 100; i++ {
		svc.create(User{ID: i + 1, Name: fmt.Sprintf("User %d", i)})
	}

	ctx := context.Background()
	getByID := binder.CreateUtils().Path("users", "getById")

	b.Run("direct_client", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = binder.Client().Query(ctx, "users.getById", i%100+1)
		}
	})

	// Warm the cache before measuring hits.
	for i := 0; i < 100; i++ {
		getByID.Fetch(ctx, i+1)
	}

	b.Run("cache_hit", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = getByID.Fetch(ctx, i%100+1)
		}
	})
}

// BenchmarkConcurrentCacheAccess benchmarks cache hits under parallel load.
func BenchmarkConcurrentCacheAccess(b *testing.B) {
	_, binder, svc := benchContainer(b)

	ctx := context.Background()
	getByID := binder.CreateUtils().Path("users", "getById")

	for i := 0; i < 100; i++ {
		svc.create(User{ID: i + 1, Name: fmt.Sprintf("User %d", i)})
		getByID.Fetch(ctx, i+1)
	}

	b.Run("concurrent_cache_hits", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				_, _ = getByID.Fetch(ctx, i%100+1)
				i++
			}
		})
	})
}
