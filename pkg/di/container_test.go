package di

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-rpc-query/engine"
	"github.com/goliatone/go-rpc-query/pkg/testsupport"
	"github.com/goliatone/go-rpc-query/rpcbind"
)

func TestNewContainer(t *testing.T) {
	config := engine.Config{
		Capacity:           1000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EarlyRefresh: &engine.EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
		DefaultStaleTime: time.Minute,
		RefetchOnMount:   true,
	}

	container, err := NewContainer(config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	if container == nil {
		t.Fatal("NewContainer() returned nil container")
	}

	if container.Engine() == nil {
		t.Error("Container should have a non-nil engine")
	}

	if container.KeySerializer() == nil {
		t.Error("Container should have a non-nil key serializer")
	}

	storedConfig := container.Config()
	if storedConfig.Capacity != config.Capacity {
		t.Errorf("Expected capacity %d, got %d", config.Capacity, storedConfig.Capacity)
	}

	if storedConfig.TTL != config.TTL {
		t.Errorf("Expected TTL %v, got %v", config.TTL, storedConfig.TTL)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}

	config := container.Config()
	defaultConfig := engine.DefaultConfig()

	if config.Capacity != defaultConfig.Capacity {
		t.Errorf("Expected default capacity %d, got %d", defaultConfig.Capacity, config.Capacity)
	}

	if config.TTL != defaultConfig.TTL {
		t.Errorf("Expected default TTL %v, got %v", defaultConfig.TTL, config.TTL)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	invalidConfig := engine.Config{
		Capacity:           0, // must be > 0
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}

	_, err := NewContainer(invalidConfig)
	if err == nil {
		t.Error("NewContainer() should fail with invalid config")
	}
}

func TestContainerSingletonBehavior(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}

	if container.Engine() != container.Engine() {
		t.Error("Engine() should return the same instance (singleton behavior)")
	}

	if container.KeySerializer() != container.KeySerializer() {
		t.Error("KeySerializer() should return the same instance (singleton behavior)")
	}
}

func TestNewBinder_SharedCache(t *testing.T) {
	config := engine.DefaultConfig()
	config.DefaultStaleTime = time.Minute

	container, err := NewContainer(config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	client := testsupport.NewFakeClient(map[string]testsupport.Route{
		"greeting": {Handle: func(ctx context.Context, input any) (any, error) {
			name, _ := input.(string)
			return "Hello, " + name, nil
		}},
	})

	b1, err := container.NewBinder(client)
	if err != nil {
		t.Fatalf("NewBinder() failed: %v", err)
	}
	b2, err := container.NewBinder(client)
	if err != nil {
		t.Fatalf("NewBinder() failed: %v", err)
	}

	ctx := context.Background()
	if _, err := b1.CreateUtils().Path("greeting").Fetch(ctx, "world"); err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	// Binders from one container share the engine, so the second binder
	// reads the first binder's cached value without another round trip.
	got, err := b2.CreateUtils().Path("greeting").Fetch(ctx, "world")
	if err != nil {
		t.Fatalf("Fetch() via second binder failed: %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("Expected %q, got %q", "Hello, world", got)
	}
	if calls := client.Calls("greeting"); calls != 1 {
		t.Errorf("Expected 1 client call across binders, got %d", calls)
	}
}

func TestNewBinder_WithRegistry(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}

	registry := rpcbind.NewRegistry().
		Register("users.create", rpcbind.KindMutation)

	client := testsupport.NewFakeClient(nil)
	b, err := container.NewBinder(client, WithRegistry(registry))
	if err != nil {
		t.Fatalf("NewBinder() failed: %v", err)
	}

	_, err = b.Procedure("users", "create").CreateQuery(context.Background(), nil)
	if err == nil {
		t.Error("CreateQuery() on a mutation leaf should fail when a registry is configured")
	}
}

func TestDefault(t *testing.T) {
	c1, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	c2, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if c1 != c2 {
		t.Error("Default() should return the same container on every call")
	}
}
