package di

import (
	"sync"

	"github.com/goliatone/go-rpc-query/engine"
	"github.com/goliatone/go-rpc-query/querykey"
	"github.com/goliatone/go-rpc-query/rpcbind"
)

// Container provides dependency injection for the binding stack. It manages
// singleton instances of the cache engine and key serializer, and provides
// factory methods for creating binders over different clients that share
// the same cache.
type Container struct {
	engine     engine.Engine
	serializer querykey.Serializer
	config     engine.Config
}

// NewContainer creates a new DI container with the provided engine
// configuration. It initializes the cache engine and the default key
// serializer for consistent key generation across binders.
func NewContainer(config engine.Config) (*Container, error) {
	eng, err := engine.New(config)
	if err != nil {
		return nil, err
	}

	serializer := config.KeySerializer
	if serializer == nil {
		serializer = querykey.NewDefaultSerializer()
	}

	return &Container{
		engine:     eng,
		serializer: serializer,
		config:     config,
	}, nil
}

// NewContainerWithDefaults creates a new DI container using default
// configuration. This is a convenience constructor for typical use cases
// where custom configuration is not required.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(engine.DefaultConfig())
}

// Engine returns the singleton cache engine instance.
// This allows direct cache access for advanced use cases.
func (c *Container) Engine() engine.Engine {
	return c.engine
}

// KeySerializer returns the singleton key serializer instance.
func (c *Container) KeySerializer() querykey.Serializer {
	return c.serializer
}

// Config returns a copy of the engine configuration used by this container.
func (c *Container) Config() engine.Config {
	return c.config
}

// NewBinder creates a binder over the provided client, wired to the
// container's shared engine and serializer. Multiple binders created from
// one container observe a single cache, so invalidation through one is
// visible to all.
func (c *Container) NewBinder(client rpcbind.Client, opts ...BinderOption) (*rpcbind.Binder, error) {
	cfg := rpcbind.Config{
		Client:        client,
		Engine:        c.engine,
		KeySerializer: c.serializer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return rpcbind.New(cfg)
}

// BinderOption customizes the binder a container produces.
type BinderOption func(*rpcbind.Config)

// WithRegistry enables dispatch validation against the given procedure
// registry.
func WithRegistry(r *rpcbind.Registry) BinderOption {
	return func(cfg *rpcbind.Config) { cfg.Registry = r }
}

// WithLifecycle sets the binder-wide default lifecycle.
func WithLifecycle(lc rpcbind.Lifecycle) BinderOption {
	return func(cfg *rpcbind.Config) { cfg.Lifecycle = lc }
}

// WithAbortOnUnmount makes in-flight fetches cancel when a binding's
// lifecycle cleans up.
func WithAbortOnUnmount() BinderOption {
	return func(cfg *rpcbind.Config) { cfg.AbortOnUnmount = true }
}

var (
	defaultOnce      sync.Once
	defaultContainer *Container
	defaultErr       error
)

// Default returns the process-wide container, constructing it with default
// configuration on first use. Hosts that embed several entrypoints in one
// process get a single shared cache without plumbing the container through.
func Default() (*Container, error) {
	defaultOnce.Do(func() {
		defaultContainer, defaultErr = NewContainerWithDefaults()
	})
	return defaultContainer, defaultErr
}
