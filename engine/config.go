package engine

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-rpc-query/querykey"
)

// Config holds the configuration for the default cache engine. Storage
// behaviour (capacity, sharding, TTL, eviction, early refresh) maps onto the
// underlying sturdyc client; staleness defaults apply to bindings.
type Config struct {
	// Capacity defines the maximum number of entries the value store can
	// hold. Must be greater than 0.
	Capacity int

	// NumShards determines the number of store shards for concurrent
	// access. Must be greater than 0.
	NumShards int

	// TTL is the storage time-to-live for cached values. After this
	// duration values are eligible for eviction. Must be greater than 0.
	// Note this is garbage collection, not staleness: a value can be
	// stale (past DefaultStaleTime) long before it is evicted.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the store checks for expired
	// entries. Zero uses the store's default.
	EvictionInterval time.Duration

	// EarlyRefresh configures background refresh of frequently-read
	// values before they expire. Nil disables it.
	EarlyRefresh *EarlyRefreshConfig

	// DefaultStaleTime is the staleness window applied to bindings that
	// do not set their own. Zero means data is always considered stale,
	// so every mount refetches.
	DefaultStaleTime time.Duration

	// RefetchOnMount is the default for whether stale entries are
	// refetched when a binding mounts.
	RefetchOnMount bool

	// KeySerializer flattens structural keys for the store. Nil selects
	// querykey.NewDefaultSerializer.
	KeySerializer querykey.Serializer
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		DefaultStaleTime:   0,
		RefetchOnMount:     true,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultStaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.EarlyRefresh),
	)
}

// Validate checks the early refresh durations.
func (c EarlyRefreshConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MinAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&c.SyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryBaseDelay, validation.Min(time.Duration(0))),
	)
}

// toSturdycOptions maps the storage parts of the configuration to sturdyc
// options. Capacity, NumShards, TTL and EvictionPercentage are passed
// directly to sturdyc.New and are not included here.
func (c Config) toSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// New constructs the default Engine implementation backed by a sturdyc value
// store. The store handles capacity, eviction and fetch stampede protection;
// the engine layers entry states, staleness bookkeeping and observers on top.
func New(cfg Config) (Engine, error) {
	if cfg.KeySerializer == nil {
		cfg.KeySerializer = querykey.NewDefaultSerializer()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.toSturdycOptions()...,
	)

	refetch := cfg.RefetchOnMount

	return &cacheEngine{
		store:            store,
		serializer:       cfg.KeySerializer,
		entries:          xsync.NewMapOf[string, *entry](),
		mutationDefaults: xsync.NewMapOf[string, MutationOptions](),
		mutations:        xsync.NewMapOf[string, *mutationRecord](),
		defaults: QueryOptions{
			StaleTime:      Duration(cfg.DefaultStaleTime),
			RefetchOnMount: &refetch,
		},
	}, nil
}
