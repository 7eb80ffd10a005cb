package engine

import "time"

// QueryOptions tunes a single read binding or fetch. Nil pointer fields fall
// back to the engine's construction-time defaults, so a zero QueryOptions
// means "use defaults".
type QueryOptions struct {
	// Enabled gates the binding: a disabled binding never fetches on
	// mount. Default true.
	Enabled *bool

	// StaleTime is how long fetched data stays fresh. Data older than
	// this is refetched on mount. Default comes from Config.
	StaleTime *time.Duration

	// RefetchOnMount controls whether stale data triggers a fetch when a
	// binding mounts. A missing entry is always fetched regardless.
	RefetchOnMount *bool

	// InitialData seeds the entry before the first fetch.
	InitialData any
}

// Bool returns a pointer to b, for use in option literals.
func Bool(b bool) *bool { return &b }

// Duration returns a pointer to d, for use in option literals.
func Duration(d time.Duration) *time.Duration { return &d }

// withDefaults fills nil fields of o from d.
func (o QueryOptions) withDefaults(d QueryOptions) QueryOptions {
	if o.Enabled == nil {
		o.Enabled = d.Enabled
	}
	if o.StaleTime == nil {
		o.StaleTime = d.StaleTime
	}
	if o.RefetchOnMount == nil {
		o.RefetchOnMount = d.RefetchOnMount
	}
	return o
}

// merge overlays non-nil fields of other onto o.
func (o QueryOptions) merge(other QueryOptions) QueryOptions {
	if other.Enabled != nil {
		o.Enabled = other.Enabled
	}
	if other.StaleTime != nil {
		o.StaleTime = other.StaleTime
	}
	if other.RefetchOnMount != nil {
		o.RefetchOnMount = other.RefetchOnMount
	}
	if other.InitialData != nil {
		o.InitialData = other.InitialData
	}
	return o
}

func (o QueryOptions) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}

func (o QueryOptions) staleTime() time.Duration {
	if o.StaleTime == nil {
		return 0
	}
	return *o.StaleTime
}

func (o QueryOptions) refetchOnMount() bool {
	return o.RefetchOnMount == nil || *o.RefetchOnMount
}

// MutationOptions carries the side-effect callbacks of a mutation binding.
// Callbacks registered as per-key defaults (SetMutationDefaults) fill any
// nil slot at Mutate time.
type MutationOptions struct {
	OnSuccess func(data any, input any)
	OnError   func(err error, input any)
	OnSettled func(data any, err error, input any)
}

// withDefaults fills nil callbacks of o from d.
func (o MutationOptions) withDefaults(d MutationOptions) MutationOptions {
	if o.OnSuccess == nil {
		o.OnSuccess = d.OnSuccess
	}
	if o.OnError == nil {
		o.OnError = d.OnError
	}
	if o.OnSettled == nil {
		o.OnSettled = d.OnSettled
	}
	return o
}
