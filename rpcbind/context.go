package rpcbind

import "context"

type lifecycleContextKey struct{}

// WithLifecycle attaches a component lifecycle to the context. Bindings
// created under this context register their mount and cleanup hooks against
// it, overriding the binder's configured lifecycle for those calls.
func WithLifecycle(ctx context.Context, lc Lifecycle) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if lc == nil {
		return ctx
	}
	return context.WithValue(ctx, lifecycleContextKey{}, lc)
}

func lifecycleFromContext(ctx context.Context) Lifecycle {
	if ctx == nil {
		return nil
	}
	if lc, ok := ctx.Value(lifecycleContextKey{}).(Lifecycle); ok {
		return lc
	}
	return nil
}
