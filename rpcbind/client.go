package rpcbind

import "context"

// Client is the opaque RPC transport this layer adapts. Procedures are
// addressed by dotted path; inputs and results are opaque values. Errors
// surfaced by these calls propagate untouched into the cache engine's error
// channel.
//
// Cancellation is carried by the context: when abort-on-unmount is enabled
// the binding's context is cancelled at cleanup, and the transport is
// expected to abort the in-flight call.
type Client interface {
	Query(ctx context.Context, path string, input any) (any, error)
	Mutate(ctx context.Context, path string, input any) (any, error)
	Subscribe(ctx context.Context, path string, input any, h SubscriptionHandlers) (Unsubscriber, error)
}

// SubscriptionHandlers carries the push callbacks of a subscription. Any of
// them may be nil.
type SubscriptionHandlers struct {
	OnStarted func()
	OnData    func(value any)
	OnError   func(err error)
}

// Unsubscriber tears down an established subscription.
type Unsubscriber interface {
	Unsubscribe()
}

// UnsubscribeFunc adapts a plain func to Unsubscriber.
type UnsubscribeFunc func()

// Unsubscribe implements Unsubscriber.
func (f UnsubscribeFunc) Unsubscribe() { f() }
