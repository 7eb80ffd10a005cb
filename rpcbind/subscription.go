package rpcbind

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is a live push binding. Teardown is idempotent, and handlers
// firing after teardown began are silently dropped, so a data or error
// callback already in flight when the component unmounts cannot execute into
// a dead component.
type Subscription struct {
	id      string
	stopped atomic.Bool
	unsub   Unsubscriber
}

// CreateSubscription establishes a push subscription immediately, unless the
// call is disabled via WithEnabled(false), in which case an inert
// subscription is returned. The subscription is torn down at lifecycle
// cleanup.
//
// Handler errors do not terminate the subscription; whether to retry or stay
// open is the transport's decision.
func (p *Procedure) CreateSubscription(ctx context.Context, input any, h SubscriptionHandlers, opts ...QueryOption) (*Subscription, error) {
	if err := p.b.cfg.Registry.require(p.path, KindSubscription, false); err != nil {
		return nil, err
	}
	cfg := p.b.callConfig(ctx, opts)

	s := &Subscription{id: uuid.NewString()}
	if !cfg.enabled {
		s.stopped.Store(true)
		return s, nil
	}

	guarded := SubscriptionHandlers{
		OnStarted: func() {
			if s.stopped.Load() {
				return
			}
			if h.OnStarted != nil {
				h.OnStarted()
			}
		},
		OnData: func(value any) {
			if s.stopped.Load() {
				return
			}
			if h.OnData != nil {
				h.OnData(value)
			}
		},
		OnError: func(err error) {
			if s.stopped.Load() {
				return
			}
			if h.OnError != nil {
				h.OnError(err)
			}
		},
	}

	unsub, err := p.b.cfg.Client.Subscribe(ctx, p.dotted(), input, guarded)
	if err != nil {
		return nil, err
	}
	s.unsub = unsub

	cfg.lifecycle.OnCleanup(s.Unsubscribe)
	return s, nil
}

// ID identifies this subscription instance.
func (s *Subscription) ID() string {
	return s.id
}

// Stopped reports whether teardown has begun.
func (s *Subscription) Stopped() bool {
	return s.stopped.Load()
}

// Unsubscribe tears the subscription down. Safe to call any number of times,
// from any goroutine; only the first call reaches the transport.
func (s *Subscription) Unsubscribe() {
	if s.stopped.Swap(true) {
		return
	}
	if s.unsub != nil {
		s.unsub.Unsubscribe()
	}
}
