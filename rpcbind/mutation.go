package rpcbind

import (
	"context"

	"github.com/goliatone/go-rpc-query/engine"
)

// CreateMutation binds a write of this procedure. Mutations are keyed by
// bare path: they are actions, not cacheable reads, so the input never
// enters the key. Per-key defaults registered through the utils tree fill
// any callback this call leaves unset.
func (p *Procedure) CreateMutation(ctx context.Context, opts ...MutationOption) (engine.Mutation, error) {
	if err := p.b.cfg.Registry.require(p.path, KindMutation, false); err != nil {
		return nil, err
	}

	var mopts engine.MutationOptions
	for _, opt := range opts {
		opt(&mopts)
	}

	client := p.b.cfg.Client
	path := p.dotted()
	spec := engine.MutationSpec{
		Key: p.PathKey(),
		Mutate: func(ctx context.Context, input any) (any, error) {
			return client.Mutate(ctx, path, input)
		},
		Options: mopts,
	}

	m := p.b.cfg.Engine.CreateMutation(spec)

	cfg := p.b.callConfig(ctx, nil)
	cfg.lifecycle.OnCleanup(m.Close)
	return m, nil
}
