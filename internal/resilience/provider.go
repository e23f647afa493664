package resilience

import (
	"context"
	"errors"

	provider "github.com/MrWong99/livevox/pkg/provider/live"
)

// GuardProvider returns p with Connect routed through b. Errors caused by the
// caller's context ending are not held against the service.
func GuardProvider(p provider.Provider, b *Breaker) provider.Provider {
	return &guarded{Provider: p, breaker: b}
}

type guarded struct {
	provider.Provider
	breaker *Breaker
}

func (g *guarded) Connect(ctx context.Context, cfg provider.Config) (provider.Session, error) {
	var sess provider.Session
	err := g.breaker.Do(func() error {
		var err error
		sess, err = g.Provider.Connect(ctx, cfg)
		return err
	}, func(err error) bool {
		return ctx.Err() != nil || errors.Is(err, context.Canceled)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}
