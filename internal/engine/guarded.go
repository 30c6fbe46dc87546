package engine

import (
	"context"
	"io"

	"github.com/kalambet/msgforge/internal/ratelimit"
	"github.com/kalambet/msgforge/internal/retry"
)

// Guarded admits every Generate call through Limiter and retries transient
// failures with Policy. A nil RetryOn in Policy retries IsTransient errors.
type Guarded struct {
	Engine  Engine
	Limiter ratelimit.Limiter
	Policy  retry.Policy
}

// NewGuarded wraps e with the shared limiter and retry policy.
func NewGuarded(e Engine, limiter ratelimit.Limiter, policy retry.Policy) *Guarded {
	if policy.RetryOn == nil {
		policy.RetryOn = IsTransient
	}
	return &Guarded{Engine: e, Limiter: limiter, Policy: policy}
}

func (g *Guarded) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return retry.Do(ctx, g.Policy, func(ctx context.Context) (string, error) {
		if g.Limiter != nil {
			if err := g.Limiter.Acquire(ctx); err != nil {
				return "", retry.Permanent(err)
			}
		}
		return g.Engine.Generate(ctx, prompt, opts)
	})
}

func (g *Guarded) Name() string { return g.Engine.Name() }

// Check forwards to the wrapped engine when it supports readiness checks.
func (g *Guarded) Check(ctx context.Context, w io.Writer) error {
	if c, ok := g.Engine.(Checker); ok {
		return c.Check(ctx, w)
	}
	return nil
}
