package engine

import (
	"context"
	"io"
)

// EnsureReady runs the engine's readiness check if it has one. Engines
// without a check are assumed ready.
func EnsureReady(ctx context.Context, e Engine, w io.Writer) error {
	c, ok := e.(Checker)
	if !ok {
		return nil
	}
	return c.Check(ctx, w)
}
