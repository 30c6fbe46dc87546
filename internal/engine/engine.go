package engine

import (
	"context"
	"io"
)

// Engine abstracts the text generator (local Ollama or OpenRouter).
// Generation, scoring critics and background actions depend on this
// interface instead of a concrete client.
type Engine interface {
	// Generate sends prompt as the user turn and returns the model's reply.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// Name identifies the backend and model for logs.
	Name() string
}

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	System      string
	Temperature float64
	// JSON asks the backend for a JSON object when it supports it.
	JSON bool
}

// Checker is implemented by engines that can verify readiness at startup.
type Checker interface {
	Check(ctx context.Context, w io.Writer) error
}
