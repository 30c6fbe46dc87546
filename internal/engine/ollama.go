package engine

import (
	"context"
	"io"

	"github.com/kalambet/msgforge/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
	model  string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL, model string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL), model: model}
}

func (e *OllamaEngine) Name() string { return "ollama/" + e.model }

func (e *OllamaEngine) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	msgs := make([]ollama.Message, 0, 2)
	if opts.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: opts.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: prompt})

	temp := opts.Temperature
	req := ollama.ChatRequest{
		Model:    e.model,
		Messages: msgs,
		Options:  ollama.Options{Temperature: &temp},
	}
	if opts.JSON {
		req.Format = "json"
	}
	return e.client.Chat(ctx, req)
}

// Check pulls and warms the configured model.
func (e *OllamaEngine) Check(ctx context.Context, w io.Writer) error {
	return ollama.EnsureReady(ctx, e.client, e.model, w)
}
