package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/msgforge/internal/proxy"
)

// OpenRouterEngine adapts the internal/proxy.Client to the Engine interface.
type OpenRouterEngine struct {
	client *proxy.Client
	model  string
}

func NewOpenRouterEngine(client *proxy.Client, model string) *OpenRouterEngine {
	return &OpenRouterEngine{client: client, model: model}
}

func (e *OpenRouterEngine) Name() string { return "openrouter/" + e.model }

func (e *OpenRouterEngine) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	msgs := make([]proxy.Message, 0, 2)
	if opts.System != "" {
		msgs = append(msgs, proxy.Message{Role: "system", Content: opts.System})
	}
	msgs = append(msgs, proxy.Message{Role: "user", Content: prompt})

	temp := opts.Temperature
	req := proxy.CompletionRequest{
		Model:       e.model,
		Messages:    msgs,
		Temperature: &temp,
	}
	if opts.JSON {
		req.ResponseFormat = &proxy.ResponseFormat{Type: "json_object"}
	}
	return e.client.Complete(ctx, req)
}

// Check verifies the API key works and the configured model is listed.
func (e *OpenRouterEngine) Check(ctx context.Context, w io.Writer) error {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing OpenRouter models: %w", err)
	}
	for _, m := range models {
		if m.ID == e.model {
			fmt.Fprintf(w, "model %s: ready\n", e.model)
			return nil
		}
	}
	return fmt.Errorf("model %s is not available on OpenRouter", e.model)
}
