package engine

import (
	"fmt"

	"github.com/kalambet/msgforge/internal/proxy"
)

const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
)

// ProviderConfig selects and configures the text generator backend.
type ProviderConfig struct {
	Provider         string
	OllamaBaseURL    string
	OllamaModel      string
	OpenRouterAPIKey string
	OpenRouterModel  string
}

// New returns the Engine for cfg.Provider.
func New(cfg ProviderConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key")
		}
		return NewOpenRouterEngine(proxy.NewClient(cfg.OpenRouterAPIKey), cfg.OpenRouterModel), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
