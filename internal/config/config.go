package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Engine     EngineConfig
	Ollama     OllamaConfig
	Proxy      ProxyConfig
	Generation GenerationConfig
	Templates  TemplatesConfig
	Retry      RetryConfig
	RateLimit  RateLimitConfig
	Scoring    ScoringConfig
	Discovery  DiscoveryConfig
	Jobs       JobsConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type EngineConfig struct {
	Provider string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type GenerationConfig struct {
	BaseTemperature float64
	ReferenceTopK   int
	VariantsPerCell int
}

type TemplatesConfig struct {
	Dir string
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	RedisAddr   string
}

type ScoringConfig struct {
	Timeout time.Duration
}

type DiscoveryConfig struct {
	Endpoint     string
	Token        string
	PollInterval time.Duration
}

type JobsConfig struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Engine:  EngineConfig{Provider: "ollama"},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral-nemo",
		},
		Proxy: ProxyConfig{Model: "anthropic/claude-sonnet-4"},
		Generation: GenerationConfig{
			BaseTemperature: 0.7,
			ReferenceTopK:   3,
			VariantsPerCell: 2,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 20,
			Window:      time.Minute,
		},
		Scoring:   ScoringConfig{Timeout: 45 * time.Second},
		Discovery: DiscoveryConfig{PollInterval: 5 * time.Minute},
		Jobs: JobsConfig{
			PollInterval: time.Second,
			StaleAfter:   30 * time.Minute,
		},
	}
}

// Load reads configuration from $XDG_CONFIG_HOME/msgforge/config.json, then
// applies MSGFORGE_* environment overrides. Secrets come from the environment
// or, failing that, from the secrets file in the data directory.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	applyBackend(&cfg, b)
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. " +
			"Set it via environment variable MSGFORGE_API_TOKEN or `msgforge config set-secret server.api_token <token>`")
	}
	if cfg.Engine.Provider == "openrouter" && cfg.Proxy.OpenRouterAPIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenRouter API key. " +
			"Set it via environment variable MSGFORGE_OPENROUTER_API_KEY")
	}
	return cfg, nil
}

func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
