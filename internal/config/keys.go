package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MSGFORGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "MSGFORGE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "MSGFORGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MSGFORGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "engine.provider", typ: kString, env: "MSGFORGE_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "ollama.base_url", typ: kString, env: "MSGFORGE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "MSGFORGE_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "MSGFORGE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.model", typ: kString, env: "MSGFORGE_PROXY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.Model },
	},
	{
		key: "generation.base_temperature", typ: kFloat, env: "MSGFORGE_GENERATION_BASE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseTemperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.BaseTemperature },
	},
	{
		key: "generation.reference_top_k", typ: kInt, env: "MSGFORGE_GENERATION_REFERENCE_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Generation.ReferenceTopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.ReferenceTopK },
	},
	{
		key: "generation.variants_per_cell", typ: kInt, env: "MSGFORGE_GENERATION_VARIANTS_PER_CELL",
		apply:   func(cfg *Config, v any) { cfg.Generation.VariantsPerCell = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.VariantsPerCell },
	},
	{
		key: "templates.dir", typ: kString, env: "MSGFORGE_TEMPLATES_DIR",
		apply:   func(cfg *Config, v any) { cfg.Templates.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Templates.Dir },
	},
	{
		key: "retry.max_retries", typ: kInt, env: "MSGFORGE_RETRY_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxRetries },
	},
	{
		key: "retry.base_delay", typ: kDuration, env: "MSGFORGE_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.BaseDelay },
	},
	{
		key: "retry.max_delay", typ: kDuration, env: "MSGFORGE_RETRY_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.MaxDelay },
	},
	{
		key: "ratelimit.max_requests", typ: kInt, env: "MSGFORGE_RATELIMIT_MAX_REQUESTS",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.MaxRequests = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.MaxRequests },
	},
	{
		key: "ratelimit.window", typ: kDuration, env: "MSGFORGE_RATELIMIT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.RateLimit.Window },
	},
	{
		key: "ratelimit.redis_addr", typ: kString, env: "MSGFORGE_RATELIMIT_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.RateLimit.RedisAddr },
	},
	{
		key: "scoring.timeout", typ: kDuration, env: "MSGFORGE_SCORING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scoring.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scoring.Timeout },
	},
	{
		key: "discovery.endpoint", typ: kString, env: "MSGFORGE_DISCOVERY_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Discovery.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Discovery.Endpoint },
	},
	{
		key: "discovery.token", typ: kString, env: "MSGFORGE_DISCOVERY_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Discovery.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Discovery.Token },
	},
	{
		key: "discovery.poll_interval", typ: kDuration, env: "MSGFORGE_DISCOVERY_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Discovery.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Discovery.PollInterval },
	},
	{
		key: "jobs.poll_interval", typ: kDuration, env: "MSGFORGE_JOBS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.PollInterval },
	},
	{
		key: "jobs.stale_after", typ: kDuration, env: "MSGFORGE_JOBS_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Jobs.StaleAfter = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.StaleAfter },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the Go type of typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative duration")
		}
		return d, err
	default:
		return raw, nil
	}
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

// applyBackend copies stored values into cfg. Unparseable values are
// reported and the default is kept.
func applyBackend(cfg *Config, b ConfigBackend) {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not read config key %s: %v. Using default value.\n", s.key, err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config key %s: %v. Using default value.\n", s.key, err)
			continue
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
