package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
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
		key: "provider.base_url", typ: kString, env: "LIFTOFF_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.api_key", typ: kString, env: "LIFTOFF_PROVIDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.limit", typ: kInt, env: "LIFTOFF_PROVIDER_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.Limit },
	},
	{
		key: "enrichment.backend", typ: kString, env: "LIFTOFF_ENRICHMENT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.Backend },
	},
	{
		key: "enrichment.base_url", typ: kString, env: "LIFTOFF_ENRICHMENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.BaseURL },
	},
	{
		key: "enrichment.api_key", typ: kString, env: "LIFTOFF_ENRICHMENT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Enrichment.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.APIKey },
	},
	{
		key: "enrichment.model", typ: kString, env: "LIFTOFF_ENRICHMENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.Model },
	},
	{
		key: "enrichment.ollama_url", typ: kString, env: "LIFTOFF_ENRICHMENT_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.OllamaURL },
	},
	{
		key: "enrichment.ollama_model", typ: kString, env: "LIFTOFF_ENRICHMENT_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.OllamaModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LIFTOFF_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "assets.memory_budget_mb", typ: kInt, env: "LIFTOFF_ASSETS_MEMORY_BUDGET_MB",
		apply:   func(cfg *Config, v any) { cfg.Assets.MemoryBudgetMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Assets.MemoryBudgetMB },
	},
	{
		key: "assets.disk_budget_mb", typ: kInt, env: "LIFTOFF_ASSETS_DISK_BUDGET_MB",
		apply:   func(cfg *Config, v any) { cfg.Assets.DiskBudgetMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Assets.DiskBudgetMB },
	},
	{
		key: "sync.interval", typ: kString, env: "LIFTOFF_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "server.port", typ: kInt, env: "LIFTOFF_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "LIFTOFF_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "LIFTOFF_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

// applySecrets fills secret keys from the secret store. Missing secrets are
// not an error here; environment variables may still supply them.
func applySecrets(cfg *Config, r secretReader) {
	if r == nil {
		return
	}
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, err := r.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
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
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
