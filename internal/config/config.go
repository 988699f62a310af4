package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

type Config struct {
	Provider   ProviderConfig
	Enrichment EnrichmentConfig
	Storage    StorageConfig
	Assets     AssetsConfig
	Sync       SyncConfig
	Server     ServerConfig
	Log        LogConfig
}

type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Limit   int
}

type EnrichmentConfig struct {
	// Backend is "openai" for a chat-completions service or "ollama" for a
	// local model.
	Backend string
	BaseURL string
	// APIKey is optional; without it the openai backend serves fallback
	// content only.
	APIKey      string
	Model       string
	OllamaURL   string
	OllamaModel string
}

type StorageConfig struct {
	DataDir string
}

type AssetsConfig struct {
	MemoryBudgetMB int
	DiskBudgetMB   int
}

type SyncConfig struct {
	Interval string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL: "https://ll.thespacedevs.com/2.2.0",
			Limit:   50,
		},
		Enrichment: EnrichmentConfig{
			Backend:     BackendOpenAI,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Assets: AssetsConfig{
			MemoryBudgetMB: 50,
			DiskBudgetMB:   100,
		},
		Sync: SyncConfig{
			Interval: "15m",
		},
		Server: ServerConfig{
			Port: 4500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in increasing order of precedence: defaults, the
// JSON config file at $XDG_CONFIG_HOME/liftoff/config.json, the secrets file
// for secret keys, and environment variables (LIFTOFF_*). A .env file in the
// working directory is loaded into the environment first; variables already
// set in the environment win over it.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()}, ".env")
}

// secretReader abstracts the secret store for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applySecrets(&cfg, secrets)

	if err := loadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads the given dotenv files, skipping ones that do not exist.
func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := c.Enrichment.Validate(); err != nil {
		return fmt.Errorf("enrichment: %w", err)
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.DataDir, validation.Required),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validation.ValidateStruct(&c.Assets,
		validation.Field(&c.Assets.MemoryBudgetMB, validation.Required, validation.Min(1)),
		validation.Field(&c.Assets.DiskBudgetMB, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
	); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *ProviderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Limit, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// Enrichment backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

func (c *EnrichmentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendOpenAI, BackendOllama)),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.OllamaURL, validation.When(c.Backend == BackendOllama, validation.Required, is.URL)),
		validation.Field(&c.OllamaModel, validation.When(c.Backend == BackendOllama, validation.Required)),
	)
}

func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.By(func(v any) error {
			d, err := time.ParseDuration(v.(string))
			if err != nil {
				return errors.New("must be a duration such as 15m")
			}
			if d < time.Minute {
				return errors.New("must be at least 1m")
			}
			return nil
		})),
	)
}

// IntervalDuration returns the parsed sync interval. Validate guarantees it
// parses; a zero result means the config was never validated.
func (c SyncConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}
