package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/liftoff/internal/assets"
	"github.com/kalambet/liftoff/internal/config"
	"github.com/kalambet/liftoff/internal/coordinator"
	"github.com/kalambet/liftoff/internal/enrich"
	"github.com/kalambet/liftoff/internal/gateway"
	"github.com/kalambet/liftoff/internal/ollama"
	"github.com/kalambet/liftoff/internal/proxy"
	"github.com/kalambet/liftoff/internal/storage"
)

// service is the fully wired pipeline shared by `start` and `sync --local`.
type service struct {
	store       *storage.Store
	cache       *assets.Cache
	loader      *assets.Loader
	coordinator *coordinator.Coordinator
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func assetsDir(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "assets")
}

func openCache(cfg config.Config, logger *slog.Logger) (*assets.Cache, error) {
	return assets.NewCache(assets.Options{
		Dir:          assetsDir(cfg),
		MemoryBudget: int64(cfg.Assets.MemoryBudgetMB) << 20,
		DiskBudget:   int64(cfg.Assets.DiskBudgetMB) << 20,
		Logger:       logger,
	})
}

func newService(cfg config.Config, logger *slog.Logger) (*service, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	cache, err := openCache(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	loader := assets.NewLoader(cache, nil, logger)

	gw := gateway.New(gateway.Options{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Limit:   cfg.Provider.Limit,
		Logger:  logger,
	})

	chatter, model := newChatter(cfg, logger)
	orch := enrich.NewOrchestrator(enrich.Options{
		Client: chatter,
		Model:  model,
		Logger: logger,
	})

	coord, err := coordinator.New(coordinator.Options{
		Fetcher:   gw,
		Enricher:  orch,
		Store:     store,
		Flags:     store,
		Runs:      store,
		Preloader: loader,
		Logger:    logger,
	})
	if err != nil {
		cache.Flush()
		store.Close()
		return nil, err
	}

	return &service{store: store, cache: cache, loader: loader, coordinator: coord}, nil
}

// newChatter picks the enrichment backend. A nil Chatter makes the
// orchestrator serve fallback content.
func newChatter(cfg config.Config, logger *slog.Logger) (enrich.Chatter, string) {
	if cfg.Enrichment.Backend == config.BackendOllama {
		return ollama.New(cfg.Enrichment.OllamaURL), cfg.Enrichment.OllamaModel
	}
	client := proxy.NewClientWithBaseURL(cfg.Enrichment.APIKey, cfg.Enrichment.BaseURL)
	if !client.HasCredential() {
		logger.Warn("no enrichment API key configured, launches will get fallback overviews")
		return nil, cfg.Enrichment.Model
	}
	return client, cfg.Enrichment.Model
}

// close stops background work, then waits for disk writes before closing
// the database.
func (s *service) close() {
	s.coordinator.Close()
	s.cache.Flush()
	if err := s.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}
