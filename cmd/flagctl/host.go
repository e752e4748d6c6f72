package main

import (
	"context"
	"fmt"

	"github.com/vitaliisemenov/featureflag/internal/config"
	"github.com/vitaliisemenov/featureflag/internal/engine"
	"github.com/vitaliisemenov/featureflag/internal/lifecycle"
	"github.com/vitaliisemenov/featureflag/internal/storage"
	"github.com/vitaliisemenov/featureflag/internal/storage/memkv"
	"github.com/vitaliisemenov/featureflag/internal/storage/sqlite"
	"github.com/vitaliisemenov/featureflag/pkg/logger"
)

// host bundles the engine and whatever backing store it owns, so
// callers can Close both in one place.
type host struct {
	engine     *engine.Engine
	store      storage.KVStore
	hasFetcher bool
}

// resume reopens a prior session's persisted events and rule set. It
// never issues a network fetch; commands that need a live fetch call
// engine.Initialize or engine.RefreshRules themselves.
func (h *host) resume(ctx context.Context) error {
	if err := h.engine.LoadCached(ctx); err != nil {
		return fmt.Errorf("flagctl: %w", err)
	}
	return nil
}

// newHost loads configuration, opens the configured store, and builds
// an Engine. It does not load or fetch anything; call resume (cached
// state only) or engine.Initialize (cached state plus one network
// fetch and auto-refresh) depending on what the command needs.
func newHost(ctx context.Context) (*host, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("flagctl: %w", err)
	}
	if storePath != "" {
		cfg.Storage.Backend = "sqlite"
		cfg.Storage.SQLitePath = storePath
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("flagctl: %w", err)
	}

	var fetcher lifecycle.Fetcher
	if cfg.Network.PointerURL != "" {
		fetcher = lifecycle.NewHTTPFetcher(cfg.Network.PointerURL, documentURLFunc(cfg.Network.DocumentURLTemplate), cfg.Identity.APIKey)
	}

	hooks := engine.Hooks{
		OnReady:        func() { log.Info("flagctl: rules ready") },
		OnRulesUpdated: func() { log.Info("flagctl: rules updated") },
	}

	e := engine.New(cfg, store, fetcher, nil, hooks, log)
	return &host{engine: e, store: store, hasFetcher: fetcher != nil}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.KVStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	default:
		return memkv.New(), nil
	}
}

func documentURLFunc(tmpl string) func(version string) string {
	return func(version string) string {
		return fmt.Sprintf(tmpl, version)
	}
}

func (h *host) Close() {
	h.engine.Close()
	_ = h.store.Close()
}
