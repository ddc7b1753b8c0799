// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the pricing server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"claimpricer/config"
	"claimpricer/internal/cache"
	"claimpricer/internal/core"
	"claimpricer/internal/history"
	"claimpricer/internal/observability"
	"claimpricer/internal/pricing"
	"claimpricer/internal/refdata"
	"claimpricer/internal/seed"
	"claimpricer/internal/server"
	"claimpricer/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	storage  storage.Storage // nil for in-memory reference data
	store    refdata.Store
	history  *history.Result
	registry *prometheus.Registry
	metrics  *observability.Metrics
	engine   *pricing.Engine
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	app := &App{config: cfg}

	st, store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.storage = st
	app.store = store

	if cfg.Storage.Seed || cfg.Storage.Type == config.StorageMemory {
		if err := seedIfEmpty(ctx, store); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to seed reference data: %w", err), app.closeStores())
		}
	}

	histResult, err := history.New(history.Config{
		Enabled:       cfg.History.Enabled,
		BufferSize:    cfg.History.BufferSize,
		BatchSize:     cfg.History.BatchSize,
		FlushInterval: time.Duration(cfg.History.FlushInterval) * time.Second,
		RetentionDays: cfg.History.RetentionDays,
	}, st)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize pricing history: %w", err), app.closeStores())
	}
	app.history = histResult

	order, err := pricing.ParseOrder(cfg.Engine.Accumulation)
	if err != nil {
		return nil, errors.Join(err, app.closeStores())
	}

	recordHistory := func(ctx context.Context, claim core.Claim, result *core.PriceResult, elapsed time.Duration) {
		app.history.Logger.Write(history.NewEntry(ctx, claim, result, elapsed))
	}
	hooks := pricing.Hooks{OnPriced: recordHistory}

	app.registry = prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		app.metrics = observability.NewMetrics(app.registry)
		hooks = app.metrics.Hooks(recordHistory)
	}

	app.engine = pricing.New(store, pricing.Options{
		Order:            order,
		MaxSkipSteps:     cfg.Engine.MaxSkipSteps,
		BatchConcurrency: cfg.Engine.BatchConcurrency,
		Hooks:            hooks,
	})

	var summaries server.HistorySummarizer
	if histResult.Store != nil {
		summaries = histResult.Store
	}
	// Runtime collectors and package-level counters live on the default registry.
	handler := server.NewHandler(app.engine, store, summaries, cfg.Engine.BatchMaxClaims)
	if st != nil {
		handler.SetReadiness(st.Ping)
	}
	app.server = server.New(handler, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		Gatherer:        prometheus.Gatherers{app.registry, prometheus.DefaultGatherer},
	})

	app.logStartupInfo()
	return app, nil
}

// OpenStore opens the configured reference-data store, wrapped in the
// configured cache. The returned storage is nil for the memory backend.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Storage, refdata.Store, error) {
	var (
		st    storage.Storage
		store refdata.Store
	)

	if cfg.Storage.Type == config.StorageMemory {
		store = refdata.NewMemoryStore()
	} else {
		var err error
		st, err = storage.New(ctx, storage.Config{
			Type:   cfg.Storage.Type,
			SQLite: storage.SQLiteConfig{Path: cfg.Storage.SQLite.Path},
			PostgreSQL: storage.PostgreSQLConfig{
				URL:      cfg.Storage.PostgreSQL.URL,
				MaxConns: cfg.Storage.PostgreSQL.MaxConns,
			},
			MongoDB: storage.MongoDBConfig{
				URL:      cfg.Storage.MongoDB.URL,
				Database: cfg.Storage.MongoDB.Database,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		store, err = refdata.New(ctx, st)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("failed to initialize reference data: %w", err), st.Close())
		}
	}

	backend, err := newCacheBackend(cfg.Cache)
	if err != nil {
		closeErr := store.Close()
		if st != nil {
			closeErr = errors.Join(closeErr, st.Close())
		}
		return nil, nil, errors.Join(err, closeErr)
	}
	if backend != nil {
		store = cache.NewCachedStore(store, backend)
	}
	return st, store, nil
}

func newCacheBackend(cfg config.CacheConfig) (cache.Backend, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	switch cfg.Type {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheLocal:
		return cache.NewLocalCache(ttl, 2*ttl), nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
			TTL:    ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis cache: %w", err)
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

// seedIfEmpty loads the demo dataset into a store with no contracts.
func seedIfEmpty(ctx context.Context, store refdata.Store) error {
	contracts, err := store.ListContracts(ctx)
	if err != nil {
		return err
	}
	if len(contracts) > 0 {
		return nil
	}
	ds, err := seed.Demo()
	if err != nil {
		return err
	}
	if err := ds.Apply(ctx, store); err != nil {
		return err
	}
	slog.Info("seeded demo reference data", "contracts", len(ds.Contracts), "rules", len(ds.Rules))
	return nil
}

// Engine returns the pricing engine.
func (a *App) Engine() *pricing.Engine {
	return a.engine
}

// Store returns the reference-data store the engine reads.
func (a *App) Store() refdata.Store {
	return a.store
}

// Handler returns the HTTP handler, for tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address. It blocks until the
// server stops; a graceful Shutdown is not reported as an error.
func (a *App) Start(addr string) error {
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
//
//  1. HTTP server shutdown, honoring ctx.
//  2. History logger close (flushes pending entries).
//  3. Reference-data store and cache close.
//  4. Storage connection close.
//
// Shutdown is idempotent. It attempts every step and returns the joined errors.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Error("history close error", "error", err)
			errs = append(errs, err)
		}
	}

	if err := a.closeStores(); err != nil {
		slog.Error("store close error", "error", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("refdata close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("reference data", "storage", cfg.Storage.Type, "cache", cfg.Cache.Type)
	slog.Info("pricing engine",
		"accumulation", a.engine.Order(),
		"max_skip_steps", cfg.Engine.MaxSkipSteps,
		"batch_max_claims", cfg.Engine.BatchMaxClaims,
	)

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: PRICER_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set PRICER_MASTER_KEY to secure this service")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if a.history.Store != nil {
		slog.Info("pricing history enabled",
			"retention_days", cfg.History.RetentionDays,
			"buffer_size", cfg.History.BufferSize,
		)
	} else {
		slog.Info("pricing history disabled")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
