// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/agent"
	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
	"github.com/xkilldash9x/pilot-engine/internal/store"
	"github.com/xkilldash9x/pilot-engine/internal/verification"
)

// repositoryProvider opens the persistence layer. Tests swap it for an
// in-memory store.
type repositoryProvider func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, func(), error)

// openRepository is the production provider: PostgreSQL when a URL is set,
// memory otherwise.
var openRepository repositoryProvider = defaultRepository

// catalogSourceFactory builds the catalog source. Tests swap it for a stub.
var catalogSourceFactory = func(cfg *config.Config, logger *zap.Logger) catalog.Source {
	return catalog.NewFetcher(cfg.Catalog(), cfg.Providers().OpenRouter.APIKey, logger)
}

func defaultRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, func(), error) {
	if cfg.URL == "" {
		logger.Warn("No database URL configured (PILOT_DATABASE_URL); sessions and routing configs are kept in memory")
		return store.NewMemoryStore(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cfg.Migrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

// components is the fully wired engine.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	repo      store.Repository
	refresher *catalog.Refresher
	router    *router.Router
	optimizer *router.Optimizer
	client    *llmclient.Client
	tracker   *session.Tracker
	evaluator *verification.Evaluator
	engine    *agent.Engine
	cleanup   func()
}

// Shutdown releases the repository.
func (c *components) Shutdown() {
	if c.cleanup != nil {
		c.cleanup()
	}
}

// initializeComponents wires every collaborator from cfg. The catalog is
// seeded from the cache only; callers decide whether to refresh.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	repo, cleanup, err := openRepository(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, err
	}
	c := &components{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		repo:     repo,
		cleanup:  cleanup,
	}

	if err := router.Seed(ctx, repo, router.ConfigsFromSettings(cfg.Router())); err != nil {
		c.Shutdown()
		return nil, err
	}

	c.refresher = catalog.NewRefresher(catalogSourceFactory(cfg, logger), repo, cfg.Catalog().RefreshInterval, logger, metrics)
	if err := c.refresher.Load(ctx); err != nil {
		// A broken cache is not fatal; the next refresh replaces it.
		logger.Warn("Could not load cached model catalog", zap.Error(err))
	}

	c.router = router.New(router.NewThresholdPolicy(cfg.Router().Reliability), logger)
	c.optimizer = router.NewOptimizer(c.router, repo, c.refresher, logger, metrics)

	providers, err := llmclient.NewProviders(ctx, cfg.Providers(), logger)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to create completion providers: %w", err)
	}
	c.client, err = llmclient.NewClient(cfg.Completion(), llmclient.Dependencies{
		Configs:   repo,
		Router:    c.router,
		Catalog:   c.refresher,
		Providers: providers,
		Usage:     repo,
		Metrics:   metrics,
	}, logger)
	if err != nil {
		c.Shutdown()
		return nil, err
	}

	c.tracker = session.NewTracker(repo, logger)
	c.evaluator = verification.NewEvaluator(repo, logger, metrics)
	c.engine = agent.NewEngine(cfg.Decision(), c.client, c.tracker, c.evaluator, logger, metrics)
	return c, nil
}

// ensureCatalog refreshes the catalog when nothing is cached, so one-shot
// commands have models to route against.
func (c *components) ensureCatalog(ctx context.Context) error {
	if c.refresher.Current().Len() > 0 || !c.cfg.Catalog().Enabled {
		return nil
	}
	if _, err := c.refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("catalog is empty and refresh failed: %w", err)
	}
	return nil
}
