package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/hrygo/ragd/internal/config"
	"github.com/hrygo/ragd/internal/embedding"
	"github.com/hrygo/ragd/internal/fragmentstore"
	"github.com/hrygo/ragd/internal/fragmentstore/postgres"
	"github.com/hrygo/ragd/internal/fragmentstore/sqlite"
	"github.com/hrygo/ragd/internal/logging"
	"github.com/hrygo/ragd/internal/metrics"
	"github.com/hrygo/ragd/internal/orchestrator"
	"github.com/hrygo/ragd/internal/pool"
	"github.com/hrygo/ragd/internal/vectormemory"
	"github.com/hrygo/ragd/internal/worker"
)

// app bundles the process's long-lived singletons, built by withApp
// before a subcommand runs and closed by it afterward.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store  *fragmentstore.Store
	memory *vectormemory.Memory
	pool   *pool.Pool

	metricsServer *http.Server
}

func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg := config.Load(v)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	driver, err := openDriver(cfg)
	if err != nil {
		return nil, err
	}
	store := fragmentstore.New(driver)
	if err := store.InitSchema(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to initialize fragment store schema")
	}

	embedder, err := openEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	memory := vectormemory.New(store, embedder)

	p := pool.New(cfg.PoolMaxInstances, func(id string) (*worker.Worker, error) {
		return worker.New(id, cfg.LLMExecutablePath, cfg.LLMModelPath, cfg.LLMIdleTimeout, logger), nil
	}, logger)
	if err := p.WarmUp(ctx, func(completed, total int) {
		logger.Info("warming up worker pool", "completed", completed, "total", total)
	}); err != nil {
		return nil, errors.Wrap(err, "failed to warm up worker pool")
	}

	m := metrics.New()
	memory.SetMetrics(m)
	p.SetMetrics(m)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m.WireTo(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		logger.Info("serving prometheus metrics", "addr", cfg.MetricsAddr)
	}

	return &app{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		store:         store,
		memory:        memory,
		pool:          p,
		metricsServer: metricsServer,
	}, nil
}

func (a *app) close() {
	a.pool.Teardown()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close fragment store", "error", err)
	}
	if a.metricsServer != nil {
		_ = a.metricsServer.Close()
	}
}

func (a *app) newOrchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(a.memory, a.pool, a.cfg.StoreActiveCollection, a.cfg.PoolTimeout)
}

func openDriver(cfg *config.Config) (fragmentstore.Driver, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return sqlite.Open(cfg.StoreConnectionString)
	case "postgres":
		return postgres.Open(cfg.StoreConnectionString, cfg.EmbeddingDimension)
	default:
		return nil, errors.Errorf("unknown store.driver %q (want sqlite or postgres)", cfg.StoreDriver)
	}
}

func openEmbedder(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedding.NewOpenAIProvider(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimension), nil
	case "static":
		return embedding.NewStaticProvider(cfg.EmbeddingDimension), nil
	default:
		return nil, errors.Errorf("unknown embedding.provider %q (want openai or static)", cfg.EmbeddingProvider)
	}
}
