// Command clevio runs the knowledge retrieval service: it wires the caches,
// the index advisor and the connection pool over PostgreSQL/pgvector, warms
// the agent configuration cache, and serves metrics until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clevio/clevio/internal/agentcfg"
	"github.com/clevio/clevio/internal/api"
	"github.com/clevio/clevio/internal/config"
	"github.com/clevio/clevio/internal/embed"
	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
	"github.com/clevio/clevio/internal/pgstore"
	"github.com/clevio/clevio/internal/retrieval"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(metrics.DefaultConfig())

	dsn := cfg.PostgresConnectionString()
	pool, err := retrieval.NewPool(ctx, pgstore.Dialer(dsn), retrieval.PoolConfig{
		MinConns:       cfg.PoolMinConns,
		MaxConns:       cfg.PoolMaxConns,
		AcquireTimeout: cfg.PoolAcquireTimeout,
	}, logger.With("component", "pool"))
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	embedder := embed.NewOpenAI(embed.Config{
		APIKey:            cfg.OpenAIAPIKey,
		BaseURL:           cfg.OpenAIBaseURL,
		RequestsPerSecond: cfg.EmbedRatePerSec,
	}, logger.With("component", "embedder"))

	embeds := retrieval.NewEmbedCache(embedder, cfg.EmbedCacheSize, collector, logger.With("component", "embed_cache"))
	queries := retrieval.NewQueryCache(cfg.QueryCacheSize, collector, logger.With("component", "query_cache"))
	advisor := retrieval.NewAdvisor(pool, retrieval.AdvisorConfig{
		DimensionCeiling: cfg.DimensionCeiling,
		HalfvecCeiling:   cfg.HalfvecCeiling,
	}, collector, logger.With("component", "advisor"))

	engine := retrieval.NewEngine(retrieval.EngineConfig{
		ModelID:           cfg.EmbedderModel,
		AltModelID:        cfg.AltEmbedderModel,
		DefaultTopK:       cfg.DefaultTopK,
		DefaultTimeBudget: cfg.QueryTimeBudget,
		ResultTTL:         cfg.QueryResultTTL,
	}, embeds, queries, advisor, pool, collector, logger.With("component", "engine"))

	diskTier, err := agentcfg.NewDiskTier(cfg.ConfigCacheDir)
	if err != nil {
		return fmt.Errorf("preparing config cache directory: %w", err)
	}

	configStore, err := pgstore.NewConfigStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting configuration store: %w", err)
	}
	defer configStore.Close()

	configs := agentcfg.NewCache(agentcfg.CacheConfig{
		MemoryTTL:    cfg.ConfigCacheTTL,
		StrictBypass: cfg.StrictConfigErrors,
	}, diskTier, configStore, collector, logger.With("component", "config_cache"))

	system := retrieval.NewSystem(engine, pool, configs, collector, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger: logger.With("component", "api"),
		System: system,
	})
	if err != nil {
		return fmt.Errorf("building API server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/", apiServer.Handler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}

	return nil
}
