package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/model-playground/internal/analytics"
	"github.com/nulzo/model-playground/internal/cache"
	"github.com/nulzo/model-playground/internal/cli"
	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/internal/platform/logger"
	"github.com/nulzo/model-playground/internal/platform/otel"
	"github.com/nulzo/model-playground/internal/playground"
	"github.com/nulzo/model-playground/internal/ratelimit"
	"github.com/nulzo/model-playground/internal/server"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/postgres"
	"github.com/nulzo/model-playground/internal/store/sqlite"
	"github.com/nulzo/model-playground/internal/version"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	// Import providers to trigger init() registration
	_ "github.com/nulzo/model-playground/internal/llm/anthropic"
	_ "github.com/nulzo/model-playground/internal/llm/google"
	_ "github.com/nulzo/model-playground/internal/llm/mock"
	_ "github.com/nulzo/model-playground/internal/llm/ollama"
	_ "github.com/nulzo/model-playground/internal/llm/openai"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logger.Initialize(logCfg)
	defer logger.Sync()

	// the package-level helpers skip one caller frame; components log directly
	log := logger.Get().WithOptions(zap.AddCallerSkip(-1))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otel.InitTracer(cfg.Tracing, log, os.Stdout)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	repo, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error("Failed to close repository", zap.Error(err))
		}
	}()

	limiter, cacheSvc, closeRedis, err := backends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	registry := llm.Bootstrap(ctx, cfg.Providers, log)

	srv := server.New(cfg, log, server.Deps{
		Repo:         repo,
		Registry:     registry,
		Orchestrator: playground.NewOrchestrator(repo, registry, log),
		History:      playground.NewHistory(repo),
		Analytics:    analytics.NewService(repo, cacheSvc, cfg.Cache.TTL, log),
		Limiter:      limiter,
		Cache:        cacheSvc,
		Version:      version.Version,
	})
	httpServer := srv.HTTPServer()

	if cfg.UpdateCheck.Enabled {
		go checkForUpdates(ctx, cfg.UpdateCheck.URL, log)
	}

	errCh := make(chan error, 1)
	go func() {
		cli.Banner(os.Stdout, "model-playground", version.Version, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Failed to flush tracer", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (store.Repository, error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := postgres.NewPostgresStorage(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return repo, nil
	case "sqlite", "":
		repo, err := sqlite.NewSQLiteStorage(cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// backends selects Redis-backed quota and cache when enabled, otherwise
// in-process implementations.
func backends(ctx context.Context, cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, cache.CacheService, func(), error) {
	if !cfg.Redis.Enabled {
		log.Info("Using in-memory rate limiter and cache")
		return ratelimit.NewMemoryLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window), cache.NewMemoryCache(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis at %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Error("Failed to close redis client", zap.Error(err))
		}
	}
	return ratelimit.NewRedisLimiter(client, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
		cache.NewRedisCache(client, "playground:cache:"),
		closeFn, nil
}

func checkForUpdates(ctx context.Context, url string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update, err := version.CheckForUpdates(ctx, &http.Client{Timeout: 2 * time.Second}, url, version.Version)
	if err != nil {
		log.Debug("Update check failed", zap.Error(err))
		return
	}
	if update.Available {
		log.Warn("You are running an outdated version",
			zap.String("current", update.Current),
			zap.String("latest", update.Latest),
		)
	}
}
