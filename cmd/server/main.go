// Package main is the entrypoint for the stylizer API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/stylizer/internal/api"
	"github.com/kiranshivaraju/stylizer/internal/api/handler"
	mw "github.com/kiranshivaraju/stylizer/internal/api/middleware"
	"github.com/kiranshivaraju/stylizer/internal/api/response"
	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/cache"
	"github.com/kiranshivaraju/stylizer/internal/config"
	"github.com/kiranshivaraju/stylizer/internal/job"
	"github.com/kiranshivaraju/stylizer/internal/provider"
	"github.com/kiranshivaraju/stylizer/internal/store"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second
	// sweepGrace is added to the longest legitimate run before a pending job counts as abandoned.
	sweepGrace = time.Minute
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:           "stylizer",
	Short:         "Image stylization API server",
	Long:          "Stylizer accepts image uploads, restyles them through a transform provider and serves the results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Server.LogLevel, debug)
		slog.SetDefault(logger)
		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file (default: STYLIZER_CONFIG env var)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads config from path, falling back to STYLIZER_CONFIG and then the environment alone.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("STYLIZER_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogger(level string, dbg bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if dbg {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"provider", cfg.Provider.Name,
		"store", cfg.Store.Backend,
		"env", cfg.Server.Env,
	)

	// 1. Job store
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 2. Cache. Without Redis the analysis cache and rate limiter are disabled.
	var c cache.Cache = cache.NopCache{}
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		c = redisCache
		logger.Info("redis connected")
	}

	// 3. Transform provider
	transformer, err := provider.New(cfg.Provider, logger)
	if err != nil {
		return fmt.Errorf("create transform provider: %w", err)
	}
	logger.Info("transform provider initialized", "provider", transformer.Name())

	// 4. Artifact directories
	layout := artifact.NewLayout(cfg.Uploads.Dir)
	if err := layout.EnsureDirs(); err != nil {
		return fmt.Errorf("prepare uploads dir: %w", err)
	}

	// 5. Orchestration
	orch := job.NewOrchestrator(st, transformer, layout, job.Options{
		PollInterval:    cfg.Jobs.PollInterval,
		MaxPollAttempts: cfg.Jobs.MaxPollAttempts,
	}, logger)
	svc := job.NewService(st, orch, transformer, layout, c, job.ServiceOptions{
		MaxUploadBytes:  cfg.Uploads.MaxBytes,
		AnalysisTTL:     cfg.Uploads.AnalysisCacheTTL,
		AnalysisTimeout: cfg.Uploads.AnalysisTimeout,
	}, logger)

	sweeper := job.NewSweeper(st, orch, job.SweeperOptions{
		Interval:   cfg.Jobs.SweepInterval,
		StaleAfter: cfg.Jobs.MaxRunTime() + sweepGrace,
		Retention:  cfg.Jobs.Retention,
	}, logger)
	sweeper.Start(ctx)

	// 6. Router
	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(c, cfg.Uploads.RateLimitPerMin),
		Layout:    layout,

		HealthHandler: healthHandler(st, c),
		UploadHandler: handler.NewUploadHandler(svc, cfg.Uploads.MaxBytes),
		StatusHandler: handler.NewStatusHandler(svc),
		DeleteHandler: handler.NewDeleteHandler(svc),
	})

	// 7. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown: %w", err))
	}
	sweeper.Stop()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("orchestrator shutdown: %w", err))
	}

	if serveErr == nil {
		logger.Info("server stopped gracefully")
	}
	return serveErr
}

// openStore builds the configured job store and returns a func that releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store.Backend != "postgres" {
		logger.Info("using in-memory job store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	return store.NewPostgresStore(pool), pool.Close, nil
}

// healthHandler checks store and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"store": "ok",
			"cache": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["store"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["store"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
