package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leca/dt-image-workflows/internal/api"
	"github.com/leca/dt-image-workflows/internal/background"
	"github.com/leca/dt-image-workflows/internal/config"
	"github.com/leca/dt-image-workflows/internal/database"
	"github.com/leca/dt-image-workflows/internal/fastcache"
	"github.com/leca/dt-image-workflows/internal/handler"
	"github.com/leca/dt-image-workflows/internal/promptcache"
	"github.com/leca/dt-image-workflows/internal/provider"
	"github.com/leca/dt-image-workflows/internal/retry"
	"github.com/leca/dt-image-workflows/internal/router"
	"github.com/leca/dt-image-workflows/internal/storage"
	"github.com/leca/dt-image-workflows/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ready := map[string]router.Pinger{"database": db}

	var fast promptcache.FastTier
	if cfg.RedisURL != "" {
		rc, err := fastcache.New(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to configure redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		fast = rc
		ready["redis"] = rc
	}

	store := storage.NewFileSystem(cfg.StoragePath)
	tasks := background.NewGroup(logger, cfg.BackgroundTimeout)
	prompts := promptcache.New(fast, nil, cfg.PromptCacheTTL, tasks, logger)
	slog.Info("prompt cache configured", "fast_tier", prompts.HasFastTier(), "ttl", cfg.PromptCacheTTL)
	ai := provider.New(cfg.AIEndpoint, cfg.AIAPIKey, cfg.AITimeout)

	svc := workflow.New(db, store, prompts, ai, workflow.Options{
		BaseURL:        cfg.BaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		HistoryLimit:   cfg.MaxHistory,
		SelfieLimits:   cfg.SelfieLimit,
		BatchSize:      cfg.EvictionBatchSize,
		Concurrency:    cfg.UploadConcurrency,
		ProviderRetry: retry.Policy{
			MaxAttempts:    cfg.RetryAttempts,
			InitialDelay:   cfg.RetryInitialDelay,
			AttemptTimeout: cfg.AITimeout,
		},
		PromptRetry: retry.Policy{
			MaxAttempts:    cfg.PromptRetryAttempts,
			InitialDelay:   cfg.PromptRetryInitialDelay,
			AttemptTimeout: cfg.AITimeout,
		},
		Tasks:  tasks,
		Logger: logger,
	})

	h := &handler.Handler{
		Service:        svc,
		Blobs:          store,
		Envelope:       api.Builder{Debug: cfg.DebugErrors},
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	srv := router.New(h, router.Options{
		AuthToken: cfg.AuthToken,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
		Logger:    logger,
		Ready:     ready,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down", "grace_period", cfg.ShutdownGracePeriod)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	tasks.Wait()
	slog.Info("server stopped")
}

func openDatabase(ctx context.Context, cfg *config.Config) (database.Database, error) {
	if cfg.DatabaseURL != "" {
		slog.Info("using postgres")
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	slog.Info("using sqlite", "path", cfg.DBPath)
	db, err := database.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
