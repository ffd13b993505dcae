package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/tweet-queue/config"
	"github.com/d60-Lab/tweet-queue/internal/api"
	"github.com/d60-Lab/tweet-queue/internal/api/handler"
	"github.com/d60-Lab/tweet-queue/internal/poster"
	"github.com/d60-Lab/tweet-queue/internal/repository"
	"github.com/d60-Lab/tweet-queue/internal/service"
	"github.com/d60-Lab/tweet-queue/pkg/database"
	"github.com/d60-Lab/tweet-queue/pkg/logger"
	"github.com/d60-Lab/tweet-queue/pkg/reporting"
	"github.com/d60-Lab/tweet-queue/pkg/tracing"
)

var version = "dev"

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func main() {
	cfg := must(config.Load())
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush, err := reporting.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, version)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
		flush = func() {}
	}
	defer flush()

	shutdownTracing := tracing.OrNoop(tracing.Init(ctx, cfg.Tracing))
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = database.Close(db) }()

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := cache.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, stats served uncached", zap.Error(err))
			_ = cache.Close()
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	client := must(poster.NewTwitterClient(cfg.Twitter))
	repo := repository.NewQueueRepository(db)
	h := handler.NewHandler(db,
		service.NewProcessor(db, client),
		service.NewStatsService(repo, cache, cfg.Redis.StatsTTL),
		service.NewClaimExpirer(repo, cfg.Queue.ClaimTTL),
		repo,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.SetupRouter(cfg, h),
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	logger.Info("http server stopped")
}
