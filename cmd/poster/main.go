// poster 单次调用：取出一条待发布内容，发帖并记录结果。由 cron 等外部调度周期触发。
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/d60-Lab/tweet-queue/config"
	"github.com/d60-Lab/tweet-queue/internal/poster"
	"github.com/d60-Lab/tweet-queue/internal/service"
	"github.com/d60-Lab/tweet-queue/pkg/database"
	"github.com/d60-Lab/tweet-queue/pkg/logger"
	"github.com/d60-Lab/tweet-queue/pkg/reporting"
	"github.com/d60-Lab/tweet-queue/pkg/tracing"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("load config: " + err.Error() + "\n")
		return 2
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		return 2
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

	client, err := poster.NewTwitterClient(cfg.Twitter)
	if err != nil {
		logger.Error("twitter client", zap.Error(err))
		return 2
	}

	logger.Info("starting", zap.String("version", version), zap.String("auth", client.AuthMode()))
	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}()
	logger.Info("database connected")

	res, err := service.NewProcessor(db, client).ProcessOne(ctx)
	if errors.Is(err, service.ErrStore) {
		return 1
	}
	logger.Info("run complete",
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("item_id", res.ItemID))
	return 0
}
