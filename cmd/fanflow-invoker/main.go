// Fanflow Invoker — внешний вызывающий планировщика.
//
// По расписанию (invoker.schedule, по умолчанию "@every 30s") вызывает
// POST /run у fanflow-api. Замена cron-задачи или Cloud Scheduler
// для локального запуска.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/fanflow/internal/config"
	"github.com/shaiso/fanflow/internal/scheduler"
	"github.com/shaiso/fanflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting fanflow-invoker", "url", cfg.Invoker.URL, "schedule", cfg.Invoker.Schedule)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	invoker, err := scheduler.NewInvoker(scheduler.InvokerConfig{
		URL:      cfg.Invoker.URL,
		Schedule: cfg.Invoker.Schedule,
		Timeout:  cfg.Invoker.Timeout,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create invoker", "error", err)
		os.Exit(1)
	}

	if err := invoker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("invoker stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("fanflow-invoker stopped")
}
