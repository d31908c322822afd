// Fanflow Ingest — запускает runs по событиям из RabbitMQ.
//
// Читает очередь triggers.fired: каждое сообщение — срабатывание
// trigger-узла flow. Дубликаты (активный run с тем же ключом) и выключенные
// flows подтверждаются без run, некорректные сообщения уходят в DLQ.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/fanflow/internal/app"
	"github.com/shaiso/fanflow/internal/config"
	"github.com/shaiso/fanflow/internal/mq"
	"github.com/shaiso/fanflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting fanflow-ingest")

	if cfg.AMQP.URL == "" {
		logger.Error("amqp.url is required for ingest")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	consumer := mq.NewConsumer(a.MQ, logger, mq.ConsumerConfig{
		Queue:   string(mq.QueueTriggersFired),
		Handler: a.Orchestrator.HandleTriggerFired,
		Workers: cfg.Scheduler.Concurrency,
		Tag:     "fanflow-ingest",
	})

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}

	consumer.Stop()
	logger.Info("fanflow-ingest stopped")
}
