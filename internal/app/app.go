// Package app собирает сервисы Fanflow из конфигурации.
//
// Общая сборка для cmd/fanflow-api и cmd/fanflow-ingest: хранилище
// (PostgreSQL или память), RabbitMQ (опционально), ledger идемпотентности
// (Redis или память), реестр действий, оркестратор, диспетчер и планировщик.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/fanflow/internal/config"
	"github.com/shaiso/fanflow/internal/ledger"
	"github.com/shaiso/fanflow/internal/mq"
	"github.com/shaiso/fanflow/internal/orchestrator"
	"github.com/shaiso/fanflow/internal/repo"
	"github.com/shaiso/fanflow/internal/repo/memstore"
	"github.com/shaiso/fanflow/internal/scheduler"
	"github.com/shaiso/fanflow/internal/telemetry"
	"github.com/shaiso/fanflow/internal/worker"
)

// Store — все операции хранилища, которые нужны сервисам.
type Store interface {
	orchestrator.Store
	worker.Store
	worker.Tagger
	scheduler.Claimer
}

// App — собранные сервисы.
type App struct {
	Config       *config.Config
	Store        Store
	Registry     *worker.Registry
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *worker.Dispatcher
	Scheduler    *scheduler.Scheduler

	// MQ и Publisher равны nil, если amqp.url не задан.
	MQ        *mq.Connection
	Publisher *mq.Publisher

	Metrics    *telemetry.Metrics
	Prometheus *prometheus.Registry

	logger  *slog.Logger
	closers []func() error
}

// Build собирает App. При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:     cfg,
		Prometheus: prometheus.NewRegistry(),
		logger:     logger,
	}
	a.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = telemetry.NewMetrics(a.Prometheus)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store

	if cfg.AMQP.URL != "" {
		conn, err := mq.Dial(cfg.AMQP.URL, mq.DialOptions{
			Name:         "fanflow",
			Heartbeat:    cfg.AMQP.Heartbeat,
			ReconnectMax: cfg.AMQP.ReconnectMax,
			Confirm:      cfg.AMQP.Confirm,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		a.MQ = conn

		if err := mq.SetupTopology(ctx, conn); err != nil {
			return fmt.Errorf("setup topology: %w", err)
		}
		a.Publisher = mq.NewPublisher(conn, a.logger)
		a.logger.Info("rabbitmq connected", "topology", mq.DefaultTopology.Describe())
	} else {
		a.logger.Warn("amqp.url is empty: send_email is disabled, events are not published")
	}

	led, err := a.openLedger(ctx)
	if err != nil {
		return err
	}

	deps := worker.Dependencies{
		Ledger:     led,
		Tagger:     store,
		HTTPClient: &http.Client{},
	}
	if a.Publisher != nil {
		deps.Mail = a.Publisher
	}

	policy := worker.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	a.Registry = worker.NewDefaultRegistry(policy, deps)

	orchCfg := orchestrator.Config{
		Store:   store,
		Catalog: a.Registry,
		Metrics: a.Metrics,
		Logger:  a.logger,
	}
	dispCfg := worker.DispatcherConfig{
		Store:           store,
		Registry:        a.Registry,
		Metrics:         a.Metrics,
		ExecutorTimeout: cfg.Scheduler.ExecutorTimeout,
		Logger:          a.logger,
	}
	if a.Publisher != nil {
		notifier := mq.NewEventNotifier(a.Publisher, a.logger)
		orchCfg.Notifier = notifier
		dispCfg.Notifier = notifier
	}

	a.Orchestrator = orchestrator.New(orchCfg)
	a.Dispatcher = worker.NewDispatcher(dispCfg)
	a.Scheduler = scheduler.New(scheduler.Config{
		Claimer:        store,
		Processor:      a.Dispatcher,
		Metrics:        a.Metrics,
		Logger:         a.logger,
		BatchSize:      cfg.Scheduler.BatchSize,
		Concurrency:    cfg.Scheduler.Concurrency,
		LeaseTimeout:   cfg.Scheduler.LeaseTimeout,
		ProcessTimeout: a.Dispatcher.MaxProcessingTime(),
	})

	a.logger.Info("services ready",
		"store", cfg.Database.Store,
		"actions", a.Registry.Types(),
	)
	return nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	cfg := a.Config.Database

	if cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory store: state is lost on restart")
		return memstore.New(), nil
	}

	pool, err := repo.NewPool(ctx, repo.PoolConfig{
		DSN:       cfg.URL,
		MaxConns:  cfg.MaxConns,
		SlowQuery: cfg.SlowQuery,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.logger.Info("database connected")

	if cfg.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return repo.NewStore(pool, a.logger), nil
}

func (a *App) openLedger(ctx context.Context) (worker.Ledger, error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		a.logger.Warn("redis.addr is empty: idempotency ledger is in memory")
		return ledger.NewMemory(), nil
	}

	led, err := ledger.NewRedis(ctx, ledger.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, led.Close)
	return led, nil
}

// Close закрывает ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
