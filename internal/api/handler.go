package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/fanflow/internal/orchestrator"
	"github.com/shaiso/fanflow/internal/scheduler"
	"github.com/shaiso/fanflow/internal/telemetry"
)

// Ticker — один проход планировщика.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.Summary, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	ticker       Ticker
	validate     *validator.Validate
	metrics      *telemetry.Metrics
	gatherer     prometheus.Gatherer
	tickTimeout  time.Duration
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Ticker       Ticker
	Metrics      *telemetry.Metrics

	// Gatherer — источник для /metrics. Если nil, маршрут не регистрируется.
	Gatherer prometheus.Gatherer

	// TickTimeout ограничивает один вызов POST /run (по умолчанию 5 минут).
	TickTimeout time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Handler{
		orchestrator: cfg.Orchestrator,
		ticker:       cfg.Ticker,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		metrics:      cfg.Metrics,
		gatherer:     cfg.Gatherer,
		tickTimeout:  cfg.TickTimeout,
		logger:       cfg.Logger,
	}
}
