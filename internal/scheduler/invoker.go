package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultInvokeSchedule = "@every 30s"
	defaultInvokeTimeout  = 5 * time.Minute
)

// Invoker периодически вызывает POST /run.
//
// Следующий вызов не ждёт завершения предыдущего: пересекающиеся
// тики безопасны, а долгий тик не должен задерживать остальные.
type Invoker struct {
	url      string
	schedule cron.Schedule
	client   *http.Client
	logger   *slog.Logger
}

// InvokerConfig — конфигурация Invoker.
type InvokerConfig struct {
	// URL — адрес POST /run, например http://localhost:8080/run.
	URL string

	// Schedule — расписание cron (default: "@every 30s").
	Schedule string

	// Timeout — таймаут одного вызова (default: 5m).
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// NewInvoker создаёт Invoker.
func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("invoker url is required")
	}

	expr := cfg.Schedule
	if expr == "" {
		expr = defaultInvokeSchedule
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultInvokeTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Invoker{
		url:      cfg.URL,
		schedule: schedule,
		client:   client,
		logger:   logger,
	}, nil
}

// Run вызывает POST /run по расписанию до отмены ctx.
func (i *Invoker) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(i.schedule, cron.FuncJob(func() {
		if _, err := i.Invoke(ctx); err != nil {
			i.logger.Error("invoke failed", "url", i.url, "error", err)
		}
	}))

	i.logger.Info("invoker started", "url", i.url)
	c.Start()

	<-ctx.Done()

	// Дожидаемся выполняющихся вызовов
	<-c.Stop().Done()
	i.logger.Info("invoker stopped")

	return nil
}

// Invoke выполняет один вызов POST /run и возвращает сводку тика.
func (i *Invoker) Invoke(ctx context.Context) (Summary, error) {
	var summary Summary

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, nil)
	if err != nil {
		return summary, fmt.Errorf("create request: %w", err)
	}

	started := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		return summary, fmt.Errorf("post %s: %w", i.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return summary, fmt.Errorf("read response: %w", err)
	}

	// 500 тоже несёт сводку: часть узлов могла быть обработана
	if err := json.Unmarshal(body, &summary); err != nil && resp.StatusCode == http.StatusOK {
		return summary, fmt.Errorf("decode summary: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return summary, fmt.Errorf("run returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	i.logger.Info("invoked run",
		"claimed", summary.Claimed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"retried", summary.Retried,
		"discarded", summary.Discarded,
		"errors", summary.Errors,
		"duration", time.Since(started),
	)

	return summary, nil
}
