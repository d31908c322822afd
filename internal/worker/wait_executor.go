package worker

import (
	"context"
	"fmt"
	"time"
)

// WaitExecutor — executor для действия "wait".
//
// Ожидание реализуется через scheduled_at: узел создаётся сразу
// с отложенным временем запуска, а Execute ничего не делает.
//
// Config:
//   - duration (string): Go duration ("24h", "90m")
//   - duration_sec (number): задержка в секундах
type WaitExecutor struct{}

// Delay вычисляет задержку из конфигурации узла.
func (e *WaitExecutor) Delay(config map[string]any) (time.Duration, error) {
	if s := getString(config, "duration", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: duration: %v", ErrInvalidConfig, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
		}
		return d, nil
	}

	d, ok, err := getSeconds(config, "duration_sec")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: duration or duration_sec is required", ErrInvalidConfig)
	}
	return d, nil
}

// Execute завершает ожидание.
func (e *WaitExecutor) Execute(_ context.Context, req *Request) Result {
	return Succeeded(map[string]any{"waited": true})
}
