// Package telemetry — логирование (log/slog) и метрики Prometheus.
package telemetry
