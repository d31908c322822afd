package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel переводит строку уровня в slog.Level. Принимает имена slog
// в любом регистре (debug, INFO, warn+2) и warning. Нераспознанное
// значение даёт INFO.
func ParseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SetupLogger создаёт логгер в stdout и делает его глобальным.
// format "text" — для локальной разработки, иначе JSON.
func SetupLogger(level, format string) *slog.Logger {
	return setupLogger(os.Stdout, level, format)
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// replaceAttr пишет длительности строкой ("1.5s") вместо наносекунд
// и время в UTC.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindDuration:
		return slog.String(a.Key, a.Value.Duration().String())
	case slog.KindTime:
		return slog.Time(a.Key, a.Value.Time().UTC().Truncate(time.Microsecond))
	}
	return a
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext достаёт логгер из контекста, иначе возвращает slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithRunNode добавляет идентификаторы выполняемого узла.
func WithRunNode(logger *slog.Logger, runID, runNodeID, nodeID string) *slog.Logger {
	return logger.With("run_id", runID, "run_node_id", runNodeID, "node_id", nodeID)
}

// WithFlowID добавляет flow_id.
func WithFlowID(logger *slog.Logger, flowID string) *slog.Logger {
	return logger.With("flow_id", flowID)
}
