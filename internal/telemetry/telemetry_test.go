package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelWarn+2, ParseLevel("warn+2"))
}

func TestSetupLogger_Formats(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := setupLogger(&buf, "INFO", "json")
	WithRunNode(logger, "r1", "rn1", "A").Info("hello")
	assert.Contains(t, buf.String(), `"run_node_id":"rn1"`)
	assert.Contains(t, buf.String(), `"run_id":"r1"`)
	assert.NotContains(t, buf.String(), `"run":{`)

	buf.Reset()
	logger.Info("slept", "delay", 1500*time.Millisecond)
	assert.Contains(t, buf.String(), `"delay":"1.5s"`)

	buf.Reset()
	logger = setupLogger(&buf, "INFO", "text")
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	assert.False(t, strings.Contains(buf.String(), "hidden"))
	assert.Contains(t, buf.String(), "k=v")
}

func TestLoggerContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Claimed(3)
	m.Outcome("succeeded")
	m.Outcome("succeeded")
	m.RunFinished("completed")
	m.ObserveExecutor("send_email", 10*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.claimed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("completed")))

	count, err := testutil.GatherAndCount(reg, "fanflow_executor_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Claimed(1)
	m.Outcome("failed")
	m.RunStarted()
	m.Tick("ok")
	m.HTTPRequest("GET", "200")
}
