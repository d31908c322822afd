package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Database.Store)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.LeaseTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "@every 30s", cfg.Invoker.Schedule)
	assert.Equal(t, ":8080", cfg.API.Addr())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("FANFLOW_DATABASE_STORE", "memory")
	t.Setenv("FANFLOW_SCHEDULER_BATCH_SIZE", "25")
	t.Setenv("FANFLOW_SCHEDULER_LEASE_TIMEOUT", "3m")
	t.Setenv("FANFLOW_REDIS_ADDR", "redis:6379")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Database.Store)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.LeaseTimeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanflow.yaml")
	content := []byte("api:\n  port: 9090\nretry:\n  max_attempts: 5\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("FANFLOW_CONFIG", path)
	t.Setenv("FANFLOW_RETRY_MAX_ATTEMPTS", "7")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	// окружение важнее файла
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("FANFLOW_DATABASE_STORE", "cassandra")

	_, err := load(viper.New())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_LeaseShorterThanBatch(t *testing.T) {
	// 100 узлов по 10 параллельно: до 10 попыток по 30s подряд
	t.Setenv("FANFLOW_SCHEDULER_LEASE_TIMEOUT", "5m")

	_, err := load(viper.New())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "lease_timeout")
}

func TestSchedulerConfig_MaxBatchDuration(t *testing.T) {
	cfg := SchedulerConfig{BatchSize: 25, Concurrency: 10, ExecutorTimeout: 30 * time.Second}
	assert.Equal(t, 90*time.Second, cfg.MaxBatchDuration())

	cfg.BatchSize = 20
	assert.Equal(t, time.Minute, cfg.MaxBatchDuration())
}
