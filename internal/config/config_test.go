package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.StateTTL)
	assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)
	assert.Empty(t, cfg.Redis.ConsumerGroup)
	assert.Equal(t, 5, cfg.Workers.PoolSize)
	assert.True(t, cfg.Engine.CacheEnabled)
	assert.Equal(t, 10000, cfg.Engine.MaxLoopIterations)
	assert.Equal(t, time.Hour, cfg.Timeouts.RunExecutionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.NodeExecutionTimeout)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DAGFLOW_HTTP_PORT", "8081")
	t.Setenv("DAGFLOW_BACKEND", "memory")
	t.Setenv("WORKER_POOL_SIZE", "16")
	t.Setenv("ENGINE_CACHE_ENABLED", "false")
	t.Setenv("TIMEOUT_NODE_EXECUTION", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.HTTPPort)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 16, cfg.Workers.PoolSize)
	assert.False(t, cfg.Engine.CacheEnabled)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.NodeExecutionTimeout)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "many")
	_, err := Load()
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Setenv("DAGFLOW_HTTP_PORT", "0")
	t.Setenv("DAGFLOW_BACKEND", "etcd")
	t.Setenv("WORKER_POOL_SIZE", "0")
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid config")

	cfg := &Config{HTTPPort: 0, GRPCPort: 9090, Backend: "etcd", LogLevel: "verbose", Engine: EngineConfig{MaxLoopIterations: 1}}
	errs := multierr.Errors(cfg.Validate())
	assert.Len(t, errs, 4)
}
