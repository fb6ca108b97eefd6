package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"go.uber.org/multierr"
)

// Backend selects where run state, cached results and events live.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Config holds all configuration for the dagflow server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DAGFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"DAGFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backend for storage, cache and events
	Backend Backend `env:"DAGFLOW_BACKEND" envDefault:"redis"`

	// TypesFile optionally extends the default type system
	TypesFile string `env:"DAGFLOW_TYPES_FILE"`

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Engine configuration
	Engine EngineConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Data retention
	StateTTL time.Duration `env:"REDIS_STATE_TTL" envDefault:"24h"`
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL" envDefault:"1h"`

	// Event consumers; an empty group delivers every event to every subscriber
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME" envDefault:"dagflow"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// EngineConfig holds scheduler behaviour switches
type EngineConfig struct {
	CacheEnabled      bool `env:"ENGINE_CACHE_ENABLED" envDefault:"true"`
	MaxLoopIterations int  `env:"ENGINE_MAX_LOOP_ITERATIONS" envDefault:"10000"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunExecutionTimeout  time.Duration `env:"TIMEOUT_RUN_EXECUTION" envDefault:"1h"`
	NodeExecutionTimeout time.Duration `env:"TIMEOUT_NODE_EXECUTION" envDefault:"5m"`
	ShutdownTimeout      time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("invalid gRPC port: %d", c.GRPCPort))
	}
	if c.HTTPPort == c.GRPCPort {
		errs = multierr.Append(errs, fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort))
	}

	switch c.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = multierr.Append(errs, errors.New("redis address is required"))
		}
		if c.Redis.ConsumerGroup != "" && c.Redis.ConsumerName == "" {
			errs = multierr.Append(errs, errors.New("redis consumer name is required with a consumer group"))
		}
	case BackendMemory:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unsupported backend: %s (must be redis or memory)", c.Backend))
	}

	if c.Workers.PoolSize < 1 {
		errs = multierr.Append(errs, errors.New("worker pool size must be at least 1"))
	}
	if c.Engine.MaxLoopIterations < 1 {
		errs = multierr.Append(errs, errors.New("max loop iterations must be at least 1"))
	}
	if c.Timeouts.NodeExecutionTimeout < 0 || c.Timeouts.RunExecutionTimeout < 0 {
		errs = multierr.Append(errs, errors.New("timeouts must not be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errs = multierr.Append(errs, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	return errs
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
