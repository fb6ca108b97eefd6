// Package engine wires the registries, worker pool, scheduler and run
// manager into one explicitly initialized unit. Engines share no state, so
// several can live in one process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/application/scheduler"
	"github.com/aescanero/dagflow/internal/application/standalone"
	"github.com/aescanero/dagflow/internal/application/workers"
	"github.com/aescanero/dagflow/internal/plugins"
	"github.com/aescanero/dagflow/internal/plugins/core"
	"github.com/aescanero/dagflow/internal/typesys"
	memcache "github.com/aescanero/dagflow/pkg/adapters/cache/memory"
	"github.com/aescanero/dagflow/pkg/adapters/metrics/noop"
	"github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	"github.com/aescanero/dagflow/pkg/plugin"
	"github.com/aescanero/dagflow/pkg/ports"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned when the engine is used before Init.
var ErrNotInitialized = errors.New("engine is not initialized")

// Options configures an Engine. Zero values select in-memory storage, an
// in-memory cache when CacheEnabled is set, no events and the scheduler
// defaults.
type Options struct {
	Logger  *zap.Logger
	Metrics ports.MetricsCollector
	Cache   ports.ResultCache
	Events  ports.EventBus
	Storage ports.RunStorage

	// TypesFile extends the default type system.
	TypesFile string
	// Plugins are registered after the core plugins.
	Plugins []plugin.Plugin

	PoolSize            int
	HealthCheckInterval time.Duration
	NodeTimeout         time.Duration
	RunTimeout          time.Duration
	MaxLoopIterations   int
	CacheEnabled        bool
}

// Engine owns every engine component.
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	initialized bool

	types     *typesys.Registry
	plugins   *plugins.Registry
	pool      *workers.Pool
	scheduler *scheduler.Scheduler
	validator *orchestrator.Validator
	manager   *orchestrator.Manager
	runner    *standalone.Runner
}

// New creates an engine. Nothing is loaded or started until Init.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = noop.Collector{}
	}
	if opts.Storage == nil {
		opts.Storage = memory.NewInMemoryRunStorage()
	}
	if opts.Cache == nil && opts.CacheEnabled {
		opts.Cache = memcache.NewResultCache()
	}
	return &Engine{opts: opts, logger: opts.Logger}
}

// Init loads the type system, registers plugins and starts the worker pool.
// Calling it again after a successful Init does nothing.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	types, err := typesys.NewDefault()
	if err != nil {
		return fmt.Errorf("failed to load default types: %w", err)
	}
	if e.opts.TypesFile != "" {
		if err := types.LoadFile(e.opts.TypesFile); err != nil {
			return err
		}
	}

	reg := plugins.NewRegistry(types)
	if err := reg.Add(core.Plugins()...); err != nil {
		return fmt.Errorf("failed to register core plugins: %w", err)
	}
	if err := reg.Add(e.opts.Plugins...); err != nil {
		return fmt.Errorf("failed to register plugins: %w", err)
	}

	pool := workers.NewPool(e.opts.PoolSize, e.opts.Metrics, e.logger, e.opts.HealthCheckInterval)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	sched := scheduler.New(pool, types, e.logger, scheduler.Options{
		Cache:             e.opts.Cache,
		Events:            e.opts.Events,
		Metrics:           e.opts.Metrics,
		NodeTimeout:       e.opts.NodeTimeout,
		MaxLoopIterations: e.opts.MaxLoopIterations,
	})
	validator := orchestrator.NewValidator(reg)

	e.types = types
	e.plugins = reg
	e.pool = pool
	e.scheduler = sched
	e.validator = validator
	e.manager = orchestrator.NewManager(sched, validator, e.opts.Storage, e.opts.Events, e.opts.Metrics, e.logger, orchestrator.ManagerOptions{
		RunTimeout:   e.opts.RunTimeout,
		CacheEnabled: e.opts.CacheEnabled,
	})
	e.runner = standalone.NewRunner(reg, sched, e.opts.Metrics, e.logger)
	e.initialized = true

	e.logger.Info("engine initialized",
		zap.Int("types", len(types.Types())),
		zap.Int("plugins", len(reg.ListMetadata())),
		zap.Int("workers", pool.Size()))
	return nil
}

// Initialized reports whether Init has completed.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Types returns the type registry, nil before Init.
func (e *Engine) Types() *typesys.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.types
}

// Plugins returns the plugin registry, nil before Init.
func (e *Engine) Plugins() *plugins.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plugins
}

// Pool returns the worker pool, nil before Init.
func (e *Engine) Pool() *workers.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

// Scheduler returns the scheduler, nil before Init.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler
}

// Validator returns the workflow validator, nil before Init.
func (e *Engine) Validator() *orchestrator.Validator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validator
}

// Manager returns the run manager, nil before Init.
func (e *Engine) Manager() *orchestrator.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager
}

// Runner returns the standalone runner, nil before Init.
func (e *Engine) Runner() *standalone.Runner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runner
}

// Shutdown cancels active runs and stops the worker pool.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}

	var errs error
	if err := e.manager.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("manager: %w", err))
	}
	if err := e.pool.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("worker pool: %w", err))
	}
	e.logger.Info("engine shut down")
	return errs
}
