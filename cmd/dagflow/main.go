package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/dagflow/internal/config"
	"github.com/aescanero/dagflow/internal/engine"
	"github.com/aescanero/dagflow/internal/logging"
	memcache "github.com/aescanero/dagflow/pkg/adapters/cache/memory"
	rediscache "github.com/aescanero/dagflow/pkg/adapters/cache/redis"
	memevents "github.com/aescanero/dagflow/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/dagflow/pkg/adapters/events/redis"
	"github.com/aescanero/dagflow/pkg/adapters/metrics/prometheus"
	memstorage "github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/dagflow/pkg/adapters/storage/redis"
	"github.com/aescanero/dagflow/pkg/api/grpc"
	"github.com/aescanero/dagflow/pkg/api/http"
	"github.com/aescanero/dagflow/pkg/api/websocket"
	"github.com/aescanero/dagflow/pkg/ports"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// backend holds the storage, cache and event adapters of one deployment.
type backend struct {
	storage ports.RunStorage
	cache   ports.ResultCache
	events  ports.EventBus
	// stream feeds websocket clients and must broadcast every event.
	stream ports.EventBus
	close  func() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dagflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("backend", string(cfg.Backend)))

	be, err := newBackend(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backend", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector(nil)

	eng := engine.New(engine.Options{
		Logger:              logger,
		Metrics:             metricsCollector,
		Cache:               be.cache,
		Events:              be.events,
		Storage:             be.storage,
		TypesFile:           cfg.TypesFile,
		PoolSize:            cfg.Workers.PoolSize,
		HealthCheckInterval: cfg.Workers.HealthCheckInterval,
		NodeTimeout:         cfg.Timeouts.NodeExecutionTimeout,
		RunTimeout:          cfg.Timeouts.RunExecutionTimeout,
		MaxLoopIterations:   cfg.Engine.MaxLoopIterations,
		CacheEnabled:        cfg.Engine.CacheEnabled,
	})
	if err := eng.Init(); err != nil {
		logger.Fatal("failed to initialize engine", zap.Error(err))
	}

	// Initialize API servers
	httpServer, err := http.NewServer(&http.Config{
		Port:   cfg.HTTPPort,
		Engine: eng,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create HTTP server", zap.Error(err))
	}
	httpServer.SetupWebSocket(websocket.NewHandler(be.stream, eng.Manager(), logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Health: eng.Pool().Health(),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("dagflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Int("plugins", len(eng.Plugins().ListMetadata())))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	// Cancels active runs before the worker pool stops.
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}

	if err := be.close(); err != nil {
		logger.Error("backend close error", zap.Error(err))
	}

	logger.Info("dagflow shut down complete")
}

// newBackend connects the configured storage, cache and event adapters.
func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.Backend == config.BackendMemory {
		bus := memevents.NewInMemoryEventBus(logger)
		return &backend{
			storage: memstorage.NewInMemoryRunStorage(),
			cache:   memcache.NewResultCache(),
			events:  bus,
			stream:  bus,
			close:   bus.Close,
		}, nil
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	bus, err := redisevents.NewStreamsEventBus(redisClient, cfg.Redis.ConsumerGroup, cfg.Redis.ConsumerName, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	// Consumers in a group share the events, so websocket clients read
	// through their own broadcast bus.
	stream := bus
	if cfg.Redis.ConsumerGroup != "" {
		stream, err = redisevents.NewStreamsEventBus(redisClient, "", "", logger)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to create stream bus: %w", err)
		}
	}

	return &backend{
		storage: redisstorage.NewRunStorage(redisClient, cfg.Redis.StateTTL, logger),
		cache:   rediscache.NewResultCache(redisClient, cfg.Redis.CacheTTL, logger),
		events:  bus,
		stream:  stream,
		close: func() error {
			var errs error
			if stream != bus {
				errs = multierr.Append(errs, stream.Close())
			}
			errs = multierr.Append(errs, bus.Close())
			return multierr.Append(errs, redisClient.Close())
		},
	}, nil
}
