// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/fintrack, cmd/recurring-worker and cmd/budget-worker.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/config"
	"fintrack/internal/core"
	fthttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// sets it as the slog default.
func SetupLogger(component string) *log.Logger {
	return SetupLoggerTo(component, os.Stdout)
}

// SetupLoggerTo is SetupLogger writing to w.
func SetupLoggerTo(component string, w io.Writer) *log.Logger {
	level, levelErr := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	cfg := log.DefaultConfig()
	cfg.Level = level
	cfg.Component = component
	cfg.Output = w
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}

	logger := log.New(cfg)
	log.SetDefault(logger)
	if levelErr != nil {
		logger.Warn("Falling back to info level", log.FieldError, levelErr)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the ledger store with the configured retry policy.
// Busy databases are counted on m. Exits the process on failure.
func InitSQLite(logger *log.Logger, cfg *config.Config, m *metrics.Metrics) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath,
		storage.WithRetry(cfg.StoreMaxRetries, cfg.StoreRetryBackoff),
		storage.WithBusyHook(m.IncrStoreBusy),
	)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	return repo
}

// InitAMQP connects to the broker when one is configured. It returns nil
// when events are disabled. A broker that cannot be reached is logged and
// treated as disabled, so the ledger keeps working without events.
func InitAMQP(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.EventsEnabled() {
		logger.Info("AMQP not configured, transaction events disabled")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to connect to AMQP, transaction events disabled", log.FieldError, err)
		return nil
	}
	logger.Info("AMQP connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// Publisher adapts a possibly nil client to services.EventPublisher, so a
// missing broker yields a nil interface rather than a nil pointer.
func Publisher(client *amqp.Client) services.EventPublisher {
	if client == nil {
		return nil
	}
	return client
}

// ServiceOptions returns the options every service of a binary shares.
func ServiceOptions(cfg *config.Config, m *metrics.Metrics) []services.Option {
	return []services.Option{
		services.WithOperationTimeout(cfg.OperationTimeout),
		services.WithMetrics(m),
	}
}

// NewCategoryCache builds the read-through category cache for the
// configured backend. It returns nil for CACHE_BACKEND=none, and falls back
// to memory when Redis cannot be reached.
func NewCategoryCache(ctx context.Context, logger *log.Logger, cfg *config.Config, m *metrics.Metrics) (*cache.ReadThrough[[]core.Category], func()) {
	const name = "categories"
	switch cfg.CacheBackend {
	case config.CacheNone:
		return nil, func() {}
	case config.CacheRedis:
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err == nil {
			logger.Info("Category cache backed by Redis", "addr", cfg.RedisAddr)
			c := cache.NewRedisCache[[]core.Category](client, "fintrack:"+name, cfg.CacheTTL)
			return cache.NewReadThrough(name, c, m), func() { client.Close() }
		}
		logger.Warn("Redis unavailable, using in-memory category cache", log.FieldError, err)
	}

	lru := cache.NewLRUCache[[]core.Category](cfg.CacheSize, cfg.CacheTTL)
	manager := cache.NewManager()
	manager.Register(lru)
	manager.StartCleanup(cfg.CacheTTL)
	return cache.NewReadThrough(name, lru, m), manager.Stop
}

// StartOpsServer serves health, readiness and metrics on OPS_PORT.
func StartOpsServer(cfg *config.Config, m *metrics.Metrics, repo *storage.SQLiteRepository, client *amqp.Client) *fthttp.Server {
	checks := []fthttp.ReadinessCheck{{Name: "storage", Probe: repo.Ping}}
	if client != nil {
		checks = append(checks, fthttp.ReadinessCheck{Name: "amqp", Probe: client.Ping})
	}
	srv := fthttp.NewServer(fmt.Sprintf(":%s", cfg.OpsPort), m.Registry, checks...)
	srv.Start()
	return srv
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
