package main

import (
	"context"
	"time"

	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentScheduler)
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	m := metrics.NewMetrics()

	repo := cli.InitSQLite(logger, cfg, m)
	amqpClient := cli.InitAMQP(logger, cfg)

	opts := cli.ServiceOptions(cfg, m)
	transactions := services.NewTransactionService(repo, cli.Publisher(amqpClient), opts...)
	scheduler := services.NewRecurringScheduler(repo, transactions, services.SchedulerConfig{
		Concurrency:   cfg.RecurringConcurrency,
		MaxCatchUp:    cfg.RecurringMaxCatchUp,
		RecordTimeout: cfg.RecurringRecordTimeout,
	}, opts...)

	logger.Info("Recurring scheduler configured",
		"interval", cfg.RecurringInterval,
		"concurrency", cfg.RecurringConcurrency,
		"max_catch_up", cfg.RecurringMaxCatchUp,
		"sqlite_db", cfg.SQLiteDBPath)

	runner := worker.NewRecurringRunner(scheduler, cfg.RecurringInterval)
	ops := cli.StartOpsServer(cfg, m, repo, amqpClient)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		logger.Info("Shutting down recurring-worker...")
		if err := runner.Stop(ctx); err != nil {
			logger.Warn("Scheduler did not stop cleanly", log.FieldError, err)
		}
		if err := ops.Shutdown(ctx); err != nil {
			logger.Warn("Ops server shutdown failed", log.FieldError, err)
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		repo.Close()
	})

	if err := runner.Start(ctx); err != nil {
		logger.Error("Failed to start recurring scheduler", log.FieldError, err)
		return
	}

	cli.WaitForShutdown(ctx, done)
}
