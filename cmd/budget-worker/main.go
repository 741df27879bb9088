package main

import (
	"context"
	"errors"
	"time"

	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentBudget)
	logger.Info("Starting budget-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	m := metrics.NewMetrics()

	repo := cli.InitSQLite(logger, cfg, m)
	amqpClient := cli.InitAMQP(logger, cfg)

	budgets := services.NewBudgetService(repo, cli.ServiceOptions(cfg, m)...)
	budgetWorker := worker.NewBudgetWorker(budgets, cfg.BudgetSweepInterval)
	ops := cli.StartOpsServer(cfg, m, repo, amqpClient)

	consumerDone := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		logger.Info("Shutting down budget-worker...")
		if err := budgetWorker.Stop(ctx); err != nil {
			logger.Warn("Budget sweep did not stop cleanly", log.FieldError, err)
		}
		select {
		case <-consumerDone:
		case <-ctx.Done():
			logger.Warn("Event consumer did not stop in time")
		}
		if err := ops.Shutdown(ctx); err != nil {
			logger.Warn("Ops server shutdown failed", log.FieldError, err)
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		repo.Close()
	})

	if err := budgetWorker.Start(ctx); err != nil {
		logger.Error("Failed to start budget sweep", log.FieldError, err)
		return
	}

	if amqpClient == nil {
		// Without events only the periodic sweep raises alerts.
		close(consumerDone)
		logger.Info("Budget alerts rely on the periodic sweep", "interval", cfg.BudgetSweepInterval)
	} else {
		go func() {
			defer close(consumerDone)
			err := amqpClient.ConsumeTransactionEvents(ctx, budgetWorker.HandleTransactionEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumer stopped", log.FieldError, err)
			}
		}()
		logger.Info("Consuming transaction events", "queue", cfg.AMQPQueue)
	}

	cli.WaitForShutdown(ctx, done)
}
