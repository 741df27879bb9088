package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

// BudgetChecker raises budget alerts for one owner.
type BudgetChecker interface {
	CheckAlerts(ctx context.Context, ownerID string, now time.Time) ([]core.BudgetStatus, error)
	Owners(ctx context.Context) ([]string, error)
}

// BudgetWorker evaluates budgets when expenses are recorded and sweeps all
// owners periodically in case events were lost.
type BudgetWorker struct {
	budgets BudgetChecker
	now     func() time.Time
	loop    loop
}

func NewBudgetWorker(budgets BudgetChecker, sweepInterval time.Duration) *BudgetWorker {
	w := &BudgetWorker{budgets: budgets, now: time.Now}
	w.loop = loop{name: "budget-sweep", interval: sweepInterval, run: func(ctx context.Context, now time.Time) {
		if err := w.Sweep(ctx, now); err != nil {
			slog.ErrorContext(ctx, "Periodic budget sweep failed", "error", err)
		}
	}}
	return w
}

// HandleTransactionEvent processes a single transaction event from AMQP.
// Only new or changed expenses can push a budget over its threshold.
func (w *BudgetWorker) HandleTransactionEvent(ctx context.Context, msg *amqp.TransactionEvent) error {
	if !msg.IsExpense() || msg.Event == amqp.EventTransactionDeleted {
		slog.DebugContext(ctx, "Ignoring transaction event",
			"event", msg.Event,
			"transaction_id", msg.TransactionID,
			"type", msg.Type)
		return nil
	}

	slog.InfoContext(ctx, "Processing transaction event",
		"event", msg.Event,
		"transaction_id", msg.TransactionID,
		"owner_id", msg.OwnerID)

	if _, err := w.budgets.CheckAlerts(ctx, msg.OwnerID, w.now()); err != nil {
		return fmt.Errorf("check budgets of %s: %w", msg.OwnerID, err)
	}
	return nil
}

// Sweep checks the budgets of every owner. One owner failing does not stop
// the others.
func (w *BudgetWorker) Sweep(ctx context.Context, now time.Time) error {
	owners, err := w.budgets.Owners(ctx)
	if err != nil {
		return fmt.Errorf("list budget owners: %w", err)
	}

	alerts, failures := 0, 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raised, err := w.budgets.CheckAlerts(ctx, owner, now)
		if err != nil {
			failures++
			slog.ErrorContext(ctx, "Failed to check budgets", "owner_id", owner, "error", err)
			continue
		}
		alerts += len(raised)
	}

	slog.InfoContext(ctx, "Budget sweep completed",
		"owners", len(owners),
		"alerts", alerts,
		"errors", failures)
	if failures > 0 {
		return fmt.Errorf("%w: %d of %d owners failed", core.ErrPartialBatchFailure, failures, len(owners))
	}
	return nil
}

// Start sweeps immediately and then on every interval.
func (w *BudgetWorker) Start(ctx context.Context) error {
	return w.loop.start(ctx)
}

func (w *BudgetWorker) Stop(ctx context.Context) error {
	return w.loop.stop(ctx)
}

func (w *BudgetWorker) IsRunning() bool {
	return w.loop.isRunning()
}
