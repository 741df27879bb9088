package worker

import (
	"context"
	"log/slog"
	"time"

	"fintrack/internal/services"
)

// DueProcessor is the scheduler entry point the runner drives.
type DueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (services.ProcessResult, error)
}

// RecurringRunner triggers the recurring scheduler on a fixed interval.
// Runs never overlap.
type RecurringRunner struct {
	processor DueProcessor
	loop      loop
}

func NewRecurringRunner(processor DueProcessor, interval time.Duration) *RecurringRunner {
	r := &RecurringRunner{processor: processor}
	r.loop = loop{name: "recurring-scheduler", interval: interval, run: r.RunOnce}
	return r
}

func (r *RecurringRunner) Start(ctx context.Context) error {
	return r.loop.start(ctx)
}

func (r *RecurringRunner) Stop(ctx context.Context) error {
	return r.loop.stop(ctx)
}

func (r *RecurringRunner) IsRunning() bool {
	return r.loop.isRunning()
}

// RunOnce processes everything due at now and logs the outcome.
func (r *RecurringRunner) RunOnce(ctx context.Context, now time.Time) {
	result, err := r.processor.ProcessDue(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
		return
	}
	if err := result.Err(); err != nil {
		slog.WarnContext(ctx, "Recurring processing completed with failures",
			"failed", result.Failed,
			"error", err)
		return
	}
	slog.InfoContext(ctx, "Recurring processing complete",
		"transactions_created", result.Created,
		"next_check", now.Add(r.loop.interval).Format("15:04:05"))
}
