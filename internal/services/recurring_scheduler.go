package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// SchedulerConfig bounds one ProcessDue run.
type SchedulerConfig struct {
	// Concurrency is the number of schedules processed in parallel.
	Concurrency int
	// MaxCatchUp caps the occurrences materialized per schedule per run;
	// the rest are picked up by the next run. Zero means no cap.
	MaxCatchUp int
	// RecordTimeout bounds the work on one schedule. Zero disables it.
	RecordTimeout time.Duration
	// BatchSize caps the due schedules loaded per run. Zero means all.
	BatchSize int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Concurrency:   4,
		MaxCatchUp:    1000,
		RecordTimeout: 30 * time.Second,
		BatchSize:     0,
	}
}

// RecordError is the failure of one schedule within a run.
type RecordError struct {
	RecurringID string
	OwnerID     string
	// Paused is set when the schedule was paused because of the failure.
	Paused bool
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("recurring transaction %s: %v", e.RecurringID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// ProcessResult summarizes a ProcessDue run.
type ProcessResult struct {
	Processed int // schedules handled without error
	Failed    int
	Created   int // transactions materialized
	Exhausted int // schedules that passed their end date
	Errors    []RecordError
}

// Err returns a core.ErrPartialBatchFailure error listing every failed
// schedule, or nil.
func (r ProcessResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return fmt.Errorf("%w: %d of %d schedules failed: %w",
		core.ErrPartialBatchFailure, r.Failed, r.Processed+r.Failed, errors.Join(errs...))
}

// RecurringScheduler materializes due occurrences of recurring schedules.
type RecurringScheduler struct {
	ledger       Ledger
	transactions *TransactionService
	cfg          SchedulerConfig
	opts         options
}

func NewRecurringScheduler(ledger Ledger, transactions *TransactionService, cfg SchedulerConfig, opts ...Option) *RecurringScheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &RecurringScheduler{
		ledger:       ledger,
		transactions: transactions,
		cfg:          cfg,
		opts:         newOptions(opts),
	}
}

// ProcessDue materializes every occurrence due on or before the calendar
// day of now. Schedules are isolated from each other: a failing one is
// recorded in the result and the run continues. The returned error is
// only set when the due schedules could not be loaded.
func (s *RecurringScheduler) ProcessDue(ctx context.Context, now time.Time) (ProcessResult, error) {
	if s.ledger == nil || s.transactions == nil {
		return ProcessResult{}, fmt.Errorf("scheduler not properly initialized")
	}

	ctx, span := tracer.Start(ctx, "RecurringScheduler.ProcessDue")
	defer span.End()
	started := time.Now()

	today := core.DateOf(now)
	due, err := s.ledger.ListDueRecurring(ctx, today, s.cfg.BatchSize)
	if err != nil {
		s.opts.metrics.RecordSchedulerRun("error", time.Since(started))
		span.RecordError(err)
		return ProcessResult{}, fmt.Errorf("list due recurring transactions: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring transactions",
		"total_due", len(due),
		"processing_date", today.String())

	var (
		mu     sync.Mutex
		result ProcessResult
		g      errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, rt := range due {
		rt := rt
		g.Go(func() error {
			out := s.processRecord(ctx, rt, today)

			mu.Lock()
			defer mu.Unlock()
			result.Created += out.created
			if out.exhausted {
				result.Exhausted++
			}
			if out.err != nil {
				result.Failed++
				result.Errors = append(result.Errors, RecordError{
					RecurringID: rt.ID,
					OwnerID:     rt.OwnerID,
					Paused:      out.paused,
					Err:         out.err,
				})
				return nil
			}
			result.Processed++
			return nil
		})
	}
	_ = g.Wait()

	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	s.opts.metrics.RecordSchedulerRun(outcome, time.Since(started))
	s.opts.metrics.AddOccurrencesCreated(result.Created)
	span.SetAttributes(
		attribute.Int("recurring.processed", result.Processed),
		attribute.Int("recurring.failed", result.Failed),
		attribute.Int("recurring.created", result.Created),
	)

	slog.InfoContext(ctx, "Recurring transaction processing complete",
		"processed", result.Processed,
		"failed", result.Failed,
		"created", result.Created,
		"exhausted", result.Exhausted,
		"duration", time.Since(started))

	return result, nil
}

type recordOutcome struct {
	created   int
	exhausted bool
	paused    bool
	err       error
}

// processRecord catches up one schedule, one occurrence per storage
// transaction, so a crash never loses or duplicates an occurrence.
func (s *RecurringScheduler) processRecord(ctx context.Context, rt core.RecurringTransaction, today core.Date) (out recordOutcome) {
	recordCtx := ctx
	if s.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(ctx, s.cfg.RecordTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			out.err = fmt.Errorf("panic processing schedule: %v", p)
		}
	}()

	for i := 0; s.cfg.MaxCatchUp <= 0 || i < s.cfg.MaxCatchUp; i++ {
		step, err := s.materializeNext(recordCtx, rt.OwnerID, rt.ID, today)
		if err != nil {
			out.err = err
			break
		}
		if step.created != nil {
			out.created++
			s.transactions.NotifyCreated(ctx, *step.created)
			slog.InfoContext(ctx, "Created transaction from recurring template",
				"recurring_id", rt.ID,
				"transaction_id", step.created.ID,
				"occurrence_date", step.created.Date.String(),
				"amount_minor", step.created.Amount.Minor,
				"frequency", rt.Frequency)
		}
		if step.exhausted {
			out.exhausted = true
			s.opts.metrics.IncrScheduleExhausted()
			slog.InfoContext(ctx, "Recurring transaction exhausted",
				"recurring_id", rt.ID,
				"end_date", rt.EndDate.String())
		}
		if step.done {
			return out
		}
	}

	if out.err == nil {
		slog.WarnContext(ctx, "Catch-up limit reached, remaining occurrences deferred to next run",
			"recurring_id", rt.ID,
			"max_catch_up", s.cfg.MaxCatchUp)
		return out
	}

	if core.IsTransient(out.err) || ctx.Err() != nil {
		s.opts.metrics.IncrRecordFailure("transient")
		slog.WarnContext(ctx, "Recurring transaction failed, will retry next run",
			"recurring_id", rt.ID,
			"owner_id", rt.OwnerID,
			"error", out.err)
		return out
	}

	s.opts.metrics.IncrRecordFailure("paused")
	if err := s.pauseWithError(ctx, rt.OwnerID, rt.ID, out.err); err != nil {
		slog.ErrorContext(ctx, "Failed to pause failing recurring transaction",
			"recurring_id", rt.ID,
			"error", err)
		return out
	}
	out.paused = true
	slog.ErrorContext(ctx, "Recurring transaction paused after failure",
		"recurring_id", rt.ID,
		"owner_id", rt.OwnerID,
		"error", out.err)
	return out
}

type stepResult struct {
	created   *core.Transaction
	exhausted bool
	done      bool
}

// materializeNext handles the occurrence at the schedule cursor: it creates
// the transaction and advances the cursor in the same storage transaction.
func (s *RecurringScheduler) materializeNext(ctx context.Context, ownerID, id string, today core.Date) (stepResult, error) {
	var res stepResult
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		res = stepResult{}

		cur, err := tx.GetRecurring(ctx, ownerID, id)
		if errors.Is(err, core.ErrNotFound) {
			// deleted since the scan
			res.done = true
			return nil
		}
		if err != nil {
			return err
		}
		if !cur.IsActive() || cur.NextDueDate.After(today) {
			res.done = true
			return nil
		}

		occurrence := cur.NextDueDate
		cur.UpdatedAt = s.opts.now()
		if cur.HasEndDate() && occurrence.After(cur.EndDate) {
			cur.Status = core.ScheduleExhausted
			res.exhausted, res.done = true, true
			return tx.UpdateRecurring(ctx, cur)
		}

		exists, err := tx.OccurrenceExists(ctx, cur.ID, occurrence)
		if err != nil {
			return err
		}
		if exists {
			// Only the cursor moves.
			slog.WarnContext(ctx, "Occurrence already materialized",
				"recurring_id", cur.ID,
				"occurrence_date", occurrence.String())
		} else {
			t, err := s.transactions.Materialize(ctx, tx, cur, occurrence)
			if err != nil {
				return err
			}
			res.created = &t
		}

		next, err := NextOccurrence(cur.Frequency, cur.Interval, cur.StartDate, occurrence)
		if err != nil {
			return err
		}
		cur.LastProcessedDate = occurrence
		cur.NextDueDate = next
		cur.LastError = ""
		if cur.HasEndDate() && next.After(cur.EndDate) {
			cur.Status = core.ScheduleExhausted
			res.exhausted, res.done = true, true
		}
		return tx.UpdateRecurring(ctx, cur)
	})
	if err != nil {
		return stepResult{}, err
	}
	return res, nil
}

func (s *RecurringScheduler) pauseWithError(ctx context.Context, ownerID, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	return s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		cur, err := tx.GetRecurring(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if !cur.IsActive() {
			return nil
		}
		cur.Status = core.SchedulePaused
		cur.LastError = cause.Error()
		cur.UpdatedAt = s.opts.now()
		return tx.UpdateRecurring(ctx, cur)
	})
}
