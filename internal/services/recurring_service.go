package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// RecurringService manages recurring schedules. Materializing occurrences is
// the scheduler's job; this service only maintains the template and the
// cursor.
type RecurringService struct {
	ledger Ledger
	opts   options
}

func NewRecurringService(ledger Ledger, opts ...Option) *RecurringService {
	return &RecurringService{ledger: ledger, opts: newOptions(opts)}
}

// Create stores a new active schedule whose first occurrence is StartDate.
// A StartDate in the past is caught up by the next scheduler run.
func (s *RecurringService) Create(ctx context.Context, ownerID string, in core.RecurringTransaction) (core.RecurringTransaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.Create", ownerID)
	defer cancel()

	now := s.opts.now()
	rt := in
	rt.ID = s.opts.newID()
	rt.OwnerID = ownerID
	rt.Description = strings.TrimSpace(rt.Description)
	rt.Tags = core.NormalizeTags(rt.Tags)
	if rt.Interval == 0 {
		rt.Interval = 1
	}
	rt.Status = core.ScheduleActive
	rt.LastProcessedDate = core.Date{}
	rt.NextDueDate = rt.StartDate
	rt.LastError = ""
	rt.CreatedAt = now
	rt.UpdatedAt = now

	err := requireOwner(ownerID)
	if err == nil {
		err = rt.Validate()
	}
	if err == nil {
		err = s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
			if err := checkTemplate(ctx, tx, rt); err != nil {
				return err
			}
			return tx.InsertRecurring(ctx, rt)
		})
	}
	if err := finish(ctx, span, err); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("create recurring transaction: %w", err)
	}

	slog.InfoContext(ctx, "Recurring transaction created",
		"owner_id", ownerID,
		"recurring_id", rt.ID,
		"frequency", rt.Frequency,
		"interval", rt.Interval,
		"start_date", rt.StartDate.String())
	return rt, nil
}

// checkTemplate verifies the accounts and category a schedule will post to.
func checkTemplate(ctx context.Context, tx storage.LedgerTx, rt core.RecurringTransaction) error {
	accounts := []string{rt.AccountID}
	if rt.Type == core.Transfer {
		accounts = append(accounts, rt.DestinationAccountID)
	}
	for _, id := range accounts {
		a, err := tx.GetAccount(ctx, rt.OwnerID, id)
		if err != nil {
			return err
		}
		if !a.Active {
			return fmt.Errorf("account %s: %w", id, core.ErrInactiveAccount)
		}
	}
	return checkCategory(ctx, tx, core.Transaction{
		OwnerID:    rt.OwnerID,
		Type:       rt.Type,
		CategoryID: rt.CategoryID,
	})
}

func (s *RecurringService) Get(ctx context.Context, ownerID, id string) (core.RecurringTransaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.Get", ownerID)
	defer cancel()

	rt, err := s.ledger.GetRecurring(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("get recurring transaction %s: %w", id, err)
	}
	return rt, nil
}

// List returns the owner's schedules ordered by next due date.
func (s *RecurringService) List(ctx context.Context, ownerID string) ([]core.RecurringTransaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.List", ownerID)
	defer cancel()

	list, err := s.ledger.ListRecurring(ctx, ownerID)
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list recurring transactions: %w", err)
	}
	return list, nil
}

// Update edits the template and schedule. Changing frequency, interval or
// start date recomputes the cursor from the last materialized occurrence, so
// nothing already materialized is generated again. Changing the end date
// can exhaust the schedule or bring an exhausted one back.
func (s *RecurringService) Update(ctx context.Context, ownerID, id string, patch core.RecurringPatch) (core.RecurringTransaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.Update", ownerID)
	defer cancel()

	var updated core.RecurringTransaction
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		cur, err := tx.GetRecurring(ctx, ownerID, id)
		if err != nil {
			return err
		}

		next := patch.Apply(cur)
		next.Description = strings.TrimSpace(next.Description)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := checkTemplate(ctx, tx, next); err != nil {
			return err
		}

		if patch.ChangesSchedule() {
			next.NextDueDate = next.StartDate
			if !next.LastProcessedDate.IsZero() {
				due, err := NextOccurrence(next.Frequency, next.Interval, next.StartDate, next.LastProcessedDate)
				if err != nil {
					return err
				}
				next.NextDueDate = due
			}
		}
		next.Status = statusForCursor(next)
		next.UpdatedAt = s.opts.now()

		if err := tx.UpdateRecurring(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("update recurring transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Recurring transaction updated",
		"owner_id", ownerID,
		"recurring_id", id,
		"status", updated.Status,
		"next_due_date", updated.NextDueDate.String())
	return updated, nil
}

// statusForCursor exhausts a schedule whose cursor passed its end date and
// reactivates an exhausted one whose cursor is back in range. Paused stays
// paused while in range.
func statusForCursor(rt core.RecurringTransaction) core.ScheduleStatus {
	if rt.HasEndDate() && rt.NextDueDate.After(rt.EndDate) {
		return core.ScheduleExhausted
	}
	if rt.Status == core.ScheduleExhausted {
		return core.ScheduleActive
	}
	return rt.Status
}

// Pause stops materialization. The cursor and LastProcessedDate are kept.
func (s *RecurringService) Pause(ctx context.Context, ownerID, id string) (core.RecurringTransaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.Pause", ownerID)
	defer cancel()

	var paused core.RecurringTransaction
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		rt, err := tx.GetRecurring(ctx, ownerID, id)
		if err != nil {
			return err
		}
		switch rt.Status {
		case core.SchedulePaused:
			paused = rt
			return nil
		case core.ScheduleExhausted:
			return core.NewValidationError("status", "exhausted schedule cannot be paused")
		}
		rt.Status = core.SchedulePaused
		rt.UpdatedAt = s.opts.now()
		if err := tx.UpdateRecurring(ctx, rt); err != nil {
			return err
		}
		paused = rt
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("pause recurring transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Recurring transaction paused",
		"owner_id", ownerID,
		"recurring_id", id,
		"last_processed_date", paused.LastProcessedDate.String())
	return paused, nil
}

// Resume reactivates a paused schedule. Occurrences that fell due while it
// was paused are skipped: if the cursor is not in the future, it moves to the
// first occurrence strictly after today.
func (s *RecurringService) Resume(ctx context.Context, ownerID, id string) (core.RecurringTransaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.Resume", ownerID)
	defer cancel()

	today := core.DateOf(s.opts.now())
	var resumed core.RecurringTransaction
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		rt, err := tx.GetRecurring(ctx, ownerID, id)
		if err != nil {
			return err
		}
		switch rt.Status {
		case core.ScheduleActive:
			resumed = rt
			return nil
		case core.ScheduleExhausted:
			return core.NewValidationError("status", "exhausted schedule cannot be resumed")
		}

		if !rt.NextDueDate.After(today) {
			next, err := NextOccurrence(rt.Frequency, rt.Interval, rt.StartDate, today)
			if err != nil {
				return err
			}
			rt.NextDueDate = next
		}
		rt.Status = core.ScheduleActive
		rt.Status = statusForCursor(rt)
		rt.LastError = ""
		rt.UpdatedAt = s.opts.now()
		if err := tx.UpdateRecurring(ctx, rt); err != nil {
			return err
		}
		resumed = rt
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("resume recurring transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Recurring transaction resumed",
		"owner_id", ownerID,
		"recurring_id", id,
		"status", resumed.Status,
		"next_due_date", resumed.NextDueDate.String())
	return resumed, nil
}

// Delete removes the schedule. Transactions it already materialized stay.
func (s *RecurringService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span, cancel := s.opts.begin(ctx, "RecurringService.Delete", ownerID)
	defer cancel()

	err := s.ledger.DeleteRecurring(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("delete recurring transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Recurring transaction deleted",
		"owner_id", ownerID,
		"recurring_id", id)
	return nil
}
