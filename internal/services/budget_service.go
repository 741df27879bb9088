package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// DefaultAlertThreshold is used when a budget is created without one.
const DefaultAlertThreshold = 0.8

// BudgetService manages spending limits and evaluates them against the
// ledger.
type BudgetService struct {
	ledger Ledger
	opts   options
}

func NewBudgetService(ledger Ledger, opts ...Option) *BudgetService {
	return &BudgetService{ledger: ledger, opts: newOptions(opts)}
}

func (s *BudgetService) Create(ctx context.Context, ownerID string, in core.Budget) (core.Budget, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.Create", ownerID)
	defer cancel()

	now := s.opts.now()
	b := in
	b.ID = s.opts.newID()
	b.OwnerID = ownerID
	b.Name = strings.TrimSpace(b.Name)
	if b.AlertThreshold == 0 {
		b.AlertThreshold = DefaultAlertThreshold
	}
	b.AlertedWindowStart = core.Date{}
	b.CreatedAt = now
	b.UpdatedAt = now

	err := requireOwner(ownerID)
	if err == nil {
		err = b.Validate()
	}
	if err == nil {
		err = s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
			if err := checkBudgetCategory(ctx, tx, b); err != nil {
				return err
			}
			return tx.InsertBudget(ctx, b)
		})
	}
	if err := finish(ctx, span, err); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget created",
		"owner_id", ownerID,
		"budget_id", b.ID,
		"period", b.Period,
		"limit_minor", b.Limit.Minor)
	return b, nil
}

func checkBudgetCategory(ctx context.Context, tx storage.CategoryStore, b core.Budget) error {
	return checkCategory(ctx, tx, core.Transaction{
		OwnerID:    b.OwnerID,
		Type:       core.Expense,
		CategoryID: b.CategoryID,
	})
}

func (s *BudgetService) Get(ctx context.Context, ownerID, id string) (core.Budget, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.Get", ownerID)
	defer cancel()

	b, err := s.ledger.GetBudget(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", id, err)
	}
	return b, nil
}

func (s *BudgetService) List(ctx context.Context, ownerID string) ([]core.Budget, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.List", ownerID)
	defer cancel()

	budgets, err := s.ledger.ListBudgets(ctx, ownerID)
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

// Update edits a budget. Moving its windows forgets the last alert so the
// new current window can alert again.
func (s *BudgetService) Update(ctx context.Context, ownerID, id string, patch core.BudgetPatch) (core.Budget, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.Update", ownerID)
	defer cancel()

	var updated core.Budget
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		cur, err := tx.GetBudget(ctx, ownerID, id)
		if err != nil {
			return err
		}
		next := patch.Apply(cur)
		next.Name = strings.TrimSpace(next.Name)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := checkBudgetCategory(ctx, tx, next); err != nil {
			return err
		}
		if patch.ChangesWindows() {
			next.AlertedWindowStart = core.Date{}
		}
		next.UpdatedAt = s.opts.now()
		if err := tx.UpdateBudget(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return core.Budget{}, fmt.Errorf("update budget %s: %w", id, err)
	}
	return updated, nil
}

func (s *BudgetService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.Delete", ownerID)
	defer cancel()

	err := s.ledger.DeleteBudget(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("delete budget %s: %w", id, err)
	}
	return nil
}

// Status reports the spend of the budget in the window containing now.
func (s *BudgetService) Status(ctx context.Context, ownerID, id string, now time.Time) (core.BudgetStatus, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.Status", ownerID)
	defer cancel()

	b, err := s.ledger.GetBudget(ctx, ownerID, id)
	var st core.BudgetStatus
	if err == nil {
		st, err = s.status(ctx, s.ledger, b, core.DateOf(now))
	}
	if err := finish(ctx, span, err); err != nil {
		return core.BudgetStatus{}, fmt.Errorf("budget status %s: %w", id, err)
	}
	return st, nil
}

// Evaluate returns the status of every budget of the owner that is in
// effect at now.
func (s *BudgetService) Evaluate(ctx context.Context, ownerID string, now time.Time) ([]core.BudgetStatus, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.Evaluate", ownerID)
	defer cancel()

	today := core.DateOf(now)
	var statuses []core.BudgetStatus
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		budgets, err := tx.ListBudgets(ctx, ownerID)
		if err != nil {
			return err
		}
		statuses = make([]core.BudgetStatus, 0, len(budgets))
		for _, b := range budgets {
			if !budgetInEffect(b, today) {
				continue
			}
			st, err := s.status(ctx, tx, b, today)
			if err != nil {
				return err
			}
			statuses = append(statuses, st)
		}
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("evaluate budgets: %w", err)
	}
	return statuses, nil
}

func budgetInEffect(b core.Budget, today core.Date) bool {
	if today.Before(b.StartDate) {
		return false
	}
	return b.EndDate.IsZero() || !today.After(b.EndDate)
}

func (s *BudgetService) status(ctx context.Context, tx storage.TransactionStore, b core.Budget, at core.Date) (core.BudgetStatus, error) {
	start, end, err := PeriodWindow(b.Period, b.StartDate, at)
	if err != nil {
		return core.BudgetStatus{}, err
	}
	if !b.EndDate.IsZero() && end.After(b.EndDate) {
		end = b.EndDate
	}

	spent, err := tx.SumExpenses(ctx, b.OwnerID, b.CategoryID, start, end)
	if err != nil {
		return core.BudgetStatus{}, err
	}

	ratio := spent.Decimal().Div(b.Limit.Decimal())
	return core.BudgetStatus{
		Budget:           b,
		WindowStart:      start,
		WindowEnd:        end,
		Spent:            spent,
		Remaining:        b.Limit.Add(spent.Neg()),
		Ratio:            ratio.InexactFloat64(),
		ThresholdReached: ratio.GreaterThanOrEqual(decimal.NewFromFloat(b.AlertThreshold)),
		Exceeded:         spent.Minor > b.Limit.Minor,
	}, nil
}

// MarkAlerted records that the alert for the window starting at window was
// raised. It reports false when it already was.
func (s *BudgetService) MarkAlerted(ctx context.Context, ownerID, id string, window core.Date) (bool, error) {
	ctx, span, cancel := s.opts.begin(ctx, "BudgetService.MarkAlerted", ownerID)
	defer cancel()

	marked, err := s.ledger.MarkBudgetAlerted(ctx, ownerID, id, window)
	if err := finish(ctx, span, err); err != nil {
		return false, fmt.Errorf("mark budget %s alerted: %w", id, err)
	}
	return marked, nil
}

// CheckAlerts evaluates the owner's budgets and returns those that crossed
// their threshold in the current window and had not alerted for it yet.
// Each returned budget is marked, so it is reported once per window.
func (s *BudgetService) CheckAlerts(ctx context.Context, ownerID string, now time.Time) ([]core.BudgetStatus, error) {
	statuses, err := s.Evaluate(ctx, ownerID, now)
	if err != nil {
		return nil, err
	}

	var alerts []core.BudgetStatus
	for _, st := range statuses {
		if !st.ThresholdReached {
			continue
		}
		marked, err := s.MarkAlerted(ctx, ownerID, st.Budget.ID, st.WindowStart)
		if err != nil {
			return alerts, err
		}
		if !marked {
			continue
		}
		s.opts.metrics.IncrBudgetAlert()
		slog.WarnContext(ctx, "Budget threshold reached",
			"owner_id", ownerID,
			"budget_id", st.Budget.ID,
			"budget_name", st.Budget.Name,
			"window_start", st.WindowStart.String(),
			"spent", st.Spent.String(),
			"limit", st.Budget.Limit.String(),
			"exceeded", st.Exceeded)
		alerts = append(alerts, st)
	}
	return alerts, nil
}

// Owners lists every owner with budgets, for periodic sweeps.
func (s *BudgetService) Owners(ctx context.Context) ([]string, error) {
	owners, err := s.ledger.ListBudgetOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budget owners: %w", err)
	}
	return owners, nil
}
