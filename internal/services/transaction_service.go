package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// TransactionService is the only path that mutates transactions, and with
// them account balances. Each mutation is one storage transaction; events
// are published only after it commits.
type TransactionService struct {
	ledger    Ledger
	publisher EventPublisher
	engine    BalanceEngine
	opts      options
}

func NewTransactionService(ledger Ledger, publisher EventPublisher, opts ...Option) *TransactionService {
	return &TransactionService{
		ledger:    ledger,
		publisher: publisher,
		opts:      newOptions(opts),
	}
}

// Create records a user transaction and applies its balance effect.
func (s *TransactionService) Create(ctx context.Context, ownerID string, in core.TransactionInput) (core.Transaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "TransactionService.Create", ownerID)
	defer cancel()

	var created core.Transaction
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		t, err := s.create(ctx, tx, ownerID, in, recurringRef{})
		created = t
		return err
	})
	if err := finish(ctx, span, err); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		"owner_id", ownerID,
		"transaction_id", created.ID,
		"type", created.Type,
		"amount_minor", created.Amount.Minor)

	s.notify(ctx, amqp.EventTransactionCreated, created)
	return created, nil
}

// recurringRef marks a transaction materialized from a schedule occurrence.
type recurringRef struct {
	id         string
	occurrence core.Date
}

func (s *TransactionService) create(ctx context.Context, tx storage.LedgerTx, ownerID string, in core.TransactionInput, ref recurringRef) (core.Transaction, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.Transaction{}, err
	}

	now := s.opts.now()
	t := core.Transaction{
		ID:                   s.opts.newID(),
		OwnerID:              ownerID,
		Type:                 in.Type,
		Amount:               in.Amount,
		Date:                 in.Date,
		Description:          strings.TrimSpace(in.Description),
		SourceAccountID:      in.SourceAccountID,
		DestinationAccountID: in.DestinationAccountID,
		CategoryID:           in.CategoryID,
		Tags:                 core.NormalizeTags(in.Tags),
		Metadata:             in.Metadata,
		Origin:               core.OriginUser,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if ref.id != "" {
		t.Origin = core.OriginRecurring
		t.RecurringID = ref.id
		t.OccurrenceDate = ref.occurrence
	}

	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := checkCategory(ctx, tx, t); err != nil {
		return core.Transaction{}, err
	}
	if err := s.engine.ApplyEffect(ctx, tx, t); err != nil {
		return core.Transaction{}, err
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// Materialize creates the transaction of one schedule occurrence inside the
// caller's storage transaction. The caller publishes with NotifyCreated
// once it commits.
func (s *TransactionService) Materialize(ctx context.Context, tx storage.LedgerTx, rt core.RecurringTransaction, occurrence core.Date) (core.Transaction, error) {
	return s.create(ctx, tx, rt.OwnerID, rt.Template(occurrence), recurringRef{id: rt.ID, occurrence: occurrence})
}

// NotifyCreated publishes a created event for a committed transaction.
func (s *TransactionService) NotifyCreated(ctx context.Context, t core.Transaction) {
	s.notify(ctx, amqp.EventTransactionCreated, t)
}

// checkCategory verifies the category is visible to the owner and matches
// the transaction type.
func checkCategory(ctx context.Context, tx storage.CategoryStore, t core.Transaction) error {
	if t.CategoryID == "" {
		return nil
	}
	want, ok := core.CategoryTypeFor(t.Type)
	if !ok {
		return core.NewValidationError("category_id", "not allowed for transfer")
	}

	c, err := tx.GetCategory(ctx, t.OwnerID, t.CategoryID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NewValidationError("category_id", "unknown category")
	}
	if err != nil {
		return err
	}
	if c.Type != want {
		return core.NewValidationError("category_id", fmt.Sprintf("%s category cannot be used for %s", c.Type, t.Type))
	}
	return nil
}

// Update reverses the stored transaction, merges the patch and applies the
// result, all in one storage transaction. If anything fails, the reversal
// rolls back with it.
func (s *TransactionService) Update(ctx context.Context, ownerID, id string, patch core.TransactionPatch) (core.Transaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "TransactionService.Update", ownerID)
	defer cancel()

	var updated core.Transaction
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		orig, err := tx.GetTransaction(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = orig
			return nil
		}

		if err := s.engine.ReverseEffect(ctx, tx, orig); err != nil {
			return err
		}

		next := patch.Apply(orig)
		next.Description = strings.TrimSpace(next.Description)
		next.Tags = core.NormalizeTags(next.Tags)
		next.UpdatedAt = s.opts.now()
		if err := next.Validate(); err != nil {
			return err
		}
		if err := checkCategory(ctx, tx, next); err != nil {
			return err
		}
		if err := s.engine.ApplyEffect(ctx, tx, next); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, err)
	}
	if patch.IsEmpty() {
		return updated, nil
	}

	slog.InfoContext(ctx, "Transaction updated",
		"owner_id", ownerID,
		"transaction_id", id,
		"amount_minor", updated.Amount.Minor)

	s.notify(ctx, amqp.EventTransactionUpdated, updated)
	return updated, nil
}

// Delete reverses and removes a transaction atomically.
func (s *TransactionService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span, cancel := s.opts.begin(ctx, "TransactionService.Delete", ownerID)
	defer cancel()

	var deleted core.Transaction
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		orig, err := tx.GetTransaction(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if err := s.engine.ReverseEffect(ctx, tx, orig); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, ownerID, id); err != nil {
			return err
		}
		deleted = orig
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"owner_id", ownerID,
		"transaction_id", id)

	s.notify(ctx, amqp.EventTransactionDeleted, deleted)
	return nil
}

func (s *TransactionService) Get(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "TransactionService.Get", ownerID)
	defer cancel()

	t, err := s.ledger.GetTransaction(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// List returns the owner's transactions matching f, newest first.
func (s *TransactionService) List(ctx context.Context, ownerID string, f core.TransactionFilter) ([]core.Transaction, error) {
	ctx, span, cancel := s.opts.begin(ctx, "TransactionService.List", ownerID)
	defer cancel()

	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, finish(ctx, span, core.NewValidationError("to", "must not be before from"))
	}
	if f.Limit < 0 {
		return nil, finish(ctx, span, core.NewValidationError("limit", "cannot be negative"))
	}

	txs, err := s.ledger.ListTransactions(ctx, ownerID, f)
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// MonthOverview totals income and expense of one calendar month by category.
func (s *TransactionService) MonthOverview(ctx context.Context, ownerID string, year, month int) (core.MonthOverview, error) {
	ctx, span, cancel := s.opts.begin(ctx, "TransactionService.MonthOverview", ownerID)
	defer cancel()

	if month < 1 || month > 12 {
		return core.MonthOverview{}, finish(ctx, span, core.NewValidationError("month", "must be between 1 and 12"))
	}

	from := core.NewDate(year, month, 1)
	to := core.NewDate(year, month, core.DaysIn(year, from.Time.Month()))
	totals, err := s.ledger.CategoryTotals(ctx, ownerID, from, to)
	if err := finish(ctx, span, err); err != nil {
		return core.MonthOverview{}, fmt.Errorf("month overview: %w", err)
	}

	overview := core.MonthOverview{
		OwnerID:    ownerID,
		Year:       year,
		Month:      month,
		ByCategory: totals,
	}
	for _, ct := range totals {
		switch ct.Type {
		case core.Income:
			overview.Income = overview.Income.Add(ct.Amount)
		case core.Expense:
			overview.Expense = overview.Expense.Add(ct.Amount)
		}
	}
	return overview, nil
}

// notify publishes outside the operation deadline; a failure never undoes
// the committed mutation.
func (s *TransactionService) notify(ctx context.Context, event amqp.EventType, t core.Transaction) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Event publisher not available, skipping transaction event",
			"event", event,
			"transaction_id", t.ID)
		return
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.publisher.PublishTransactionEvent(ctx, amqp.NewTransactionEvent(event, t)); err != nil {
		s.opts.metrics.IncrPublishFailure(string(event))
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"event", event,
			"transaction_id", t.ID,
			"error", err)
	}
}
