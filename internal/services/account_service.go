package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// AccountService manages accounts. Balances are never written here except
// through the opening transaction; every later change comes from
// TransactionService.
type AccountService struct {
	ledger       Ledger
	transactions *TransactionService
	engine       BalanceEngine
	opts         options
}

func NewAccountService(ledger Ledger, transactions *TransactionService, opts ...Option) *AccountService {
	return &AccountService{
		ledger:       ledger,
		transactions: transactions,
		opts:         newOptions(opts),
	}
}

// Create opens an account. The opening balance is booked as an income (or,
// when negative, an expense) dated OpenedOn, defaulting to today.
func (s *AccountService) Create(ctx context.Context, ownerID string, in core.AccountInput) (core.Account, error) {
	ctx, span, cancel := s.opts.begin(ctx, "AccountService.Create", ownerID)
	defer cancel()

	now := s.opts.now()
	a := core.Account{
		ID:        s.opts.newID(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Currency:  strings.ToUpper(strings.TrimSpace(in.Currency)),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var opening *core.Transaction
	err := requireOwner(ownerID)
	if err == nil {
		err = a.Validate()
	}
	if err == nil {
		err = s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
			if in.OpeningBalance.Minor == 0 {
				return nil
			}
			t, err := s.transactions.create(ctx, tx, ownerID, openingInput(a.ID, in, now), recurringRef{})
			if err != nil {
				return err
			}
			opening = &t
			a.Balance = in.OpeningBalance
			return nil
		})
	}
	if err := finish(ctx, span, err); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		"owner_id", ownerID,
		"account_id", a.ID,
		"type", a.Type,
		"opening_minor", in.OpeningBalance.Minor)

	if opening != nil {
		s.transactions.notify(ctx, amqp.EventTransactionCreated, *opening)
	}
	return a, nil
}

func openingInput(accountID string, in core.AccountInput, now time.Time) core.TransactionInput {
	date := in.OpenedOn
	if date.IsZero() {
		date = core.DateOf(now)
	}
	t := core.TransactionInput{
		Type:            core.Income,
		Amount:          in.OpeningBalance,
		Date:            date,
		Description:     "Opening balance",
		SourceAccountID: accountID,
		CategoryID:      core.OpeningBalanceCategoryID,
	}
	if in.OpeningBalance.Minor < 0 {
		t.Type = core.Expense
		t.Amount = in.OpeningBalance.Neg()
		t.CategoryID = core.OtherExpenseCategoryID
	}
	return t
}

func (s *AccountService) Get(ctx context.Context, ownerID, id string) (core.Account, error) {
	ctx, span, cancel := s.opts.begin(ctx, "AccountService.Get", ownerID)
	defer cancel()

	a, err := s.ledger.GetAccount(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *AccountService) List(ctx context.Context, ownerID string) ([]core.Account, error) {
	ctx, span, cancel := s.opts.begin(ctx, "AccountService.List", ownerID)
	defer cancel()

	accounts, err := s.ledger.ListAccounts(ctx, ownerID)
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (s *AccountService) Rename(ctx context.Context, ownerID, id, name string) error {
	ctx, span, cancel := s.opts.begin(ctx, "AccountService.Rename", ownerID)
	defer cancel()

	name = strings.TrimSpace(name)
	var err error
	if name == "" {
		err = core.ErrEmptyName
	} else {
		err = s.ledger.RenameAccount(ctx, ownerID, id, name)
	}
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("rename account %s: %w", id, err)
	}
	return nil
}

// Deactivate rejects new postings on the account. Existing transactions can
// still be edited away from it or deleted.
func (s *AccountService) Deactivate(ctx context.Context, ownerID, id string) error {
	return s.setActive(ctx, "AccountService.Deactivate", ownerID, id, false)
}

func (s *AccountService) Reactivate(ctx context.Context, ownerID, id string) error {
	return s.setActive(ctx, "AccountService.Reactivate", ownerID, id, true)
}

func (s *AccountService) setActive(ctx context.Context, op, ownerID, id string, active bool) error {
	ctx, span, cancel := s.opts.begin(ctx, op, ownerID)
	defer cancel()

	err := s.ledger.SetAccountActive(ctx, ownerID, id, active)
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("set account %s active=%t: %w", id, active, err)
	}

	slog.InfoContext(ctx, "Account status changed",
		"owner_id", ownerID,
		"account_id", id,
		"active", active)
	return nil
}

// Delete removes an account that has no transactions. Accounts with history
// can only be deactivated.
func (s *AccountService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span, cancel := s.opts.begin(ctx, "AccountService.Delete", ownerID)
	defer cancel()

	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		if _, err := tx.GetAccount(ctx, ownerID, id); err != nil {
			return err
		}
		n, err := tx.CountAccountTransactions(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: account has %d transactions, deactivate it instead", core.ErrConflict, n)
		}
		return tx.DeleteAccount(ctx, ownerID, id)
	})
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Account deleted",
		"owner_id", ownerID,
		"account_id", id)
	return nil
}

// Reconcile recomputes every balance of the owner from the transactions and
// compares it with the stored one. It reads a consistent snapshot and
// changes nothing.
func (s *AccountService) Reconcile(ctx context.Context, ownerID string) ([]core.BalanceDrift, error) {
	ctx, span, cancel := s.opts.begin(ctx, "AccountService.Reconcile", ownerID)
	defer cancel()

	var report []core.BalanceDrift
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		accounts, err := tx.ListAccounts(ctx, ownerID)
		if err != nil {
			return err
		}
		txs, err := tx.ListTransactions(ctx, ownerID, core.TransactionFilter{})
		if err != nil {
			return err
		}
		computed, err := s.engine.SumBalances(txs)
		if err != nil {
			return err
		}

		report = make([]core.BalanceDrift, 0, len(accounts))
		for _, a := range accounts {
			report = append(report, core.BalanceDrift{
				AccountID: a.ID,
				Name:      a.Name,
				Stored:    a.Balance,
				Computed:  core.NewMoney(computed[a.ID]),
			})
		}
		return nil
	})
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("reconcile accounts: %w", err)
	}

	for _, d := range report {
		if !d.Consistent() {
			slog.WarnContext(ctx, "Account balance drift detected",
				"owner_id", ownerID,
				"account_id", d.AccountID,
				"stored_minor", d.Stored.Minor,
				"computed_minor", d.Computed.Minor)
		}
	}
	return report, nil
}
