package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const owner = "user-1"

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.TransactionEvent
	err    error
}

func (p *recordingPublisher) PublishTransactionEvent(_ context.Context, e *amqp.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(event amqp.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(d core.Date) *clock {
	return &clock{now: d.Time.Add(9 * time.Hour)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(d core.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d.Time.Add(9 * time.Hour)
}

type testEnv struct {
	repo         *storage.SQLiteRepository
	publisher    *recordingPublisher
	clock        *clock
	transactions *TransactionService
	accounts     *AccountService
	categories   *CategoryService
	recurring    *RecurringService
	scheduler    *RecurringScheduler
	budgets      *BudgetService
	goals        *GoalService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	var seq atomic.Int64
	c := newClock(d(2024, 1, 1))
	opts := []Option{
		WithClock(c.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }),
	}

	pub := &recordingPublisher{}
	txs := NewTransactionService(repo, pub, opts...)
	return &testEnv{
		repo:         repo,
		publisher:    pub,
		clock:        c,
		transactions: txs,
		accounts:     NewAccountService(repo, txs, opts...),
		categories:   NewCategoryService(repo, nil, opts...),
		recurring:    NewRecurringService(repo, opts...),
		scheduler:    NewRecurringScheduler(repo, txs, DefaultSchedulerConfig(), opts...),
		budgets:      NewBudgetService(repo, opts...),
		goals:        NewGoalService(repo, opts...),
	}
}

func (e *testEnv) account(t *testing.T, name string, opening int64) core.Account {
	t.Helper()
	a, err := e.accounts.Create(context.Background(), owner, core.AccountInput{
		Name:           name,
		Type:           core.AccountBank,
		Currency:       "EUR",
		OpeningBalance: core.NewMoney(opening),
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	a, err := e.repo.GetAccount(context.Background(), owner, accountID)
	if err != nil {
		t.Fatalf("GetAccount(%s) error = %v", accountID, err)
	}
	return a.Balance.Minor
}

func (e *testEnv) expense(t *testing.T, accountID string, amount int64, day core.Date) core.Transaction {
	t.Helper()
	tx, err := e.transactions.Create(context.Background(), owner, core.TransactionInput{
		Type:            core.Expense,
		Amount:          core.NewMoney(amount),
		Date:            day,
		Description:     "expense",
		SourceAccountID: accountID,
		CategoryID:      "sys-exp-groceries",
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return tx
}

// requireConsistent fails when any stored balance differs from the sum of
// the account's transactions.
func (e *testEnv) requireConsistent(t *testing.T) {
	t.Helper()
	report, err := e.accounts.Reconcile(context.Background(), owner)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	for _, r := range report {
		if !r.Consistent() {
			t.Errorf("account %s: stored %d, computed %d", r.AccountID, r.Stored.Minor, r.Computed.Minor)
		}
	}
}

// failingLedger wraps a Ledger and fails UpdateTransaction inside storage
// transactions once armed.
type failingLedger struct {
	Ledger
	failUpdate atomic.Bool
}

var errInjected = errors.New("injected failure")

func (f *failingLedger) WithinTx(ctx context.Context, fn func(storage.LedgerTx) error) error {
	return f.Ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		return fn(&failingTx{LedgerTx: tx, parent: f})
	})
}

type failingTx struct {
	storage.LedgerTx
	parent *failingLedger
}

func (f *failingTx) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if f.parent.failUpdate.Load() {
		return errInjected
	}
	return f.LedgerTx.UpdateTransaction(ctx, t)
}

func ptr[T any](v T) *T {
	return &v
}
