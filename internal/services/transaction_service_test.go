package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

func TestTransactionService_CreateAppliesBalance(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "Checking", 10000)

	tx := env.expense(t, a.ID, 2599, d(2024, 1, 5))

	if got := env.balance(t, a.ID); got != 10000-2599 {
		t.Errorf("balance = %d, want %d", got, 10000-2599)
	}
	if tx.Origin != core.OriginUser {
		t.Errorf("Origin = %s, want user", tx.Origin)
	}
	// opening balance + expense
	if n := env.publisher.count(amqp.EventTransactionCreated); n != 2 {
		t.Errorf("created events = %d, want 2", n)
	}
	env.requireConsistent(t)
}

func TestTransactionService_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "Checking", 0)
	b := env.account(t, "Savings", 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      core.TransactionInput
		wantErr error
	}{
		{
			name:    "zero amount",
			in:      core.TransactionInput{Type: core.Expense, Amount: core.NewMoney(0), Date: d(2024, 1, 1), SourceAccountID: a.ID},
			wantErr: core.ErrValidation,
		},
		{
			name:    "transfer to same account",
			in:      core.TransactionInput{Type: core.Transfer, Amount: core.NewMoney(100), Date: d(2024, 1, 1), SourceAccountID: a.ID, DestinationAccountID: a.ID},
			wantErr: core.ErrValidation,
		},
		{
			name:    "transfer with category",
			in:      core.TransactionInput{Type: core.Transfer, Amount: core.NewMoney(100), Date: d(2024, 1, 1), SourceAccountID: a.ID, DestinationAccountID: b.ID, CategoryID: "sys-exp-other"},
			wantErr: core.ErrValidation,
		},
		{
			name:    "income with expense category",
			in:      core.TransactionInput{Type: core.Income, Amount: core.NewMoney(100), Date: d(2024, 1, 1), SourceAccountID: a.ID, CategoryID: "sys-exp-groceries"},
			wantErr: core.ErrValidation,
		},
		{
			name:    "unknown category",
			in:      core.TransactionInput{Type: core.Expense, Amount: core.NewMoney(100), Date: d(2024, 1, 1), SourceAccountID: a.ID, CategoryID: "nope"},
			wantErr: core.ErrValidation,
		},
		{
			name:    "unknown account",
			in:      core.TransactionInput{Type: core.Expense, Amount: core.NewMoney(100), Date: d(2024, 1, 1), SourceAccountID: "ghost"},
			wantErr: core.ErrAccountNotFound,
		},
		{
			name:    "missing date",
			in:      core.TransactionInput{Type: core.Expense, Amount: core.NewMoney(100), SourceAccountID: a.ID},
			wantErr: core.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.transactions.Create(ctx, owner, tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if env.balance(t, a.ID) != 0 || env.balance(t, b.ID) != 0 {
		t.Error("rejected transactions must not touch balances")
	}
}

func TestTransactionService_CreateOnInactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "Old card", 0)
	ctx := context.Background()

	if err := env.accounts.Deactivate(ctx, owner, a.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	_, err := env.transactions.Create(ctx, owner, core.TransactionInput{
		Type: core.Expense, Amount: core.NewMoney(100), Date: d(2024, 1, 2), SourceAccountID: a.ID,
	})
	if !errors.Is(err, core.ErrInactiveAccount) {
		t.Fatalf("Create() error = %v, want ErrInactiveAccount", err)
	}

	list, err := env.transactions.List(ctx, owner, core.TransactionFilter{AccountID: a.ID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() = %d transactions, want 0 after rollback", len(list))
	}
}

func TestTransactionService_TransferAndDelete(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 10000)
	b := env.account(t, "B", 0)
	ctx := context.Background()

	tx, err := env.transactions.Create(ctx, owner, core.TransactionInput{
		Type:                 core.Transfer,
		Amount:               core.NewMoney(5000),
		Date:                 d(2024, 1, 3),
		SourceAccountID:      a.ID,
		DestinationAccountID: b.ID,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := env.balance(t, a.ID); got != 5000 {
		t.Errorf("A balance = %d, want 5000", got)
	}
	if got := env.balance(t, b.ID); got != 5000 {
		t.Errorf("B balance = %d, want 5000", got)
	}

	if err := env.transactions.Delete(ctx, owner, tx.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := env.balance(t, a.ID); got != 10000 {
		t.Errorf("A balance after delete = %d, want 10000", got)
	}
	if got := env.balance(t, b.ID); got != 0 {
		t.Errorf("B balance after delete = %d, want 0", got)
	}
	if _, err := env.transactions.Get(ctx, owner, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if n := env.publisher.count(amqp.EventTransactionDeleted); n != 1 {
		t.Errorf("deleted events = %d, want 1", n)
	}
}

func TestTransactionService_Update(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	b := env.account(t, "B", 0)
	ctx := context.Background()
	tx := env.expense(t, a.ID, 1000, d(2024, 1, 4))

	t.Run("amount and account", func(t *testing.T) {
		updated, err := env.transactions.Update(ctx, owner, tx.ID, core.TransactionPatch{
			Amount:          ptr(core.NewMoney(1500)),
			SourceAccountID: ptr(b.ID),
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if updated.Amount.Minor != 1500 || updated.SourceAccountID != b.ID {
			t.Errorf("Update() = %+v", updated)
		}
		if env.balance(t, a.ID) != 0 || env.balance(t, b.ID) != -1500 {
			t.Errorf("balances = %d, %d; want 0, -1500", env.balance(t, a.ID), env.balance(t, b.ID))
		}
	})

	t.Run("into transfer", func(t *testing.T) {
		_, err := env.transactions.Update(ctx, owner, tx.ID, core.TransactionPatch{
			Type:                 ptr(core.Transfer),
			CategoryID:           ptr(""),
			DestinationAccountID: ptr(a.ID),
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if env.balance(t, a.ID) != 1500 || env.balance(t, b.ID) != -1500 {
			t.Errorf("balances = %d, %d; want 1500, -1500", env.balance(t, a.ID), env.balance(t, b.ID))
		}
	})

	t.Run("empty patch is a no-op", func(t *testing.T) {
		before := env.publisher.count(amqp.EventTransactionUpdated)
		if _, err := env.transactions.Update(ctx, owner, tx.ID, core.TransactionPatch{}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if env.publisher.count(amqp.EventTransactionUpdated) != before {
			t.Error("empty patch must not publish")
		}
	})

	t.Run("foreign owner", func(t *testing.T) {
		_, err := env.transactions.Update(ctx, "someone-else", tx.ID, core.TransactionPatch{Amount: ptr(core.NewMoney(1))})
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Update() error = %v, want ErrNotFound", err)
		}
	})

	env.requireConsistent(t)
}

func TestTransactionService_UpdateRollsBackReversal(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	closed := env.account(t, "Closed", 0)
	ctx := context.Background()
	tx := env.expense(t, a.ID, 1000, d(2024, 1, 4))

	if err := env.accounts.Deactivate(ctx, owner, closed.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	_, err := env.transactions.Update(ctx, owner, tx.ID, core.TransactionPatch{SourceAccountID: ptr(closed.ID)})
	if !errors.Is(err, core.ErrInactiveAccount) {
		t.Fatalf("Update() error = %v, want ErrInactiveAccount", err)
	}
	if got := env.balance(t, a.ID); got != -1000 {
		t.Errorf("A balance = %d, want -1000 (reversal rolled back)", got)
	}

	stored, err := env.transactions.Get(ctx, owner, tx.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.SourceAccountID != a.ID {
		t.Errorf("stored account = %s, want %s", stored.SourceAccountID, a.ID)
	}
}

func TestTransactionService_UpdateFailureLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	tx := env.expense(t, a.ID, 1000, d(2024, 1, 4))

	faulty := &failingLedger{Ledger: env.repo}
	faulty.failUpdate.Store(true)
	svc := NewTransactionService(faulty, nil)

	_, err := svc.Update(context.Background(), owner, tx.ID, core.TransactionPatch{Amount: ptr(core.NewMoney(9000))})
	if !errors.Is(err, errInjected) {
		t.Fatalf("Update() error = %v, want injected failure", err)
	}
	if got := env.balance(t, a.ID); got != -1000 {
		t.Errorf("balance = %d, want -1000", got)
	}
	env.requireConsistent(t)
}

func TestTransactionService_RandomSequenceKeepsBalances(t *testing.T) {
	env := newTestEnv(t)
	accounts := []core.Account{
		env.account(t, "A", 50000),
		env.account(t, "B", 0),
		env.account(t, "C", -2000),
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var live []string
	for i := 0; i < 120; i++ {
		src := accounts[rng.Intn(len(accounts))].ID
		amount := core.NewMoney(int64(rng.Intn(10000) + 1))

		switch op := rng.Intn(4); {
		case op == 0 || len(live) == 0:
			in := core.TransactionInput{Type: core.Expense, Amount: amount, Date: d(2024, 1, 1+rng.Intn(28)), SourceAccountID: src}
			if rng.Intn(3) == 0 {
				in.Type = core.Income
			}
			if rng.Intn(3) == 0 {
				in.Type = core.Transfer
				for in.DestinationAccountID == "" || in.DestinationAccountID == src {
					in.DestinationAccountID = accounts[rng.Intn(len(accounts))].ID
				}
			}
			tx, err := env.transactions.Create(ctx, owner, in)
			if err != nil {
				t.Fatalf("step %d create: %v", i, err)
			}
			live = append(live, tx.ID)
		case op == 1:
			k := rng.Intn(len(live))
			if err := env.transactions.Delete(ctx, owner, live[k]); err != nil {
				t.Fatalf("step %d delete: %v", i, err)
			}
			live = append(live[:k], live[k+1:]...)
		default:
			id := live[rng.Intn(len(live))]
			cur, err := env.transactions.Get(ctx, owner, id)
			if err != nil {
				t.Fatalf("step %d get: %v", i, err)
			}
			patch := core.TransactionPatch{Amount: ptr(amount)}
			if cur.Type != core.Transfer {
				patch.SourceAccountID = ptr(src)
			}
			if _, err := env.transactions.Update(ctx, owner, id, patch); err != nil {
				t.Fatalf("step %d update: %v", i, err)
			}
		}
	}

	env.requireConsistent(t)
}

func TestTransactionService_ConcurrentUpdatesNeverBlend(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	tx := env.expense(t, a.ID, 100, d(2024, 1, 4))
	ctx := context.Background()

	amounts := []int64{1111, 2222, 3333, 4444, 5555, 6666}
	var wg sync.WaitGroup
	errs := make(chan error, len(amounts))
	for _, amt := range amounts {
		wg.Add(1)
		go func(amt int64) {
			defer wg.Done()
			_, err := env.transactions.Update(ctx, owner, tx.ID, core.TransactionPatch{
				Amount:      ptr(core.NewMoney(amt)),
				Description: ptr("writer"),
			})
			errs <- err
		}(amt)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Update() error = %v", err)
		}
	}

	final, err := env.transactions.Get(ctx, owner, tx.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := env.balance(t, a.ID); got != -final.Amount.Minor {
		t.Errorf("balance = %d, want %d (one writer's amount)", got, -final.Amount.Minor)
	}

	found := false
	for _, amt := range amounts {
		if final.Amount.Minor == amt {
			found = true
		}
	}
	if !found {
		t.Errorf("final amount %d is not one of the written values", final.Amount.Minor)
	}
}

func TestTransactionService_PublishFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	env.publisher.err = errors.New("broker down")

	if _, err := env.transactions.Create(context.Background(), owner, core.TransactionInput{
		Type: core.Income, Amount: core.NewMoney(700), Date: d(2024, 1, 2), SourceAccountID: a.ID,
	}); err != nil {
		t.Fatalf("Create() error = %v, want nil despite publish failure", err)
	}
	if got := env.balance(t, a.ID); got != 700 {
		t.Errorf("balance = %d, want 700", got)
	}
}

func TestTransactionService_List(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	ctx := context.Background()
	env.expense(t, a.ID, 100, d(2024, 1, 2))
	env.expense(t, a.ID, 200, d(2024, 2, 2))
	env.expense(t, a.ID, 300, d(2024, 3, 2))

	got, err := env.transactions.List(ctx, owner, core.TransactionFilter{From: d(2024, 2, 1), To: d(2024, 3, 31)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].Amount.Minor != 300 {
		t.Errorf("List() = %+v, want 2 transactions newest first", got)
	}

	if _, err := env.transactions.List(ctx, owner, core.TransactionFilter{From: d(2024, 3, 1), To: d(2024, 1, 1)}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("List() inverted range error = %v, want validation error", err)
	}
}

func TestTransactionService_MonthOverview(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t, "A", 0)
	b := env.account(t, "B", 0)
	ctx := context.Background()

	env.expense(t, a.ID, 2500, d(2024, 2, 3))
	env.expense(t, a.ID, 1500, d(2024, 2, 20))
	env.expense(t, a.ID, 9999, d(2024, 3, 1))
	for _, in := range []core.TransactionInput{
		{Type: core.Income, Amount: core.NewMoney(300000), Date: d(2024, 2, 27), SourceAccountID: a.ID, CategoryID: "sys-inc-salary"},
		{Type: core.Transfer, Amount: core.NewMoney(1000), Date: d(2024, 2, 28), SourceAccountID: a.ID, DestinationAccountID: b.ID},
	} {
		if _, err := env.transactions.Create(ctx, owner, in); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := env.transactions.MonthOverview(ctx, owner, 2024, 2)
	if err != nil {
		t.Fatalf("MonthOverview() error = %v", err)
	}
	if got.Income.Minor != 300000 || got.Expense.Minor != 4000 {
		t.Errorf("MonthOverview() income=%d expense=%d, want 300000 and 4000", got.Income.Minor, got.Expense.Minor)
	}
	if got.Net().Minor != 296000 {
		t.Errorf("Net() = %d, want 296000", got.Net().Minor)
	}

	if _, err := env.transactions.MonthOverview(ctx, owner, 2024, 13); !errors.Is(err, core.ErrValidation) {
		t.Errorf("MonthOverview(month 13) error = %v, want validation error", err)
	}
}
