package services

import (
	"context"
	"errors"
	"testing"

	"fintrack/internal/core"
)

// memoryBalances is an in-memory BalanceWriter.
type memoryBalances struct {
	balances map[string]int64
	inactive map[string]bool
}

func newMemoryBalances(ids ...string) *memoryBalances {
	m := &memoryBalances{balances: map[string]int64{}, inactive: map[string]bool{}}
	for _, id := range ids {
		m.balances[id] = 0
	}
	return m
}

func (m *memoryBalances) AdjustBalance(_ context.Context, _ string, accountID string, delta int64, requireActive bool) error {
	if _, ok := m.balances[accountID]; !ok {
		return &core.NotFoundError{Resource: core.ResourceAccount, ID: accountID}
	}
	if requireActive && m.inactive[accountID] {
		return core.ErrInactiveAccount
	}
	m.balances[accountID] += delta
	return nil
}

func TestBalanceEngine_Deltas(t *testing.T) {
	tests := []struct {
		name string
		tx   core.Transaction
		want []Delta
	}{
		{
			name: "expense debits source",
			tx:   core.Transaction{Type: core.Expense, Amount: core.NewMoney(1250), SourceAccountID: "a"},
			want: []Delta{{AccountID: "a", Amount: -1250}},
		},
		{
			name: "income credits source",
			tx:   core.Transaction{Type: core.Income, Amount: core.NewMoney(300000), SourceAccountID: "a"},
			want: []Delta{{AccountID: "a", Amount: 300000}},
		},
		{
			name: "transfer moves between accounts",
			tx:   core.Transaction{Type: core.Transfer, Amount: core.NewMoney(5000), SourceAccountID: "a", DestinationAccountID: "b"},
			want: []Delta{{AccountID: "a", Amount: -5000}, {AccountID: "b", Amount: 5000}},
		},
	}

	var engine BalanceEngine
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Deltas(tt.tx)
			if err != nil {
				t.Fatalf("Deltas() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Deltas() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("delta %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBalanceEngine_UnknownTypeRejected(t *testing.T) {
	var engine BalanceEngine
	_, err := engine.Deltas(core.Transaction{Type: "refund", Amount: core.NewMoney(1), SourceAccountID: "a"})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("Deltas() error = %v, want validation error", err)
	}
}

func TestBalanceEngine_ReverseUndoesApply(t *testing.T) {
	txs := []core.Transaction{
		{Type: core.Expense, Amount: core.NewMoney(999), SourceAccountID: "a"},
		{Type: core.Income, Amount: core.NewMoney(12345), SourceAccountID: "b"},
		{Type: core.Transfer, Amount: core.NewMoney(5000), SourceAccountID: "a", DestinationAccountID: "b"},
	}

	var engine BalanceEngine
	ctx := context.Background()
	for _, tx := range txs {
		t.Run(string(tx.Type), func(t *testing.T) {
			w := newMemoryBalances("a", "b")
			w.balances["a"], w.balances["b"] = 700, -20

			if err := engine.ApplyEffect(ctx, w, tx); err != nil {
				t.Fatalf("ApplyEffect() error = %v", err)
			}
			if err := engine.ReverseEffect(ctx, w, tx); err != nil {
				t.Fatalf("ReverseEffect() error = %v", err)
			}
			if w.balances["a"] != 700 || w.balances["b"] != -20 {
				t.Errorf("balances after apply+reverse = %v, want a=700 b=-20", w.balances)
			}
		})
	}
}

func TestBalanceEngine_InactiveAccount(t *testing.T) {
	var engine BalanceEngine
	ctx := context.Background()
	w := newMemoryBalances("a")
	tx := core.Transaction{Type: core.Expense, Amount: core.NewMoney(100), SourceAccountID: "a"}

	if err := engine.ApplyEffect(ctx, w, tx); err != nil {
		t.Fatalf("ApplyEffect() error = %v", err)
	}
	w.inactive["a"] = true

	if err := engine.ApplyEffect(ctx, w, tx); !errors.Is(err, core.ErrInactiveAccount) {
		t.Errorf("ApplyEffect() on inactive account error = %v, want ErrInactiveAccount", err)
	}
	if err := engine.ReverseEffect(ctx, w, tx); err != nil {
		t.Errorf("ReverseEffect() on inactive account error = %v, want nil", err)
	}
	if w.balances["a"] != 0 {
		t.Errorf("balance = %d, want 0", w.balances["a"])
	}
}

func TestBalanceEngine_MissingAccount(t *testing.T) {
	var engine BalanceEngine
	w := newMemoryBalances("a")
	tx := core.Transaction{Type: core.Transfer, Amount: core.NewMoney(100), SourceAccountID: "a", DestinationAccountID: "ghost"}

	err := engine.ApplyEffect(context.Background(), w, tx)
	if !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("ApplyEffect() error = %v, want ErrAccountNotFound", err)
	}
}

func TestBalanceEngine_SumBalances(t *testing.T) {
	var engine BalanceEngine
	got, err := engine.SumBalances([]core.Transaction{
		{Type: core.Income, Amount: core.NewMoney(10000), SourceAccountID: "a"},
		{Type: core.Expense, Amount: core.NewMoney(2500), SourceAccountID: "a"},
		{Type: core.Transfer, Amount: core.NewMoney(5000), SourceAccountID: "a", DestinationAccountID: "b"},
	})
	if err != nil {
		t.Fatalf("SumBalances() error = %v", err)
	}
	if got["a"] != 2500 || got["b"] != 5000 {
		t.Errorf("SumBalances() = %v, want a=2500 b=5000", got)
	}
}
