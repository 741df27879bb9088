package services

import (
	"context"
	"fmt"

	"fintrack/internal/core"
)

// BalanceWriter is the part of a storage transaction the engine mutates.
type BalanceWriter interface {
	AdjustBalance(ctx context.Context, ownerID, accountID string, delta int64, requireActive bool) error
}

// Delta is a signed balance change on one account, in minor units.
type Delta struct {
	AccountID string
	Amount    int64
}

// BalanceEngine turns transactions into account balance deltas. It keeps no
// state; every mutation goes through the caller's storage transaction.
type BalanceEngine struct{}

// Deltas returns the balance effect of t. Unknown types are rejected so a
// new transaction type cannot silently skip the ledger.
func (BalanceEngine) Deltas(t core.Transaction) ([]Delta, error) {
	switch t.Type {
	case core.Expense:
		return []Delta{{AccountID: t.SourceAccountID, Amount: -t.Amount.Minor}}, nil
	case core.Income:
		return []Delta{{AccountID: t.SourceAccountID, Amount: t.Amount.Minor}}, nil
	case core.Transfer:
		return []Delta{
			{AccountID: t.SourceAccountID, Amount: -t.Amount.Minor},
			{AccountID: t.DestinationAccountID, Amount: t.Amount.Minor},
		}, nil
	default:
		return nil, core.NewValidationError("type", fmt.Sprintf("unknown transaction type %q", t.Type))
	}
}

// ApplyEffect applies t to its accounts. Every account must exist, belong to
// the owner and be active.
func (e BalanceEngine) ApplyEffect(ctx context.Context, w BalanceWriter, t core.Transaction) error {
	deltas, err := e.Deltas(t)
	if err != nil {
		return err
	}
	for _, d := range deltas {
		if err := w.AdjustBalance(ctx, t.OwnerID, d.AccountID, d.Amount, true); err != nil {
			return fmt.Errorf("apply %s to account %s: %w", t.Type, d.AccountID, err)
		}
	}
	return nil
}

// ReverseEffect undoes t using its stored values. Inactive accounts are
// still adjusted so their balance keeps matching their transactions.
func (e BalanceEngine) ReverseEffect(ctx context.Context, w BalanceWriter, t core.Transaction) error {
	deltas, err := e.Deltas(t)
	if err != nil {
		return err
	}
	for _, d := range deltas {
		if err := w.AdjustBalance(ctx, t.OwnerID, d.AccountID, -d.Amount, false); err != nil {
			return fmt.Errorf("reverse %s on account %s: %w", t.Type, d.AccountID, err)
		}
	}
	return nil
}

// SumBalances folds transactions into per-account balances.
func (e BalanceEngine) SumBalances(txs []core.Transaction) (map[string]int64, error) {
	balances := make(map[string]int64)
	for _, t := range txs {
		deltas, err := e.Deltas(t)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		for _, d := range deltas {
			balances[d.AccountID] += d.Amount
		}
	}
	return balances, nil
}
