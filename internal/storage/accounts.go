package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fintrack/internal/core"
)

const accountColumns = `id, owner_id, name, type, balance, currency, active, created_at, updated_at`

func scanAccount(row scanner) (core.Account, error) {
	var (
		a                    core.Account
		accType              string
		active               int
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &accType, &a.Balance.Minor, &a.Currency, &active, &createdAt, &updatedAt); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(accType)
	a.Active = active == 1
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func (s store) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, string(a.Type), a.Balance.Minor, a.Currency, boolInt(a.Active),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return classifyError(ctx, "create account", err)
}

func (s store) GetAccount(ctx context.Context, ownerID, id string) (core.Account, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, &core.NotFoundError{Resource: core.ResourceAccount, ID: id}
	}
	if err != nil {
		return core.Account{}, classifyError(ctx, "get account", err)
	}
	return a, nil
}

func (s store) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, classifyError(ctx, "list accounts", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate accounts", err)
	}
	return accounts, nil
}

func (s store) RenameAccount(ctx context.Context, ownerID, id, name string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET name = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		name, s.timestamp(), id, ownerID)
	if err != nil {
		return classifyError(ctx, "rename account", err)
	}
	return rowsAffected(res, core.ResourceAccount, id)
}

func (s store) SetAccountActive(ctx context.Context, ownerID, id string, active bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET active = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		boolInt(active), s.timestamp(), id, ownerID)
	if err != nil {
		return classifyError(ctx, "set account active", err)
	}
	return rowsAffected(res, core.ResourceAccount, id)
}

func (s store) DeleteAccount(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return classifyError(ctx, "delete account", err)
	}
	return rowsAffected(res, core.ResourceAccount, id)
}

// CountAccountTransactions counts transactions touching the account on either side.
func (s store) CountAccountTransactions(ctx context.Context, ownerID, id string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE owner_id = ? AND (source_account_id = ? OR destination_account_id = ?)`,
		ownerID, id, id).Scan(&n)
	if err != nil {
		return 0, classifyError(ctx, "count account transactions", err)
	}
	return n, nil
}

// AdjustBalance adds delta to the stored balance with a single atomic
// increment. With requireActive an inactive account is rejected.
func (s store) AdjustBalance(ctx context.Context, ownerID, accountID string, delta int64, requireActive bool) error {
	query := `UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ? AND owner_id = ?`
	if requireActive {
		query += ` AND active = 1`
	}

	res, err := s.q.ExecContext(ctx, query, delta, s.timestamp(), accountID, ownerID)
	if err != nil {
		return classifyError(ctx, "adjust balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust balance: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	a, err := s.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return err
	}
	if !a.Active {
		return fmt.Errorf("account %s: %w", accountID, core.ErrInactiveAccount)
	}
	return fmt.Errorf("adjust balance of account %s: no row updated", accountID)
}
