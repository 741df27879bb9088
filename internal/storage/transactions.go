package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fintrack/internal/core"
)

const transactionColumns = `id, owner_id, type, amount, date, description, source_account_id,
	destination_account_id, category_id, tags, metadata, origin, recurring_id, occurrence_date,
	created_at, updated_at`

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                       core.Transaction
		txType, date, origin    string
		destination, category   sql.NullString
		recurringID, occurrence sql.NullString
		tags, metadata          string
		createdAt, updatedAt    string
	)
	err := row.Scan(&t.ID, &t.OwnerID, &txType, &t.Amount.Minor, &date, &t.Description, &t.SourceAccountID,
		&destination, &category, &tags, &metadata, &origin, &recurringID, &occurrence,
		&createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}

	t.Type = core.TransactionType(txType)
	t.Origin = core.Origin(origin)
	t.DestinationAccountID = destination.String
	t.CategoryID = category.String
	t.RecurringID = recurringID.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	if t.OccurrenceDate, err = parseNullDate(occurrence); err != nil {
		return core.Transaction{}, fmt.Errorf("parse occurrence date: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return core.Transaction{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return core.Transaction{}, fmt.Errorf("decode metadata: %w", err)
	}
	return t, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

// InsertTransaction persists t. A second row for the same recurring
// occurrence fails with core.ErrConflict.
func (s store) InsertTransaction(ctx context.Context, t core.Transaction) error {
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return err
	}
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, string(t.Type), t.Amount.Minor, t.Date.String(), t.Description, t.SourceAccountID,
		nullString(t.DestinationAccountID), nullString(t.CategoryID), tags, metadata, string(t.Origin),
		nullString(t.RecurringID), dateValue(t.OccurrenceDate),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return classifyError(ctx, "insert transaction", err)
}

func (s store) GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.NotFoundError{Resource: core.ResourceTransaction, ID: id}
	}
	if err != nil {
		return core.Transaction{}, classifyError(ctx, "get transaction", err)
	}
	return t, nil
}

// OccurrenceExists reports whether the schedule occurrence already has its
// transaction.
func (s store) OccurrenceExists(ctx context.Context, recurringID string, occurrence core.Date) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE recurring_id = ? AND occurrence_date = ?`,
		recurringID, occurrence.String()).Scan(&n)
	if err != nil {
		return false, classifyError(ctx, "check occurrence", err)
	}
	return n > 0, nil
}

// UpdateTransaction rewrites the mutable fields of t. Origin and the
// recurring occurrence never change.
func (s store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return err
	}
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET type = ?, amount = ?, date = ?, description = ?, source_account_id = ?,
		 destination_account_id = ?, category_id = ?, tags = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		string(t.Type), t.Amount.Minor, t.Date.String(), t.Description, t.SourceAccountID,
		nullString(t.DestinationAccountID), nullString(t.CategoryID), tags, metadata, formatTime(t.UpdatedAt),
		t.ID, t.OwnerID)
	if err != nil {
		return classifyError(ctx, "update transaction", err)
	}
	return rowsAffected(res, core.ResourceTransaction, t.ID)
}

func (s store) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return classifyError(ctx, "delete transaction", err)
	}
	return rowsAffected(res, core.ResourceTransaction, id)
}

// ListTransactions returns the owner's transactions newest first.
func (s store) ListTransactions(ctx context.Context, ownerID string, f core.TransactionFilter) ([]core.Transaction, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{ownerID}
	)
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.AccountID != "" {
		where = append(where, "(source_account_id = ? OR destination_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Origin != "" {
		where = append(where, "origin = ?")
		args = append(args, string(f.Origin))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY date DESC, created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(ctx, "list transactions", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate transactions", err)
	}
	return txs, nil
}

// SumExpenses totals expense transactions dated in [from, to]. An empty
// categoryID sums every category.
func (s store) SumExpenses(ctx context.Context, ownerID, categoryID string, from, to core.Date) (core.Money, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE owner_id = ? AND type = 'expense' AND date >= ? AND date <= ?`
	args := []any{ownerID, from.String(), to.String()}
	if categoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, categoryID)
	}

	var total int64
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return core.Money{}, classifyError(ctx, "sum expenses", err)
	}
	return core.NewMoney(total), nil
}

// CategoryTotals aggregates expense and income transactions dated in
// [from, to] by category. Transfers are excluded.
func (s store) CategoryTotals(ctx context.Context, ownerID string, from, to core.Date) ([]core.CategoryTotal, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT COALESCE(t.category_id, ''), COALESCE(c.name, ''), t.type, SUM(t.amount) AS total
		 FROM transactions t
		 LEFT JOIN categories c ON c.id = t.category_id
		 WHERE t.owner_id = ? AND t.type IN ('expense', 'income') AND t.date >= ? AND t.date <= ?
		 GROUP BY t.category_id, c.name, t.type
		 ORDER BY t.type, total DESC`,
		ownerID, from.String(), to.String())
	if err != nil {
		return nil, classifyError(ctx, "category totals", err)
	}
	defer rows.Close()

	var totals []core.CategoryTotal
	for rows.Next() {
		var (
			ct     core.CategoryTotal
			txType string
		)
		if err := rows.Scan(&ct.CategoryID, &ct.Name, &txType, &ct.Amount.Minor); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		ct.Type = core.TransactionType(txType)
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate category totals", err)
	}
	return totals, nil
}
