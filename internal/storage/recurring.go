package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fintrack/internal/core"
)

const recurringColumns = `id, owner_id, type, amount, description, account_id, destination_account_id,
	category_id, tags, frequency, interval, start_date, end_date, status, last_processed_date,
	next_due_date, last_error, created_at, updated_at`

func scanRecurring(row scanner) (core.RecurringTransaction, error) {
	var (
		rt                         core.RecurringTransaction
		txType, frequency, status  string
		destination, category      sql.NullString
		startDate, nextDue         string
		endDate, lastProcessed     sql.NullString
		tags, createdAt, updatedAt string
	)
	err := row.Scan(&rt.ID, &rt.OwnerID, &txType, &rt.Amount.Minor, &rt.Description, &rt.AccountID, &destination,
		&category, &tags, &frequency, &rt.Interval, &startDate, &endDate, &status, &lastProcessed,
		&nextDue, &rt.LastError, &createdAt, &updatedAt)
	if err != nil {
		return core.RecurringTransaction{}, err
	}

	rt.Type = core.TransactionType(txType)
	rt.Frequency = core.Frequency(frequency)
	rt.Status = core.ScheduleStatus(status)
	rt.DestinationAccountID = destination.String
	rt.CategoryID = category.String
	rt.CreatedAt = parseTime(createdAt)
	rt.UpdatedAt = parseTime(updatedAt)

	if rt.StartDate, err = core.ParseDate(startDate); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("parse start date: %w", err)
	}
	if rt.NextDueDate, err = core.ParseDate(nextDue); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("parse next due date: %w", err)
	}
	if rt.EndDate, err = parseNullDate(endDate); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("parse end date: %w", err)
	}
	if rt.LastProcessedDate, err = parseNullDate(lastProcessed); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("parse last processed date: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &rt.Tags); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("decode tags: %w", err)
	}
	return rt, nil
}

func (s store) InsertRecurring(ctx context.Context, rt core.RecurringTransaction) error {
	tags, err := encodeTags(rt.Tags)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO recurring_transactions (`+recurringColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.OwnerID, string(rt.Type), rt.Amount.Minor, rt.Description, rt.AccountID,
		nullString(rt.DestinationAccountID), nullString(rt.CategoryID), tags, string(rt.Frequency),
		rt.Interval, rt.StartDate.String(), dateValue(rt.EndDate), string(rt.Status),
		dateValue(rt.LastProcessedDate), rt.NextDueDate.String(), rt.LastError,
		formatTime(rt.CreatedAt), formatTime(rt.UpdatedAt))
	return classifyError(ctx, "insert recurring transaction", err)
}

func (s store) GetRecurring(ctx context.Context, ownerID, id string) (core.RecurringTransaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	rt, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTransaction{}, &core.NotFoundError{Resource: core.ResourceRecurring, ID: id}
	}
	if err != nil {
		return core.RecurringTransaction{}, classifyError(ctx, "get recurring transaction", err)
	}
	return rt, nil
}

func (s store) ListRecurring(ctx context.Context, ownerID string) ([]core.RecurringTransaction, error) {
	return s.queryRecurring(ctx, "list recurring transactions",
		`SELECT `+recurringColumns+` FROM recurring_transactions
		 WHERE owner_id = ? ORDER BY next_due_date, id`, ownerID)
}

// ListDueRecurring returns active schedules of every owner whose cursor is
// on or before today, oldest first. limit <= 0 means no limit.
func (s store) ListDueRecurring(ctx context.Context, today core.Date, limit int) ([]core.RecurringTransaction, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_transactions
		WHERE status = 'active' AND next_due_date <= ? ORDER BY next_due_date, id`
	args := []any{today.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecurring(ctx, "list due recurring transactions", query, args...)
}

func (s store) queryRecurring(ctx context.Context, op, query string, args ...any) ([]core.RecurringTransaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(ctx, op, err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring transaction: %w", err)
		}
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, op, err)
	}
	return out, nil
}

// UpdateRecurring rewrites the template, schedule and cursor of rt.
func (s store) UpdateRecurring(ctx context.Context, rt core.RecurringTransaction) error {
	tags, err := encodeTags(rt.Tags)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE recurring_transactions SET type = ?, amount = ?, description = ?, account_id = ?,
		 destination_account_id = ?, category_id = ?, tags = ?, frequency = ?, interval = ?,
		 start_date = ?, end_date = ?, status = ?, last_processed_date = ?, next_due_date = ?,
		 last_error = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		string(rt.Type), rt.Amount.Minor, rt.Description, rt.AccountID,
		nullString(rt.DestinationAccountID), nullString(rt.CategoryID), tags, string(rt.Frequency), rt.Interval,
		rt.StartDate.String(), dateValue(rt.EndDate), string(rt.Status), dateValue(rt.LastProcessedDate),
		rt.NextDueDate.String(), rt.LastError, formatTime(rt.UpdatedAt),
		rt.ID, rt.OwnerID)
	if err != nil {
		return classifyError(ctx, "update recurring transaction", err)
	}
	return rowsAffected(res, core.ResourceRecurring, rt.ID)
}

// DeleteRecurring removes the schedule. Materialized transactions keep
// their recurring_id as a plain reference.
func (s store) DeleteRecurring(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM recurring_transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return classifyError(ctx, "delete recurring transaction", err)
	}
	return rowsAffected(res, core.ResourceRecurring, id)
}
