package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fintrack/internal/core"
)

const budgetColumns = `id, owner_id, name, category_id, amount_limit, period, start_date, end_date,
	alert_threshold, alerted_window_start, created_at, updated_at`

func scanBudget(row scanner) (core.Budget, error) {
	var (
		b                    core.Budget
		category             sql.NullString
		period, startDate    string
		endDate, alerted     sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &category, &b.Limit.Minor, &period, &startDate, &endDate,
		&b.AlertThreshold, &alerted, &createdAt, &updatedAt)
	if err != nil {
		return core.Budget{}, err
	}

	b.CategoryID = category.String
	b.Period = core.Frequency(period)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)

	if b.StartDate, err = core.ParseDate(startDate); err != nil {
		return core.Budget{}, fmt.Errorf("parse start date: %w", err)
	}
	if b.EndDate, err = parseNullDate(endDate); err != nil {
		return core.Budget{}, fmt.Errorf("parse end date: %w", err)
	}
	if b.AlertedWindowStart, err = parseNullDate(alerted); err != nil {
		return core.Budget{}, fmt.Errorf("parse alerted window: %w", err)
	}
	return b, nil
}

func (s store) InsertBudget(ctx context.Context, b core.Budget) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.Name, nullString(b.CategoryID), b.Limit.Minor, string(b.Period),
		b.StartDate.String(), dateValue(b.EndDate), b.AlertThreshold, dateValue(b.AlertedWindowStart),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return classifyError(ctx, "insert budget", err)
}

func (s store) GetBudget(ctx context.Context, ownerID, id string) (core.Budget, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ? AND owner_id = ?`, id, ownerID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, &core.NotFoundError{Resource: core.ResourceBudget, ID: id}
	}
	if err != nil {
		return core.Budget{}, classifyError(ctx, "get budget", err)
	}
	return b, nil
}

func (s store) ListBudgets(ctx context.Context, ownerID string) ([]core.Budget, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE owner_id = ? ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, classifyError(ctx, "list budgets", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate budgets", err)
	}
	return budgets, nil
}

// ListBudgetOwners returns every owner with at least one budget.
func (s store) ListBudgetOwners(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT owner_id FROM budgets ORDER BY owner_id`)
	if err != nil {
		return nil, classifyError(ctx, "list budget owners", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan budget owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate budget owners", err)
	}
	return owners, nil
}

func (s store) UpdateBudget(ctx context.Context, b core.Budget) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE budgets SET name = ?, category_id = ?, amount_limit = ?, period = ?, start_date = ?,
		 end_date = ?, alert_threshold = ?, alerted_window_start = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		b.Name, nullString(b.CategoryID), b.Limit.Minor, string(b.Period), b.StartDate.String(),
		dateValue(b.EndDate), b.AlertThreshold, dateValue(b.AlertedWindowStart), formatTime(b.UpdatedAt),
		b.ID, b.OwnerID)
	if err != nil {
		return classifyError(ctx, "update budget", err)
	}
	return rowsAffected(res, core.ResourceBudget, b.ID)
}

// MarkBudgetAlerted records the window an alert was raised for. It reports
// false when that window was already marked, so one alert fires per window
// even with several workers.
func (s store) MarkBudgetAlerted(ctx context.Context, ownerID, id string, window core.Date) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE budgets SET alerted_window_start = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ? AND (alerted_window_start IS NULL OR alerted_window_start <> ?)`,
		window.String(), s.timestamp(), id, ownerID, window.String())
	if err != nil {
		return false, classifyError(ctx, "mark budget alerted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark budget alerted: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s store) DeleteBudget(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM budgets WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return classifyError(ctx, "delete budget", err)
	}
	return rowsAffected(res, core.ResourceBudget, id)
}
