package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fintrack/internal/core"
)

const goalColumns = `id, owner_id, name, type, target_amount, current_amount, deadline, linked_account_id,
	linked_category_id, priority, status, created_at, updated_at`

func scanGoal(row scanner) (core.Goal, error) {
	var (
		g                       core.Goal
		goalType, status        string
		deadline                sql.NullString
		linkedAcct, linkedCateg sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &goalType, &g.Target.Minor, &g.Current.Minor, &deadline,
		&linkedAcct, &linkedCateg, &g.Priority, &status, &createdAt, &updatedAt)
	if err != nil {
		return core.Goal{}, err
	}

	g.Type = core.GoalType(goalType)
	g.Status = core.GoalStatus(status)
	g.LinkedAccountID = linkedAcct.String
	g.LinkedCategoryID = linkedCateg.String
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	if g.Deadline, err = parseNullDate(deadline); err != nil {
		return core.Goal{}, fmt.Errorf("parse deadline: %w", err)
	}
	return g, nil
}

func (s store) InsertGoal(ctx context.Context, g core.Goal) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.OwnerID, g.Name, string(g.Type), g.Target.Minor, g.Current.Minor, dateValue(g.Deadline),
		nullString(g.LinkedAccountID), nullString(g.LinkedCategoryID), g.Priority, string(g.Status),
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	return classifyError(ctx, "insert goal", err)
}

func (s store) GetGoal(ctx context.Context, ownerID, id string) (core.Goal, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE id = ? AND owner_id = ?`, id, ownerID)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, &core.NotFoundError{Resource: core.ResourceGoal, ID: id}
	}
	if err != nil {
		return core.Goal{}, classifyError(ctx, "get goal", err)
	}
	return g, nil
}

// ListGoals orders by priority, highest first.
func (s store) ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = ? ORDER BY priority DESC, created_at, id`, ownerID)
	if err != nil {
		return nil, classifyError(ctx, "list goals", err)
	}
	defer rows.Close()

	var goals []core.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate goals", err)
	}
	return goals, nil
}

func (s store) SetGoalStatus(ctx context.Context, ownerID, id string, status core.GoalStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE goals SET status = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		string(status), s.timestamp(), id, ownerID)
	if err != nil {
		return classifyError(ctx, "set goal status", err)
	}
	return rowsAffected(res, core.ResourceGoal, id)
}

// AddGoalContribution appends to the contribution ledger and bumps the
// goal's current amount with an atomic increment.
func (s store) AddGoalContribution(ctx context.Context, ownerID string, c core.GoalContribution) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE goals SET current_amount = current_amount + ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		c.Amount.Minor, s.timestamp(), c.GoalID, ownerID)
	if err != nil {
		return classifyError(ctx, "increment goal", err)
	}
	if err := rowsAffected(res, core.ResourceGoal, c.GoalID); err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO goal_contributions (id, goal_id, amount, note, contributed_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.GoalID, c.Amount.Minor, c.Note, formatTime(c.ContributedAt))
	return classifyError(ctx, "insert goal contribution", err)
}

func (s store) ListGoalContributions(ctx context.Context, ownerID, goalID string) ([]core.GoalContribution, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT gc.id, gc.goal_id, gc.amount, gc.note, gc.contributed_at
		 FROM goal_contributions gc
		 JOIN goals g ON g.id = gc.goal_id
		 WHERE gc.goal_id = ? AND g.owner_id = ?
		 ORDER BY gc.contributed_at, gc.id`, goalID, ownerID)
	if err != nil {
		return nil, classifyError(ctx, "list goal contributions", err)
	}
	defer rows.Close()

	var out []core.GoalContribution
	for rows.Next() {
		var (
			c  core.GoalContribution
			at string
		)
		if err := rows.Scan(&c.ID, &c.GoalID, &c.Amount.Minor, &c.Note, &at); err != nil {
			return nil, fmt.Errorf("scan goal contribution: %w", err)
		}
		c.ContributedAt = parseTime(at)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate goal contributions", err)
	}
	return out, nil
}

// DeleteGoal removes the goal; contributions cascade.
func (s store) DeleteGoal(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM goals WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return classifyError(ctx, "delete goal", err)
	}
	return rowsAffected(res, core.ResourceGoal, id)
}
