package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fintrack/internal/core"
)

const categoryColumns = `id, owner_id, name, type, is_system`

func scanCategory(row scanner) (core.Category, error) {
	var (
		c       core.Category
		catType string
		system  int
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &catType, &system); err != nil {
		return core.Category{}, err
	}
	c.Type = core.CategoryType(catType)
	c.System = system == 1
	return c, nil
}

func (s store) CreateCategory(ctx context.Context, c core.Category) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO categories (id, owner_id, name, type, is_system, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		c.ID, c.OwnerID, c.Name, string(c.Type), s.timestamp())
	return classifyError(ctx, "create category", err)
}

// GetCategory returns an owner category or a system category.
func (s store) GetCategory(ctx context.Context, ownerID, id string) (core.Category, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND (owner_id = ? OR is_system = 1)`,
		id, ownerID)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, &core.NotFoundError{Resource: core.ResourceCategory, ID: id}
	}
	if err != nil {
		return core.Category{}, classifyError(ctx, "get category", err)
	}
	return c, nil
}

// FindCategoryByName looks for a visible category with the same type and
// name, ignoring case.
func (s store) FindCategoryByName(ctx context.Context, ownerID string, catType core.CategoryType, name string) (core.Category, bool, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories
		 WHERE (owner_id = ? OR is_system = 1) AND type = ? AND name = ? COLLATE NOCASE
		 ORDER BY is_system DESC LIMIT 1`,
		ownerID, string(catType), name)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, false, nil
	}
	if err != nil {
		return core.Category{}, false, classifyError(ctx, "find category", err)
	}
	return c, true, nil
}

// ListCategories returns the system categories followed by the owner's own.
func (s store) ListCategories(ctx context.Context, ownerID string) ([]core.Category, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories
		 WHERE owner_id = ? OR is_system = 1
		 ORDER BY is_system DESC, type, name COLLATE NOCASE`, ownerID)
	if err != nil {
		return nil, classifyError(ctx, "list categories", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, "iterate categories", err)
	}
	return categories, nil
}

// RenameCategory renames an owner category. System rows never match.
func (s store) RenameCategory(ctx context.Context, ownerID, id, name string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE categories SET name = ? WHERE id = ? AND owner_id = ? AND is_system = 0`,
		name, id, ownerID)
	if err != nil {
		return classifyError(ctx, "rename category", err)
	}
	return rowsAffected(res, core.ResourceCategory, id)
}

// DeleteCategory removes an owner category. Transactions and budgets lose
// the reference through ON DELETE SET NULL; recurring templates are cleared here.
func (s store) DeleteCategory(ctx context.Context, ownerID, id string) error {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE recurring_transactions SET category_id = NULL, updated_at = ? WHERE owner_id = ? AND category_id = ?`,
		s.timestamp(), ownerID, id); err != nil {
		return classifyError(ctx, "clear recurring category", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`UPDATE goals SET linked_category_id = NULL, updated_at = ? WHERE owner_id = ? AND linked_category_id = ?`,
		s.timestamp(), ownerID, id); err != nil {
		return classifyError(ctx, "clear goal category", err)
	}

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ? AND owner_id = ? AND is_system = 0`, id, ownerID)
	if err != nil {
		return classifyError(ctx, "delete category", err)
	}
	return rowsAffected(res, core.ResourceCategory, id)
}
