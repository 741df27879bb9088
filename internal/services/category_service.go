package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// CategoryService manages the owner's categories on top of the shared
// system set. Listings are served through an advisory per-owner cache.
type CategoryService struct {
	ledger Ledger
	cache  *cache.ReadThrough[[]core.Category]
	opts   options
}

// NewCategoryService creates the service. A nil cache disables caching.
func NewCategoryService(ledger Ledger, c *cache.ReadThrough[[]core.Category], opts ...Option) *CategoryService {
	return &CategoryService{ledger: ledger, cache: c, opts: newOptions(opts)}
}

// Create adds an owner category. Names are unique per type, ignoring case,
// and may not shadow a system category.
func (s *CategoryService) Create(ctx context.Context, ownerID, name string, catType core.CategoryType) (core.Category, error) {
	ctx, span, cancel := s.opts.begin(ctx, "CategoryService.Create", ownerID)
	defer cancel()

	c := core.Category{
		ID:      s.opts.newID(),
		OwnerID: ownerID,
		Name:    strings.TrimSpace(name),
		Type:    catType,
	}
	err := requireOwner(ownerID)
	if err == nil {
		err = c.Validate()
	}
	if err == nil {
		err = s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
			if err := ensureUniqueName(ctx, tx, ownerID, catType, c.Name, ""); err != nil {
				return err
			}
			return tx.CreateCategory(ctx, c)
		})
	}
	if err := finish(ctx, span, err); err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}

	s.cache.Invalidate(ctx, ownerID)
	slog.InfoContext(ctx, "Category created",
		"owner_id", ownerID,
		"category_id", c.ID,
		"name", c.Name,
		"type", c.Type)
	return c, nil
}

func ensureUniqueName(ctx context.Context, tx storage.CategoryStore, ownerID string, catType core.CategoryType, name, selfID string) error {
	existing, ok, err := tx.FindCategoryByName(ctx, ownerID, catType, name)
	if err != nil {
		return err
	}
	if ok && existing.ID != selfID {
		return fmt.Errorf("%w: %s category %q already exists", core.ErrConflict, catType, existing.Name)
	}
	return nil
}

// List returns the system categories followed by the owner's.
func (s *CategoryService) List(ctx context.Context, ownerID string) ([]core.Category, error) {
	ctx, span, cancel := s.opts.begin(ctx, "CategoryService.List", ownerID)
	defer cancel()

	list, err := s.cache.Get(ctx, ownerID, func(ctx context.Context) ([]core.Category, error) {
		return s.ledger.ListCategories(ctx, ownerID)
	})
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return list, nil
}

// ListByType filters List to one category type.
func (s *CategoryService) ListByType(ctx context.Context, ownerID string, catType core.CategoryType) ([]core.Category, error) {
	all, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Category, 0, len(all))
	for _, c := range all {
		if c.Type == catType {
			out = append(out, c)
		}
	}
	return out, nil
}

// Rename changes an owner category's name. System categories are read-only.
func (s *CategoryService) Rename(ctx context.Context, ownerID, id, name string) error {
	ctx, span, cancel := s.opts.begin(ctx, "CategoryService.Rename", ownerID)
	defer cancel()

	name = strings.TrimSpace(name)
	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		c, err := tx.GetCategory(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if c.System {
			return core.NewValidationError("category_id", "system categories cannot be renamed")
		}
		c.Name = name
		if err := c.Validate(); err != nil {
			return err
		}
		if err := ensureUniqueName(ctx, tx, ownerID, c.Type, name, c.ID); err != nil {
			return err
		}
		return tx.RenameCategory(ctx, ownerID, id, name)
	})
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("rename category %s: %w", id, err)
	}

	s.cache.Invalidate(ctx, ownerID)
	return nil
}

// Delete removes an owner category. Transactions, budgets and schedules
// that used it become uncategorized.
func (s *CategoryService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span, cancel := s.opts.begin(ctx, "CategoryService.Delete", ownerID)
	defer cancel()

	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		c, err := tx.GetCategory(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if c.System {
			return core.NewValidationError("category_id", "system categories cannot be deleted")
		}
		return tx.DeleteCategory(ctx, ownerID, id)
	})
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}

	s.cache.Invalidate(ctx, ownerID)
	slog.InfoContext(ctx, "Category deleted",
		"owner_id", ownerID,
		"category_id", id)
	return nil
}
