package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// GoalService tracks savings, debt payoff and purchase goals. Progress only
// moves through append-only contributions.
type GoalService struct {
	ledger Ledger
	opts   options
}

func NewGoalService(ledger Ledger, opts ...Option) *GoalService {
	return &GoalService{ledger: ledger, opts: newOptions(opts)}
}

func (s *GoalService) Create(ctx context.Context, ownerID string, in core.Goal) (core.Goal, error) {
	ctx, span, cancel := s.opts.begin(ctx, "GoalService.Create", ownerID)
	defer cancel()

	now := s.opts.now()
	g := in
	g.ID = s.opts.newID()
	g.OwnerID = ownerID
	g.Name = strings.TrimSpace(g.Name)
	g.Current = core.Money{}
	g.Status = core.GoalActive
	g.CreatedAt = now
	g.UpdatedAt = now

	err := requireOwner(ownerID)
	if err == nil {
		err = g.Validate()
	}
	if err == nil {
		err = s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
			if g.LinkedAccountID != "" {
				if _, err := tx.GetAccount(ctx, ownerID, g.LinkedAccountID); err != nil {
					return err
				}
			}
			if g.LinkedCategoryID != "" {
				if _, err := tx.GetCategory(ctx, ownerID, g.LinkedCategoryID); err != nil {
					return err
				}
			}
			return tx.InsertGoal(ctx, g)
		})
	}
	if err := finish(ctx, span, err); err != nil {
		return core.Goal{}, fmt.Errorf("create goal: %w", err)
	}

	slog.InfoContext(ctx, "Goal created",
		"owner_id", ownerID,
		"goal_id", g.ID,
		"type", g.Type,
		"target_minor", g.Target.Minor)
	return g, nil
}

func (s *GoalService) Get(ctx context.Context, ownerID, id string) (core.Goal, error) {
	ctx, span, cancel := s.opts.begin(ctx, "GoalService.Get", ownerID)
	defer cancel()

	g, err := s.ledger.GetGoal(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return core.Goal{}, fmt.Errorf("get goal %s: %w", id, err)
	}
	return g, nil
}

// List returns the owner's goals, highest priority first.
func (s *GoalService) List(ctx context.Context, ownerID string) ([]core.Goal, error) {
	ctx, span, cancel := s.opts.begin(ctx, "GoalService.List", ownerID)
	defer cancel()

	goals, err := s.ledger.ListGoals(ctx, ownerID)
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// Contribute adds a positive amount to an active goal.
func (s *GoalService) Contribute(ctx context.Context, ownerID, goalID string, amount core.Money, note string) (core.Goal, error) {
	ctx, span, cancel := s.opts.begin(ctx, "GoalService.Contribute", ownerID)
	defer cancel()

	var updated core.Goal
	err := amount.Validate()
	if err == nil {
		err = s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
			g, err := tx.GetGoal(ctx, ownerID, goalID)
			if err != nil {
				return err
			}
			if g.Status != core.GoalActive {
				return core.NewValidationError("status", fmt.Sprintf("cannot contribute to a %s goal", g.Status))
			}
			c := core.GoalContribution{
				ID:            s.opts.newID(),
				GoalID:        goalID,
				Amount:        amount,
				Note:          strings.TrimSpace(note),
				ContributedAt: s.opts.now(),
			}
			if err := tx.AddGoalContribution(ctx, ownerID, c); err != nil {
				return err
			}
			updated, err = tx.GetGoal(ctx, ownerID, goalID)
			return err
		})
	}
	if err := finish(ctx, span, err); err != nil {
		return core.Goal{}, fmt.Errorf("contribute to goal %s: %w", goalID, err)
	}

	slog.InfoContext(ctx, "Goal contribution recorded",
		"owner_id", ownerID,
		"goal_id", goalID,
		"amount_minor", amount.Minor,
		"progress", updated.Progress())
	return updated, nil
}

// Contributions lists a goal's contributions, oldest first.
func (s *GoalService) Contributions(ctx context.Context, ownerID, goalID string) ([]core.GoalContribution, error) {
	ctx, span, cancel := s.opts.begin(ctx, "GoalService.Contributions", ownerID)
	defer cancel()

	var out []core.GoalContribution
	_, err := s.ledger.GetGoal(ctx, ownerID, goalID)
	if err == nil {
		out, err = s.ledger.ListGoalContributions(ctx, ownerID, goalID)
	}
	if err := finish(ctx, span, err); err != nil {
		return nil, fmt.Errorf("list contributions of goal %s: %w", goalID, err)
	}
	return out, nil
}

// Complete marks the goal achieved. It is final.
func (s *GoalService) Complete(ctx context.Context, ownerID, id string) error {
	return s.transition(ctx, "GoalService.Complete", ownerID, id, core.GoalCompleted, core.GoalActive, core.GoalPaused)
}

func (s *GoalService) Pause(ctx context.Context, ownerID, id string) error {
	return s.transition(ctx, "GoalService.Pause", ownerID, id, core.GoalPaused, core.GoalActive)
}

func (s *GoalService) Resume(ctx context.Context, ownerID, id string) error {
	return s.transition(ctx, "GoalService.Resume", ownerID, id, core.GoalActive, core.GoalPaused)
}

func (s *GoalService) transition(ctx context.Context, op, ownerID, id string, to core.GoalStatus, from ...core.GoalStatus) error {
	ctx, span, cancel := s.opts.begin(ctx, op, ownerID)
	defer cancel()

	err := s.ledger.WithinTx(ctx, func(tx storage.LedgerTx) error {
		g, err := tx.GetGoal(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if g.Status == to {
			return nil
		}
		for _, f := range from {
			if g.Status == f {
				return tx.SetGoalStatus(ctx, ownerID, id, to)
			}
		}
		return core.NewValidationError("status", fmt.Sprintf("cannot move a %s goal to %s", g.Status, to))
	})
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("set goal %s %s: %w", id, to, err)
	}

	slog.InfoContext(ctx, "Goal status changed",
		"owner_id", ownerID,
		"goal_id", id,
		"status", to)
	return nil
}

func (s *GoalService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span, cancel := s.opts.begin(ctx, "GoalService.Delete", ownerID)
	defer cancel()

	err := s.ledger.DeleteGoal(ctx, ownerID, id)
	if err := finish(ctx, span, err); err != nil {
		return fmt.Errorf("delete goal %s: %w", id, err)
	}
	return nil
}
