package storage

import (
	"context"

	"fintrack/internal/core"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, a core.Account) error
	GetAccount(ctx context.Context, ownerID, id string) (core.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error)
	RenameAccount(ctx context.Context, ownerID, id, name string) error
	SetAccountActive(ctx context.Context, ownerID, id string, active bool) error
	DeleteAccount(ctx context.Context, ownerID, id string) error
	CountAccountTransactions(ctx context.Context, ownerID, id string) (int, error)
	AdjustBalance(ctx context.Context, ownerID, accountID string, delta int64, requireActive bool) error
}

type CategoryStore interface {
	CreateCategory(ctx context.Context, c core.Category) error
	GetCategory(ctx context.Context, ownerID, id string) (core.Category, error)
	FindCategoryByName(ctx context.Context, ownerID string, catType core.CategoryType, name string) (core.Category, bool, error)
	ListCategories(ctx context.Context, ownerID string) ([]core.Category, error)
	RenameCategory(ctx context.Context, ownerID, id, name string) error
	DeleteCategory(ctx context.Context, ownerID, id string) error
}

type TransactionStore interface {
	InsertTransaction(ctx context.Context, t core.Transaction) error
	GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error)
	OccurrenceExists(ctx context.Context, recurringID string, occurrence core.Date) (bool, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, ownerID, id string) error
	ListTransactions(ctx context.Context, ownerID string, f core.TransactionFilter) ([]core.Transaction, error)
	SumExpenses(ctx context.Context, ownerID, categoryID string, from, to core.Date) (core.Money, error)
	CategoryTotals(ctx context.Context, ownerID string, from, to core.Date) ([]core.CategoryTotal, error)
}

type RecurringStore interface {
	InsertRecurring(ctx context.Context, rt core.RecurringTransaction) error
	GetRecurring(ctx context.Context, ownerID, id string) (core.RecurringTransaction, error)
	ListRecurring(ctx context.Context, ownerID string) ([]core.RecurringTransaction, error)
	ListDueRecurring(ctx context.Context, today core.Date, limit int) ([]core.RecurringTransaction, error)
	UpdateRecurring(ctx context.Context, rt core.RecurringTransaction) error
	DeleteRecurring(ctx context.Context, ownerID, id string) error
}

type BudgetStore interface {
	InsertBudget(ctx context.Context, b core.Budget) error
	GetBudget(ctx context.Context, ownerID, id string) (core.Budget, error)
	ListBudgets(ctx context.Context, ownerID string) ([]core.Budget, error)
	ListBudgetOwners(ctx context.Context) ([]string, error)
	UpdateBudget(ctx context.Context, b core.Budget) error
	MarkBudgetAlerted(ctx context.Context, ownerID, id string, window core.Date) (bool, error)
	DeleteBudget(ctx context.Context, ownerID, id string) error
}

type GoalStore interface {
	InsertGoal(ctx context.Context, g core.Goal) error
	GetGoal(ctx context.Context, ownerID, id string) (core.Goal, error)
	ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error)
	SetGoalStatus(ctx context.Context, ownerID, id string, status core.GoalStatus) error
	AddGoalContribution(ctx context.Context, ownerID string, c core.GoalContribution) error
	ListGoalContributions(ctx context.Context, ownerID, goalID string) ([]core.GoalContribution, error)
	DeleteGoal(ctx context.Context, ownerID, id string) error
}

// LedgerTx is the view of the store inside one storage transaction.
type LedgerTx interface {
	AccountStore
	CategoryStore
	TransactionStore
	RecurringStore
	BudgetStore
	GoalStore
}

var (
	_ LedgerTx = (*ledgerTx)(nil)
	_ LedgerTx = (*SQLiteRepository)(nil)
)
