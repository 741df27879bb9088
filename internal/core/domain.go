package core

import (
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Expense  TransactionType = "expense"
	Income   TransactionType = "income"
	Transfer TransactionType = "transfer"
)

const (
	OriginUser      Origin = "user"
	OriginRecurring Origin = "recurring"
)

const (
	AccountCash    AccountType = "cash"
	AccountBank    AccountType = "bank"
	AccountCredit  AccountType = "credit"
	AccountWallet  AccountType = "wallet"
	AccountSavings AccountType = "savings"
)

const (
	CategoryExpense CategoryType = "expense"
	CategoryIncome  CategoryType = "income"
)

const (
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleExhausted ScheduleStatus = "exhausted"
)

const (
	GoalSavings    GoalType = "savings"
	GoalDebtPayoff GoalType = "debt_payoff"
	GoalPurchase   GoalType = "purchase"
)

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
)

// System categories used for opening balances.
const (
	OpeningBalanceCategoryID = "sys-inc-opening"
	OtherExpenseCategoryID   = "sys-exp-other"
)

// RecurringTag is attached to every transaction materialized by the scheduler.
const RecurringTag = "recurring"

type (
	Frequency       string
	TransactionType string
	Origin          string
	AccountType     string
	CategoryType    string
	ScheduleStatus  string
	GoalType        string
	GoalStatus      string

	Account struct {
		ID        string
		OwnerID   string
		Name      string
		Type      AccountType
		Balance   Money
		Currency  string
		Active    bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Category struct {
		ID      string
		OwnerID string // empty for system categories
		Name    string
		Type    CategoryType
		System  bool
	}

	Transaction struct {
		ID                   string
		OwnerID              string
		Type                 TransactionType
		Amount               Money
		Date                 Date
		Description          string
		SourceAccountID      string
		DestinationAccountID string // transfer only
		CategoryID           string // never set for transfer
		Tags                 []string
		Metadata             map[string]string
		Origin               Origin
		RecurringID          string
		OccurrenceDate       Date
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	RecurringTransaction struct {
		ID                   string
		OwnerID              string
		Type                 TransactionType
		Amount               Money
		Description          string
		AccountID            string
		DestinationAccountID string
		CategoryID           string
		Tags                 []string
		Frequency            Frequency
		Interval             int
		StartDate            Date
		EndDate              Date // zero means open-ended
		Status               ScheduleStatus
		LastProcessedDate    Date // zero until the first occurrence is materialized
		NextDueDate          Date
		LastError            string
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	Budget struct {
		ID                 string
		OwnerID            string
		Name               string
		CategoryID         string // empty means all expense categories
		Limit              Money
		Period             Frequency
		StartDate          Date
		EndDate            Date
		AlertThreshold     float64
		AlertedWindowStart Date
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}

	Goal struct {
		ID               string
		OwnerID          string
		Name             string
		Type             GoalType
		Target           Money
		Current          Money
		Deadline         Date
		LinkedAccountID  string
		LinkedCategoryID string
		Priority         int
		Status           GoalStatus
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	GoalContribution struct {
		ID            string
		GoalID        string
		Amount        Money
		Note          string
		ContributedAt time.Time
	}
)

// IsActive reports whether the scheduler should consider the schedule.
func (rt RecurringTransaction) IsActive() bool {
	return rt.Status == ScheduleActive
}

// HasEndDate reports whether the schedule is bounded.
func (rt RecurringTransaction) HasEndDate() bool {
	return !rt.EndDate.IsZero()
}

// Template returns the transaction input materialized for one occurrence.
func (rt RecurringTransaction) Template(occurrence Date) TransactionInput {
	tags := append([]string{RecurringTag}, rt.Tags...)
	return TransactionInput{
		Type:                 rt.Type,
		Amount:               rt.Amount,
		Date:                 occurrence,
		Description:          rt.Description,
		SourceAccountID:      rt.AccountID,
		DestinationAccountID: rt.DestinationAccountID,
		CategoryID:           rt.CategoryID,
		Tags:                 NormalizeTags(tags),
		Metadata: map[string]string{
			"recurring_id": rt.ID,
			"frequency":    string(rt.Frequency),
		},
	}
}

// Progress returns Current/Target as a fraction.
func (g Goal) Progress() float64 {
	if g.Target.Minor <= 0 {
		return 0
	}
	return float64(g.Current.Minor) / float64(g.Target.Minor)
}

// AffectsAccount reports whether the transaction moves money on the account.
func (t Transaction) AffectsAccount(accountID string) bool {
	return t.SourceAccountID == accountID || (t.Type == Transfer && t.DestinationAccountID == accountID)
}

// IsGenerated reports whether the row was materialized by the scheduler.
func (t Transaction) IsGenerated() bool {
	return t.Origin == OriginRecurring
}

// NormalizeTags trims tags and drops empty and repeated ones, keeping order.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
