package core

import (
	"strings"
)

const maxDescriptionLen = 200

var (
	ErrInvalidAmount    = &ValidationError{Field: "amount", Message: "must be a positive amount"}
	ErrEmptyDescription = &ValidationError{Field: "description", Message: "cannot be empty"}
	ErrEmptyName        = &ValidationError{Field: "name", Message: "cannot be empty"}
	ErrMissingAccount   = &ValidationError{Field: "source_account_id", Message: "required"}
)

type (
	// TransactionInput is the already-typed field set accepted by TransactionService.Create.
	TransactionInput struct {
		Type                 TransactionType
		Amount               Money
		Date                 Date
		Description          string
		SourceAccountID      string
		DestinationAccountID string
		CategoryID           string
		Tags                 []string
		Metadata             map[string]string
	}

	// AccountInput opens an account. A non-zero OpeningBalance, which may be
	// negative, is recorded as a first transaction so the balance keeps
	// matching the ledger.
	AccountInput struct {
		Name           string
		Type           AccountType
		Currency       string
		OpeningBalance Money
		OpenedOn       Date
	}

	// TransactionPatch carries the fields of a partial update; nil means unchanged.
	// An empty DestinationAccountID or CategoryID clears the field.
	TransactionPatch struct {
		Type                 *TransactionType
		Amount               *Money
		Date                 *Date
		Description          *string
		SourceAccountID      *string
		DestinationAccountID *string
		CategoryID           *string
		Tags                 []string
		Metadata             map[string]string
	}

	// BudgetPatch carries the editable fields of a budget; nil means
	// unchanged. An empty CategoryID makes the budget cover all expenses.
	BudgetPatch struct {
		Name           *string
		CategoryID     *string
		Limit          *Money
		Period         *Frequency
		StartDate      *Date
		EndDate        *Date
		AlertThreshold *float64
	}

	// RecurringPatch carries the editable fields of a schedule; nil means
	// unchanged. A non-nil zero EndDate makes the schedule open-ended.
	RecurringPatch struct {
		Amount               *Money
		Description          *string
		AccountID            *string
		DestinationAccountID *string
		CategoryID           *string
		Tags                 []string
		Frequency            *Frequency
		Interval             *int
		StartDate            *Date
		EndDate              *Date
	}
)

// Apply merges the patch onto a copy of rt.
func (p RecurringPatch) Apply(rt RecurringTransaction) RecurringTransaction {
	if p.Amount != nil {
		rt.Amount = *p.Amount
	}
	if p.Description != nil {
		rt.Description = *p.Description
	}
	if p.AccountID != nil {
		rt.AccountID = *p.AccountID
	}
	if p.DestinationAccountID != nil {
		rt.DestinationAccountID = *p.DestinationAccountID
	}
	if p.CategoryID != nil {
		rt.CategoryID = *p.CategoryID
	}
	if p.Tags != nil {
		rt.Tags = NormalizeTags(p.Tags)
	}
	if p.Frequency != nil {
		rt.Frequency = *p.Frequency
	}
	if p.Interval != nil {
		rt.Interval = *p.Interval
	}
	if p.StartDate != nil {
		rt.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		rt.EndDate = *p.EndDate
	}
	return rt
}

// Apply merges the patch onto a copy of b.
func (p BudgetPatch) Apply(b Budget) Budget {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.CategoryID != nil {
		b.CategoryID = *p.CategoryID
	}
	if p.Limit != nil {
		b.Limit = *p.Limit
	}
	if p.Period != nil {
		b.Period = *p.Period
	}
	if p.StartDate != nil {
		b.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		b.EndDate = *p.EndDate
	}
	if p.AlertThreshold != nil {
		b.AlertThreshold = *p.AlertThreshold
	}
	return b
}

// ChangesWindows reports whether the budget windows move.
func (p BudgetPatch) ChangesWindows() bool {
	return p.Period != nil || p.StartDate != nil
}

// ChangesSchedule reports whether the occurrence sequence itself changes.
func (p RecurringPatch) ChangesSchedule() bool {
	return p.Frequency != nil || p.Interval != nil || p.StartDate != nil
}

// Apply merges the patch onto a copy of t.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.SourceAccountID != nil {
		t.SourceAccountID = *p.SourceAccountID
	}
	if p.DestinationAccountID != nil {
		t.DestinationAccountID = *p.DestinationAccountID
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Tags != nil {
		t.Tags = NormalizeTags(p.Tags)
	}
	if p.Metadata != nil {
		t.Metadata = p.Metadata
	}
	return t
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Type == nil && p.Amount == nil && p.Date == nil && p.Description == nil &&
		p.SourceAccountID == nil && p.DestinationAccountID == nil && p.CategoryID == nil &&
		p.Tags == nil && p.Metadata == nil
}

func (tt TransactionType) Validate() error {
	switch tt {
	case Expense, Income, Transfer:
		return nil
	default:
		return NewValidationError("type", "must be one of expense, income, transfer")
	}
}

func (f Frequency) Validate() error {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return nil
	default:
		return NewValidationError("frequency", "invalid repetition type")
	}
}

// Validate checks the cross-field invariants every persisted transaction must hold.
func (t Transaction) Validate() error {
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return NewValidationError("date", "required")
	}
	if len(t.Description) > maxDescriptionLen {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	if strings.TrimSpace(t.OwnerID) == "" {
		return NewValidationError("owner_id", "required")
	}
	return validateAccounts(t.Type, t.SourceAccountID, t.DestinationAccountID, t.CategoryID)
}

func validateAccounts(tt TransactionType, source, destination, category string) error {
	if strings.TrimSpace(source) == "" {
		return ErrMissingAccount
	}
	switch tt {
	case Transfer:
		if destination == "" {
			return NewValidationError("destination_account_id", "required for transfer")
		}
		if destination == source {
			return NewValidationError("destination_account_id", "must differ from source account")
		}
		if category != "" {
			return NewValidationError("category_id", "not allowed for transfer")
		}
	case Expense, Income:
		if destination != "" {
			return NewValidationError("destination_account_id", "only allowed for transfer")
		}
	}
	return nil
}

func (re RecurringTransaction) Validate() error {
	if err := re.Type.Validate(); err != nil {
		return err
	}
	if err := re.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(re.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(re.Description) > maxDescriptionLen {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	if err := validateAccounts(re.Type, re.AccountID, re.DestinationAccountID, re.CategoryID); err != nil {
		return err
	}
	if err := re.Frequency.Validate(); err != nil {
		return err
	}
	if re.Interval < 1 {
		return NewValidationError("interval", "must be at least 1")
	}
	if err := re.StartDate.Validate(); err != nil {
		return NewValidationError("start_date", err.Error())
	}
	if re.HasEndDate() && re.EndDate.Before(re.StartDate) {
		return NewValidationError("end_date", "end date must not be before start date")
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	switch a.Type {
	case AccountCash, AccountBank, AccountCredit, AccountWallet, AccountSavings:
	default:
		return NewValidationError("type", "must be one of cash, bank, credit, wallet, savings")
	}
	if len(a.Currency) != 3 || strings.ToUpper(a.Currency) != a.Currency {
		return NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 64 {
		return NewValidationError("name", "too long (max 64 characters)")
	}
	switch c.Type {
	case CategoryExpense, CategoryIncome:
		return nil
	default:
		return NewValidationError("type", "must be expense or income")
	}
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	if err := b.Limit.Validate(); err != nil {
		return err
	}
	if err := b.Period.Validate(); err != nil {
		return NewValidationError("period", "must be one of daily, weekly, monthly, yearly")
	}
	if err := b.StartDate.Validate(); err != nil {
		return NewValidationError("start_date", err.Error())
	}
	if !b.EndDate.IsZero() && b.EndDate.Before(b.StartDate) {
		return NewValidationError("end_date", "end date must not be before start date")
	}
	if b.AlertThreshold <= 0 || b.AlertThreshold > 1 {
		return NewValidationError("alert_threshold", "must be in (0, 1]")
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	switch g.Type {
	case GoalSavings, GoalDebtPayoff, GoalPurchase:
	default:
		return NewValidationError("type", "must be one of savings, debt_payoff, purchase")
	}
	if err := g.Target.Validate(); err != nil {
		return NewValidationError("target", "must be a positive amount")
	}
	if g.Current.Minor < 0 {
		return NewValidationError("current", "cannot be negative")
	}
	if g.Priority < 0 {
		return NewValidationError("priority", "cannot be negative")
	}
	return nil
}

// CategoryTypeFor returns the category type a transaction type may reference.
func CategoryTypeFor(tt TransactionType) (CategoryType, bool) {
	switch tt {
	case Expense:
		return CategoryExpense, true
	case Income:
		return CategoryIncome, true
	default:
		return "", false
	}
}
