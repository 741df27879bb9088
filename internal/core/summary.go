package core

// CategoryTotal is the per-category aggregate of one transaction type.
// CategoryID is empty for uncategorized transactions.
type CategoryTotal struct {
	CategoryID string
	Name       string
	Type       TransactionType
	Amount     Money
}

// MonthOverview is a compact per-owner summary for a specific year+month.
// Transfers move money between the owner's accounts and are excluded.
type MonthOverview struct {
	OwnerID    string
	Year       int
	Month      int // 1-12
	Income     Money
	Expense    Money
	ByCategory []CategoryTotal
}

// Net returns income minus expense.
func (o MonthOverview) Net() Money {
	return o.Income.Add(o.Expense.Neg())
}

// BudgetStatus is the spend of a budget in the window containing a date.
type BudgetStatus struct {
	Budget           Budget
	WindowStart      Date
	WindowEnd        Date
	Spent            Money
	Remaining        Money // negative once exceeded
	Ratio            float64
	ThresholdReached bool
	Exceeded         bool
}

// BalanceDrift compares a stored balance with the sum of the account's
// transactions.
type BalanceDrift struct {
	AccountID string
	Name      string
	Stored    Money
	Computed  Money
}

// Drift returns Stored - Computed.
func (d BalanceDrift) Drift() Money {
	return d.Stored.Add(d.Computed.Neg())
}

// Consistent reports whether the stored balance matches.
func (d BalanceDrift) Consistent() bool {
	return d.Stored == d.Computed
}
