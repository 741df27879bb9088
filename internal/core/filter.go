package core

// TransactionFilter narrows a transaction listing. Zero fields are ignored.
type TransactionFilter struct {
	From       Date
	To         Date
	AccountID  string // matches source or destination
	CategoryID string
	Type       TransactionType
	Origin     Origin
	Limit      int
}
