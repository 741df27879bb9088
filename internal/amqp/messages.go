package amqp

import (
	"encoding/json"
	"time"

	"fintrack/internal/core"
)

// EventType names the mutation a TransactionEvent reports.
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
)

// TransactionEvent is published after a transaction mutation commits.
// It carries enough of the transaction for consumers to decide whether to
// reload anything; amounts are minor units.
type TransactionEvent struct {
	Event                EventType `json:"event"`
	TransactionID        string    `json:"transaction_id"`
	OwnerID              string    `json:"owner_id"`
	Type                 string    `json:"type"`
	AmountMinor          int64     `json:"amount_minor"`
	Date                 string    `json:"date"`
	CategoryID           string    `json:"category_id,omitempty"`
	SourceAccountID      string    `json:"source_account_id"`
	DestinationAccountID string    `json:"destination_account_id,omitempty"`
	Origin               string    `json:"origin"`
	Timestamp            time.Time `json:"timestamp"`
}

// NewTransactionEvent snapshots t for the given event.
func NewTransactionEvent(event EventType, t core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Event:                event,
		TransactionID:        t.ID,
		OwnerID:              t.OwnerID,
		Type:                 string(t.Type),
		AmountMinor:          t.Amount.Minor,
		Date:                 t.Date.String(),
		CategoryID:           t.CategoryID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Origin:               string(t.Origin),
		Timestamp:            time.Now(),
	}
}

// IsExpense reports whether the event concerns spending, the only kind
// budgets track.
func (m *TransactionEvent) IsExpense() bool {
	return m.Type == string(core.Expense)
}

// ToJSON converts the message to JSON bytes
func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON creates a message from JSON bytes
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
