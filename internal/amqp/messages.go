package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind names the ledger mutation an event announces.
type EventKind string

const (
	EventReconciled         EventKind = "reconciled"
	EventTransfer           EventKind = "transfer"
	EventRecurringPaid      EventKind = "recurring_paid"
	EventRecurringStopped   EventKind = "recurring_stopped"
	EventTransactionSaved   EventKind = "transaction_saved"
	EventTransactionDeleted EventKind = "transaction_deleted"
	EventAccountChanged     EventKind = "account_changed"
	EventBudgetChanged      EventKind = "budget_changed"
)

// LedgerEvent is a lightweight notice that the ledger changed. It carries
// ids only; consumers re-read the store for current state.
type LedgerEvent struct {
	ID             string    `json:"id"`
	Kind           EventKind `json:"kind"`
	AccountIDs     []string  `json:"account_ids,omitempty"`
	TransactionIDs []string  `json:"transaction_ids,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event with a fresh id.
func NewLedgerEvent(kind EventKind, accountIDs, transactionIDs []string) *LedgerEvent {
	return &LedgerEvent{
		ID:             uuid.NewString(),
		Kind:           kind,
		AccountIDs:     accountIDs,
		TransactionIDs: transactionIDs,
		Timestamp:      time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON creates a message from JSON bytes
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
