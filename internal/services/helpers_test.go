package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
	"ledgerengine/internal/ledger/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
}

func (r *recorder) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []amqp.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]amqp.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// plainStore hides the atomic capabilities of the wrapped store and lets
// tests inject write failures.
type plainStore struct {
	ledger.Store
	failUpsert func(core.Transaction) error
	failDelete error
}

func (s *plainStore) UpsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if s.failUpsert != nil {
		if err := s.failUpsert(tx); err != nil {
			return core.Transaction{}, err
		}
	}
	return s.Store.UpsertTransaction(ctx, tx)
}

func (s *plainStore) DeleteTransaction(ctx context.Context, id string) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	return s.Store.DeleteTransaction(ctx, id)
}

func mustAccount(t *testing.T, s ledger.Store, a core.Account) core.Account {
	t.Helper()
	if a.Type == "" {
		a.Type = core.Checking
	}
	if a.Currency == "" {
		a.Currency = "USD"
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	created, err := s.UpsertAccount(context.Background(), a)
	if err != nil {
		t.Fatalf("UpsertAccount(%s) error = %v", a.ID, err)
	}
	return created
}

func mustTx(t *testing.T, s ledger.Store, tx core.Transaction) core.Transaction {
	t.Helper()
	if tx.Name == "" {
		tx.Name = "entry"
	}
	if tx.Status == "" {
		tx.Status = core.Completed
	}
	saved, err := s.UpsertTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("UpsertTransaction() error = %v", err)
	}
	if _, err := ledger.RefreshBalance(context.Background(), s, tx.AccountID); err != nil {
		t.Fatalf("RefreshBalance() error = %v", err)
	}
	return saved
}

// assertBalanced checks that the stored balance equals the signed sum of the
// account's transactions.
func assertBalanced(t *testing.T, s ledger.Store, accountID string) core.Account {
	t.Helper()
	ctx := context.Background()
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccount(%s) error = %v", accountID, err)
	}
	txs, err := s.ListTransactions(ctx, accountID)
	if err != nil {
		t.Fatalf("ListTransactions(%s) error = %v", accountID, err)
	}
	if sum := core.SignedSum(txs, accountID); !core.WithinTolerance(sum, account.Balance) {
		t.Errorf("account %s balance %s != transaction sum %s", accountID, account.Balance, sum)
	}
	return account
}

func newMemoryStore() *memory.Store {
	return memory.New()
}
