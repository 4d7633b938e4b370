// Package ledger defines the narrow contract between the engine and the
// durable store of accounts and transactions.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
)

// Ports for outbound adapters.
type (
	AccountStore interface {
		// GetAccount returns a *core.NotFoundError when the account is missing.
		GetAccount(ctx context.Context, id string) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
		// UpsertAccount inserts the account or updates it when account.Version
		// matches the stored version, returning *core.ConflictError otherwise.
		// The stored version is incremented on every write.
		UpsertAccount(ctx context.Context, account core.Account) (core.Account, error)
		DeleteAccount(ctx context.Context, id string) error
	}

	TransactionStore interface {
		// ListTransactions returns the account's transactions ordered by date
		// then insertion order.
		ListTransactions(ctx context.Context, accountID string) ([]core.Transaction, error)
		ListAllTransactions(ctx context.Context) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		UpsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id string) error
		FindByTransferLink(ctx context.Context, linkID string) ([]core.Transaction, error)
		// ListRecurring returns every transaction with IsRecurring set.
		ListRecurring(ctx context.Context) ([]core.Transaction, error)
	}

	// Store is what the reconciler, transfer orchestrator and recurring
	// processor need.
	Store interface {
		AccountStore
		TransactionStore
	}

	// Transactor is implemented by stores able to run several writes as one
	// unit. fn receives a Store bound to the transaction; returning an error
	// rolls everything back.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(Store) error) error
	}

	// AtomicTransferer commits both legs of a transfer, and the balances of
	// both accounts, in one call.
	AtomicTransferer interface {
		PerformTransfer(ctx context.Context, p TransferParams) (TransferLegs, error)
	}

	BudgetStore interface {
		ListBudgets(ctx context.Context) ([]core.BudgetCategory, error)
		UpsertBudget(ctx context.Context, b core.BudgetCategory) (core.BudgetCategory, error)
		DeleteBudget(ctx context.Context, id string) error
	}

	AlertFeedStore interface {
		LoadAlertFeed(ctx context.Context) (core.AlertFeed, error)
		SaveAlertFeed(ctx context.Context, feed core.AlertFeed) error
	}

	// FullStore is everything a backend provides.
	FullStore interface {
		Store
		Transactor
		AtomicTransferer
		BudgetStore
		AlertFeedStore
		Close() error
	}
)

// TransferParams carries a fully resolved transfer. Amount is expressed in
// SourceCurrency, ConvertedAmount in DestinationCurrency.
type TransferParams struct {
	LinkID               string
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	Date                 core.Date
	Description          string
	SourceCurrency       string
	ConvertedAmount      decimal.Decimal
	DestinationCurrency  string
	// Legs are the two transactions to persist, built by the orchestrator.
	Source      core.Transaction
	Destination core.Transaction
}

// TransferLegs are the two persisted legs of a transfer.
type TransferLegs struct {
	Source      core.Transaction
	Destination core.Transaction
}

// Atomically runs fn inside a store transaction when s supports one, and
// directly against s otherwise.
func Atomically(ctx context.Context, s Store, fn func(Store) error) error {
	if t, ok := s.(Transactor); ok {
		return t.WithinTx(ctx, fn)
	}
	return fn(s)
}

// RefreshBalance recomputes the account balance from its transactions and
// stores it when it drifted. The balance is never set any other way.
func RefreshBalance(ctx context.Context, s Store, accountID string) (core.Account, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}
	txs, err := s.ListTransactions(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}
	sum := core.SignedSum(txs, accountID)
	if account.Balance.Equal(sum) {
		return account, nil
	}
	account.Balance = sum
	return s.UpsertAccount(ctx, account)
}
