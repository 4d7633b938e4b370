package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

// DeleteMode selects what DeleteTransaction removes for a transfer leg.
type DeleteMode int

const (
	// DeleteSingle removes only the given transaction.
	DeleteSingle DeleteMode = iota
	// DeleteWithPartner also removes the other leg of a transfer.
	DeleteWithPartner
)

// TransactionService handles direct entry, edit and deletion of
// transactions, keeping account balances derived from them.
type TransactionService struct {
	store     ledger.Store
	locks     *AccountLocks
	publisher Publisher
}

func NewTransactionService(store ledger.Store, locks *AccountLocks, publisher Publisher) *TransactionService {
	if locks == nil {
		locks = NewAccountLocks()
	}
	return &TransactionService{
		store:     store,
		locks:     locks,
		publisher: publisher,
	}
}

// SaveTransaction inserts or updates tx and recomputes the balance of every
// account it touches. Moving a transaction between accounts refreshes both.
//
// When NumericAmount is zero the amount is parsed from the user supplied
// Amount string ("12.34" or "12,34"). The system and transfer markers are
// owned by the engine: new entries never carry them and edits keep the
// stored ones.
func (s *TransactionService) SaveTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx.Currency = strings.ToUpper(tx.Currency)
	if tx.NumericAmount.IsZero() && strings.TrimSpace(tx.Amount) != "" {
		amount, err := core.ParseAmount(tx.Amount)
		if err != nil {
			return core.Transaction{}, core.Invalid("amount", err, tx.ID)
		}
		tx.NumericAmount = amount
		tx.Amount = ""
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	accountIDs := []string{tx.AccountID}
	if tx.ID != "" {
		prev, err := s.store.GetTransaction(ctx, tx.ID)
		switch {
		case err == nil:
			if prev.AccountID != tx.AccountID {
				accountIDs = append(accountIDs, prev.AccountID)
			}
		case !errors.Is(err, core.ErrNotFound):
			return core.Transaction{}, fmt.Errorf("save transaction %s: %w", tx.ID, err)
		}
	}

	unlock := s.locks.Lock(accountIDs...)
	defer unlock()

	var saved core.Transaction
	err := retryAtomically(ctx, s.store, "save transaction", func(st ledger.Store) error {
		tx.SystemKind, tx.TransferLinkID = "", ""
		if tx.ID != "" {
			prev, err := st.GetTransaction(ctx, tx.ID)
			switch {
			case err == nil:
				tx.SystemKind, tx.TransferLinkID = prev.SystemKind, prev.TransferLinkID
			case !errors.Is(err, core.ErrNotFound):
				return fmt.Errorf("load transaction: %w", err)
			}
		}
		for _, id := range accountIDs {
			account, err := st.GetAccount(ctx, id)
			if err != nil {
				return err
			}
			if account.Frozen {
				return core.Invalid("accountId", core.ErrFrozenAccount, account.ID)
			}
			if id == tx.AccountID && tx.Currency == "" {
				tx.Currency = account.Currency
			}
		}
		if tx.Amount == "" {
			tx.Amount = core.FormatAmount(tx.NumericAmount, tx.Currency)
		}

		var err error
		if saved, err = st.UpsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("upsert transaction: %w", err)
		}
		for _, id := range accountIDs {
			if _, err := ledger.RefreshBalance(ctx, st, id); err != nil {
				return fmt.Errorf("refresh balance %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"transaction_id", saved.ID,
		"account_id", saved.AccountID,
		"type", saved.Type,
		"amount", saved.NumericAmount.String())
	publish(ctx, s.publisher, amqp.EventTransactionSaved, accountIDs, []string{saved.ID})
	return saved, nil
}

// DeleteTransaction removes the transaction id. With DeleteWithPartner the
// other leg of a transfer is removed in the same unit of work; asking the user
// first is the caller's concern. It returns the ids actually deleted.
func (s *TransactionService) DeleteTransaction(ctx context.Context, id string, mode DeleteMode) ([]string, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete transaction %s: %w", id, err)
	}

	targets := []core.Transaction{tx}
	if mode == DeleteWithPartner && tx.IsTransfer() {
		legs, err := s.store.FindByTransferLink(ctx, tx.TransferLinkID)
		if err != nil {
			return nil, fmt.Errorf("find transfer partner: %w", err)
		}
		if partner, ok := FindTransferPartner(tx, legs); ok {
			targets = append(targets, partner)
		}
	}

	var accountIDs, txIDs []string
	for _, t := range targets {
		accountIDs = append(accountIDs, t.AccountID)
		txIDs = append(txIDs, t.ID)
	}

	unlock := s.locks.Lock(accountIDs...)
	defer unlock()

	err = retryAtomically(ctx, s.store, "delete transaction", func(st ledger.Store) error {
		for _, accountID := range uniqueSorted(accountIDs) {
			account, err := st.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			if account.Frozen {
				return core.Invalid("accountId", core.ErrFrozenAccount, account.ID)
			}
		}
		for _, txID := range txIDs {
			if err := st.DeleteTransaction(ctx, txID); err != nil {
				return fmt.Errorf("delete %s: %w", txID, err)
			}
		}
		for _, accountID := range uniqueSorted(accountIDs) {
			if _, err := ledger.RefreshBalance(ctx, st, accountID); err != nil {
				return fmt.Errorf("refresh balance %s: %w", accountID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", id,
		"deleted", len(txIDs),
		"transfer_link_id", tx.TransferLinkID)
	publish(ctx, s.publisher, amqp.EventTransactionDeleted, uniqueSorted(accountIDs), txIDs)
	return txIDs, nil
}

// ListTransactions returns the transactions of one account, or of every
// account when accountID is empty.
func (s *TransactionService) ListTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	if accountID == "" {
		return s.store.ListAllTransactions(ctx)
	}
	return s.store.ListTransactions(ctx, accountID)
}
