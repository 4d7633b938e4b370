package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

// AccountService manages the account lifecycle. Balances are only ever moved
// through the Reconciler.
type AccountService struct {
	store      ledger.Store
	reconciler *Reconciler
	publisher  Publisher
}

func NewAccountService(store ledger.Store, reconciler *Reconciler, publisher Publisher) *AccountService {
	return &AccountService{
		store:      store,
		reconciler: reconciler,
		publisher:  publisher,
	}
}

// CreateAccount stores account with a zero balance and reconciles it to the
// requested opening balance, producing a "Starting Balance" entry. Insert,
// opening entry and freeze form one unit of work: on failure no account is
// left behind.
func (s *AccountService) CreateAccount(ctx context.Context, account core.Account) (core.Account, error) {
	account.Currency = strings.ToUpper(account.Currency)
	if err := account.Validate(); err != nil {
		return core.Account{}, err
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	opening := account.Balance
	frozen := account.Frozen
	account.InitialBalance = opening
	account.Balance = decimal.Zero
	account.Frozen = false
	account.Version = 0

	unlock := s.reconciler.locks.Lock(account.ID)
	defer unlock()

	var (
		created  core.Account
		adjusted *core.Transaction
		inserted bool
	)
	err := ledger.Atomically(ctx, s.store, func(st ledger.Store) error {
		var err error
		if created, err = st.UpsertAccount(ctx, account); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		inserted = true

		res, err := s.reconciler.reconcileIn(ctx, st, ReconcileRequest{
			AccountID: created.ID,
			Target:    opening,
			Kind:      core.StartingBalance,
		})
		if err != nil {
			return fmt.Errorf("opening balance: %w", err)
		}
		created, adjusted = res.Account, res.Adjustment

		if frozen {
			created.Frozen = true
			if created, err = st.UpsertAccount(ctx, created); err != nil {
				return fmt.Errorf("freeze account: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if _, transactional := s.store.(ledger.Transactor); !transactional && inserted {
			if derr := s.store.DeleteAccount(ctx, account.ID); derr != nil {
				slog.ErrorContext(ctx, "Failed to remove partially created account",
					"account_id", account.ID,
					"error", derr)
			}
		}
		return core.Account{}, fmt.Errorf("create account %s: %w", account.ID, err)
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", created.ID,
		"currency", created.Currency,
		"opening_balance", opening.String())
	var txIDs []string
	if adjusted != nil {
		txIDs = []string{adjusted.ID}
	}
	publish(ctx, s.publisher, amqp.EventAccountChanged, []string{created.ID}, txIDs)
	return created, nil
}

// UpdateAccount saves the metadata of edited. The balance is reconciled only
// when it differs from the stored one by more than core.Tolerance, so a
// metadata-only edit never creates an adjustment.
func (s *AccountService) UpdateAccount(ctx context.Context, edited core.Account) (core.Account, error) {
	edited.Currency = strings.ToUpper(edited.Currency)
	if err := edited.Validate(); err != nil {
		return core.Account{}, err
	}

	var (
		updated        core.Account
		balanceChanged bool
	)
	err := func() error {
		unlock := s.reconciler.locks.Lock(edited.ID)
		defer unlock()

		return retryOnConflict(ctx, "update account", func() error {
			stored, err := s.store.GetAccount(ctx, edited.ID)
			if err != nil {
				return err
			}
			balanceChanged = !core.WithinTolerance(edited.Balance, stored.Balance)
			if balanceChanged && (stored.Frozen || edited.Frozen) {
				return core.Invalid("balance", core.ErrFrozenAccount, stored.ID)
			}

			stored.Name = edited.Name
			stored.Institution = edited.Institution
			stored.Type = edited.Type
			stored.Currency = edited.Currency
			stored.Color = edited.Color
			stored.Credit = edited.Credit
			stored.Business = edited.Business
			stored.BusinessID = edited.BusinessID
			stored.Frozen = edited.Frozen

			updated, err = s.store.UpsertAccount(ctx, stored)
			return err
		})
	}()
	if err != nil {
		return core.Account{}, fmt.Errorf("update account %s: %w", edited.ID, err)
	}

	if balanceChanged {
		res, err := s.reconciler.Reconcile(ctx, ReconcileRequest{
			AccountID: edited.ID,
			Target:    edited.Balance,
			Kind:      core.BalanceAdjustment,
		})
		if err != nil {
			return core.Account{}, err
		}
		updated = res.Account
	}

	publish(ctx, s.publisher, amqp.EventAccountChanged, []string{updated.ID}, nil)
	return updated, nil
}

// DeleteAccount removes the account and its transactions.
func (s *AccountService) DeleteAccount(ctx context.Context, id string) error {
	unlock := s.reconciler.locks.Lock(id)
	defer unlock()

	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	slog.InfoContext(ctx, "Account deleted", "account_id", id)
	publish(ctx, s.publisher, amqp.EventAccountChanged, []string{id}, nil)
	return nil
}

// SetFrozen freezes or unfreezes an account. Frozen accounts reject every
// balance-changing operation.
func (s *AccountService) SetFrozen(ctx context.Context, id string, frozen bool) (core.Account, error) {
	unlock := s.reconciler.locks.Lock(id)
	defer unlock()

	var account core.Account
	err := retryOnConflict(ctx, "set frozen", func() error {
		stored, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if stored.Frozen == frozen {
			account = stored
			return nil
		}
		stored.Frozen = frozen
		account, err = s.store.UpsertAccount(ctx, stored)
		return err
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("set frozen on account %s: %w", id, err)
	}
	publish(ctx, s.publisher, amqp.EventAccountChanged, []string{id}, nil)
	return account, nil
}

// ListAccounts returns every account.
func (s *AccountService) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.store.ListAccounts(ctx)
}
