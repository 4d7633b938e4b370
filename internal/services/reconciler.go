package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

// ReconcileRequest asks for an account's balance to become Target.
type ReconcileRequest struct {
	AccountID string
	Target    decimal.Decimal
	// Kind defaults to core.BalanceAdjustment.
	Kind core.SystemKind
}

// ReconcileResult is the outcome of a reconciliation. Adjustment is nil when
// the target was already met.
type ReconcileResult struct {
	Account    core.Account
	Adjustment *core.Transaction
	Merged     bool
}

// Reconciler turns a balance edit into an adjustment transaction so that the
// balance always equals the signed sum of the account's transactions.
type Reconciler struct {
	store     ledger.Store
	locks     *AccountLocks
	clock     Clock
	publisher Publisher
}

func NewReconciler(store ledger.Store, locks *AccountLocks, clock Clock, publisher Publisher) *Reconciler {
	if locks == nil {
		locks = NewAccountLocks()
	}
	if clock == nil {
		clock = SystemClock(nil)
	}
	return &Reconciler{
		store:     store,
		locks:     locks,
		clock:     clock,
		publisher: publisher,
	}
}

// PlanAdjustment computes the transaction that brings account to target given
// its current transactions. It returns ok=false when the difference is within
// core.Tolerance. When a system adjustment for the same account already
// exists on today, the returned transaction is that adjustment with the
// difference folded in (merged=true) so repeated edits on one day never pile
// up adjustment rows.
func PlanAdjustment(account core.Account, target decimal.Decimal, txs []core.Transaction, today core.Date, kind core.SystemKind) (adj core.Transaction, merged bool, ok bool) {
	current := core.SignedSum(txs, account.ID)
	delta := target.Sub(current)
	if delta.Abs().LessThanOrEqual(core.Tolerance) {
		return core.Transaction{}, false, false
	}

	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if tx.AccountID != account.ID || !tx.IsSystem() || !tx.Date.Equal(today) {
			continue
		}
		typ, amount := core.EntryFor(tx.Signed().Add(delta))
		tx.Type = typ
		tx.NumericAmount = amount
		tx.Amount = core.FormatAmount(amount, account.Currency)
		tx.Splits = nil
		return tx, true, true
	}

	if kind == "" {
		kind = core.BalanceAdjustment
	}
	name := core.BalanceAdjustmentName
	if kind == core.StartingBalance {
		name = core.StartingBalanceName
	}
	typ, amount := core.EntryFor(delta)
	return core.Transaction{
		AccountID:     account.ID,
		Name:          name,
		Amount:        core.FormatAmount(amount, account.Currency),
		NumericAmount: amount,
		Currency:      account.Currency,
		Date:          today,
		Category:      core.AdjustmentCategory,
		Type:          typ,
		Status:        core.Completed,
		SystemKind:    kind,
		BusinessID:    account.BusinessID,
	}, false, true
}

// Reconcile makes the stored balance of req.AccountID equal req.Target by
// writing (or merging) an adjustment. The account is re-read under its lock
// so the plan never works on stale state.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if req.AccountID == "" {
		return ReconcileResult{}, core.Invalid("accountId", core.ErrEmptyAccount)
	}

	unlock := r.locks.Lock(req.AccountID)
	defer unlock()

	res, err := r.reconcileLocked(ctx, req)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile account %s: %w", req.AccountID, err)
	}

	if res.Adjustment != nil {
		slog.InfoContext(ctx, "Balance reconciled",
			"account_id", res.Account.ID,
			"adjustment_id", res.Adjustment.ID,
			"merged", res.Merged,
			"balance", res.Account.Balance.String())
		publish(ctx, r.publisher, amqp.EventReconciled, []string{res.Account.ID}, []string{res.Adjustment.ID})
	}
	return res, nil
}

func (r *Reconciler) reconcileLocked(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	var res ReconcileResult
	err := retryAtomically(ctx, r.store, "reconcile", func(s ledger.Store) error {
		var err error
		res, err = r.reconcileIn(ctx, s, req)
		return err
	})
	return res, err
}

// reconcileIn plans and writes the adjustment against s, which is usually a
// transaction-bound store. The caller holds the account lock.
func (r *Reconciler) reconcileIn(ctx context.Context, s ledger.Store, req ReconcileRequest) (ReconcileResult, error) {
	account, err := s.GetAccount(ctx, req.AccountID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if account.Frozen {
		return ReconcileResult{}, core.Invalid("accountId", core.ErrFrozenAccount, account.ID)
	}
	txs, err := s.ListTransactions(ctx, account.ID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list transactions: %w", err)
	}

	adj, merged, ok := PlanAdjustment(account, req.Target, txs, r.clock(), req.Kind)
	if !ok {
		return ReconcileResult{Account: account}, nil
	}

	saved, err := s.UpsertTransaction(ctx, adj)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("save adjustment: %w", err)
	}
	account, err = ledger.RefreshBalance(ctx, s, account.ID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("refresh balance: %w", err)
	}
	return ReconcileResult{Account: account, Adjustment: &saved, Merged: merged}, nil
}
