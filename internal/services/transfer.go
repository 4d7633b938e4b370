package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/currency"
	"ledgerengine/internal/ledger"
	"ledgerengine/internal/log"
)

// TransferRequest moves Amount, expressed in the source account's currency,
// from SourceID to DestinationID. A zero Date means today.
type TransferRequest struct {
	SourceID      string
	DestinationID string
	Amount        decimal.Decimal
	Date          core.Date
	Description   string
}

// TransferResult holds the two persisted legs and both accounts as re-read
// after the commit.
type TransferResult struct {
	LinkID             string
	Source             core.Transaction
	Destination        core.Transaction
	SourceAccount      core.Account
	DestinationAccount core.Account
	// Rate is destination units per source unit; one when no conversion happened.
	Rate decimal.Decimal
}

// TransferOrchestrator records transfers as two linked transactions that are
// committed together or not at all.
type TransferOrchestrator struct {
	store     ledger.Store
	locks     *AccountLocks
	converter currency.Converter
	clock     Clock
	publisher Publisher
}

func NewTransferOrchestrator(store ledger.Store, locks *AccountLocks, converter currency.Converter, clock Clock, publisher Publisher) *TransferOrchestrator {
	if locks == nil {
		locks = NewAccountLocks()
	}
	if clock == nil {
		clock = SystemClock(nil)
	}
	return &TransferOrchestrator{
		store:     store,
		locks:     locks,
		converter: converter,
		clock:     clock,
		publisher: publisher,
	}
}

// Transfer validates req, converts the amount when the accounts hold
// different currencies and commits both legs. Stores implementing
// ledger.AtomicTransferer commit in one transaction; for the others a failed
// destination write deletes the source leg again and a failed delete yields
// a fatal *core.PartialFailureError.
func (o *TransferOrchestrator) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if req.SourceID == "" || req.DestinationID == "" {
		return TransferResult{}, core.Invalid("accountId", core.ErrEmptyAccount)
	}
	if !req.Amount.IsPositive() {
		return TransferResult{}, core.Invalid("amount", core.ErrInvalidAmount, req.SourceID, req.DestinationID)
	}
	if req.SourceID == req.DestinationID {
		return TransferResult{}, core.Invalid("destinationId", core.ErrSameAccount, req.SourceID)
	}
	if req.Date.IsEmpty() {
		req.Date = o.clock()
	}

	unlock := o.locks.Lock(req.SourceID, req.DestinationID)
	defer unlock()

	var res TransferResult
	attempt := func() error {
		var err error
		res, err = o.transferLocked(ctx, req)
		return err
	}
	// Without an atomic store a retry could write the legs twice.
	var err error
	if _, ok := o.store.(ledger.AtomicTransferer); ok {
		err = retryOnConflict(ctx, "transfer", attempt)
	} else {
		err = attempt()
	}
	if err != nil {
		return TransferResult{}, fmt.Errorf("transfer %s -> %s: %w", req.SourceID, req.DestinationID, err)
	}

	slog.InfoContext(ctx, "Transfer committed",
		"transfer_link_id", res.LinkID,
		"source_account_id", res.SourceAccount.ID,
		"destination_account_id", res.DestinationAccount.ID,
		"amount", res.Source.NumericAmount.String(),
		"converted", res.Destination.NumericAmount.String())
	publish(ctx, o.publisher, amqp.EventTransfer,
		[]string{res.SourceAccount.ID, res.DestinationAccount.ID},
		[]string{res.Source.ID, res.Destination.ID})
	return res, nil
}

func (o *TransferOrchestrator) transferLocked(ctx context.Context, req TransferRequest) (TransferResult, error) {
	src, err := o.store.GetAccount(ctx, req.SourceID)
	if err != nil {
		return TransferResult{}, err
	}
	dst, err := o.store.GetAccount(ctx, req.DestinationID)
	if err != nil {
		return TransferResult{}, err
	}
	var frozen []string
	for _, a := range []core.Account{src, dst} {
		if a.Frozen {
			frozen = append(frozen, a.ID)
		}
	}
	if len(frozen) > 0 {
		return TransferResult{}, core.Invalid("accountId", core.ErrFrozenAccount, frozen...)
	}

	params, rate, err := o.plan(req, src, dst)
	if err != nil {
		return TransferResult{}, err
	}

	var legs ledger.TransferLegs
	if at, ok := o.store.(ledger.AtomicTransferer); ok {
		legs, err = at.PerformTransfer(ctx, params)
		if err != nil {
			return TransferResult{}, fmt.Errorf("perform transfer: %w", err)
		}
	} else {
		legs, err = o.compensatingTransfer(ctx, params)
		if err != nil {
			return TransferResult{}, err
		}
	}

	res := TransferResult{
		LinkID:      params.LinkID,
		Source:      legs.Source,
		Destination: legs.Destination,
		Rate:        rate,
	}
	if res.SourceAccount, err = o.store.GetAccount(ctx, src.ID); err != nil {
		return TransferResult{}, fmt.Errorf("reload source account: %w", err)
	}
	if res.DestinationAccount, err = o.store.GetAccount(ctx, dst.ID); err != nil {
		return TransferResult{}, fmt.Errorf("reload destination account: %w", err)
	}
	return res, nil
}

// plan builds both legs. The converted amount is rounded to the destination
// currency's minor unit.
func (o *TransferOrchestrator) plan(req TransferRequest, src, dst core.Account) (ledger.TransferParams, decimal.Decimal, error) {
	amount := core.RoundToCurrency(req.Amount, src.Currency)
	if !amount.IsPositive() {
		return ledger.TransferParams{}, decimal.Zero, core.Invalid("amount", core.ErrInvalidAmount, src.ID, dst.ID)
	}

	converted := amount
	rate := decimal.NewFromInt(1)
	foreign := !strings.EqualFold(src.Currency, dst.Currency)
	if foreign {
		if o.converter == nil {
			return ledger.TransferParams{}, decimal.Zero, core.Invalid("currency", core.ErrInvalidCurrency, src.ID, dst.ID)
		}
		raw, err := o.converter.Convert(amount, src.Currency, dst.Currency)
		if err != nil {
			if errors.Is(err, currency.ErrUnknownCurrency) {
				return ledger.TransferParams{}, decimal.Zero, core.Invalid("currency", core.ErrInvalidCurrency, src.ID, dst.ID)
			}
			return ledger.TransferParams{}, decimal.Zero, fmt.Errorf("convert %s to %s: %w", src.Currency, dst.Currency, err)
		}
		rate = raw.Div(amount)
		converted = core.RoundToCurrency(raw, dst.Currency)
	}

	linkID := uuid.NewString()
	srcName, dstName := req.Description, req.Description
	if strings.TrimSpace(req.Description) == "" {
		srcName = "Transfer to " + dst.Name
		dstName = "Transfer from " + src.Name
	}

	source := core.Transaction{
		AccountID:      src.ID,
		Name:           srcName,
		Amount:         core.FormatAmount(amount, src.Currency),
		NumericAmount:  amount,
		Currency:       src.Currency,
		Date:           req.Date,
		Category:       core.TransferCategory,
		Type:           core.DebitEntry,
		Status:         core.Completed,
		TransferLinkID: linkID,
		BusinessID:     src.BusinessID,
	}
	destination := core.Transaction{
		AccountID:      dst.ID,
		Name:           dstName,
		Amount:         core.FormatAmount(converted, dst.Currency),
		NumericAmount:  converted,
		Currency:       dst.Currency,
		Date:           req.Date,
		Category:       core.TransferCategory,
		Type:           core.CreditEntry,
		Status:         core.Completed,
		TransferLinkID: linkID,
		BusinessID:     dst.BusinessID,
	}
	if foreign {
		fa, r := amount, rate
		destination.Currency = src.Currency
		destination.ForeignAmount = &fa
		destination.ExchangeRate = &r
		destination.AccountCurrency = dst.Currency
	}

	return ledger.TransferParams{
		LinkID:               linkID,
		SourceAccountID:      src.ID,
		DestinationAccountID: dst.ID,
		Amount:               amount,
		Date:                 req.Date,
		Description:          req.Description,
		SourceCurrency:       src.Currency,
		ConvertedAmount:      converted,
		DestinationCurrency:  dst.Currency,
		Source:               source,
		Destination:          destination,
	}, rate, nil
}

// compensatingTransfer is used for stores without atomic transfers. Once a
// leg is written nothing here is retried.
func (o *TransferOrchestrator) compensatingTransfer(ctx context.Context, p ledger.TransferParams) (ledger.TransferLegs, error) {
	src, err := o.store.UpsertTransaction(ctx, p.Source)
	if err != nil {
		return ledger.TransferLegs{}, fmt.Errorf("write source leg: %w", err)
	}

	dst, err := o.store.UpsertTransaction(ctx, p.Destination)
	if err != nil {
		pf := &core.PartialFailureError{
			LinkID:       p.LinkID,
			CommittedLeg: src.ID,
			AccountID:    src.AccountID,
			Amount:       core.FormatAmount(src.NumericAmount, p.SourceCurrency),
			Cause:        err,
		}
		if derr := o.store.DeleteTransaction(ctx, src.ID); derr != nil {
			pf.Compensation = derr
			pf.Fatal = true
			fields := log.NewFields().
				WithOperation("transfer").
				WithTransaction(src).
				WithError(err)
			slog.ErrorContext(ctx, "Transfer compensation failed, manual reconciliation required",
				append(fields.ToSlice(), "compensation_error", derr)...)
			return ledger.TransferLegs{}, pf
		}
		slog.WarnContext(ctx, "Transfer rolled back after destination write failed",
			"transfer_link_id", p.LinkID,
			"transaction_id", src.ID,
			"error", err)
		return ledger.TransferLegs{}, pf
	}

	for _, id := range []string{p.SourceAccountID, p.DestinationAccountID} {
		err := retryOnConflict(ctx, "refresh balance", func() error {
			_, err := ledger.RefreshBalance(ctx, o.store, id)
			return err
		})
		if err != nil {
			return ledger.TransferLegs{Source: src, Destination: dst}, fmt.Errorf("refresh balance %s: %w", id, err)
		}
	}
	return ledger.TransferLegs{Source: src, Destination: dst}, nil
}

// FindTransferPartner returns the other leg of tx among candidates.
func FindTransferPartner(tx core.Transaction, candidates []core.Transaction) (core.Transaction, bool) {
	if !tx.IsTransfer() {
		return core.Transaction{}, false
	}
	for _, c := range candidates {
		if c.TransferLinkID == tx.TransferLinkID && c.ID != tx.ID {
			return c, true
		}
	}
	return core.Transaction{}, false
}
