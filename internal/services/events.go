package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

// Publisher announces committed ledger mutations. *amqp.Client implements it.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// Clock returns the current calendar date.
type Clock func() core.Date

// SystemClock returns a Clock reading the wall clock in loc.
func SystemClock(loc *time.Location) Clock {
	return func() core.Date { return core.Today(loc) }
}

// FixedClock always returns d.
func FixedClock(d core.Date) Clock {
	return func() core.Date { return d }
}

// publish never fails the caller: the mutation is already committed.
func publish(ctx context.Context, p Publisher, kind amqp.EventKind, accountIDs, txIDs []string) {
	if p == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping ledger event", "kind", kind)
		return
	}
	if err := p.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(kind, accountIDs, txIDs)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind,
			"account_ids", accountIDs,
			"error", err)
	}
}

// retryOnConflict runs fn and, when it fails with a write conflict, runs it
// once more. fn must re-read whatever state it depends on.
func retryOnConflict(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !errors.Is(err, core.ErrConflict) {
		return err
	}
	var pf *core.PartialFailureError
	if errors.As(err, &pf) && pf.Fatal {
		return err
	}
	slog.WarnContext(ctx, "Write conflict, retrying with fresh state",
		"operation", op,
		"error", err)
	return fn()
}

// retryAtomically runs fn in one store transaction and retries it once on a
// write conflict. Stores without transactions get a single attempt, since a
// retry there could repeat writes that already landed.
func retryAtomically(ctx context.Context, store ledger.Store, op string, fn func(ledger.Store) error) error {
	if _, ok := store.(ledger.Transactor); !ok {
		return fn(store)
	}
	return retryOnConflict(ctx, op, func() error {
		return ledger.Atomically(ctx, store, fn)
	})
}
