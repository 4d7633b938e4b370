// Package worker turns ledger events into alert feed refreshes.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/log"
	"ledgerengine/internal/services"
)

// AlertRefresher re-derives the alert feed. *services.AlertService implements it.
type AlertRefresher interface {
	Refresh(ctx context.Context, today core.Date) (core.AlertFeed, error)
}

// Deduper remembers recently handled event ids. *cache.LRUCache implements it.
type Deduper interface {
	Seen(key string) bool
	Delete(key string)
}

// AlertWorker refreshes the alert feed once per distinct ledger event.
type AlertWorker struct {
	alerts AlertRefresher
	dedup  Deduper
	clock  services.Clock
}

func NewAlertWorker(alerts AlertRefresher, dedup Deduper, clock services.Clock) *AlertWorker {
	if clock == nil {
		clock = services.SystemClock(nil)
	}
	return &AlertWorker{
		alerts: alerts,
		dedup:  dedup,
		clock:  clock,
	}
}

// HandleLedgerEvent processes a single ledger event from AMQP. Redelivered
// events are acknowledged without work; a failed refresh forgets the id so
// the requeued delivery is handled again.
func (w *AlertWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	if w.dedup != nil && ev.ID != "" && w.dedup.Seen(ev.ID) {
		slog.DebugContext(ctx, "Skipping duplicate ledger event",
			"event_id", ev.ID,
			"kind", ev.Kind)
		return nil
	}

	slog.InfoContext(ctx, "Processing ledger event",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"account_ids", ev.AccountIDs)

	feed, err := w.alerts.Refresh(ctx, w.clock())
	if err != nil {
		if w.dedup != nil && ev.ID != "" {
			w.dedup.Delete(ev.ID)
		}
		fields := log.NewFields().WithEvent(ev.ID, string(ev.Kind)).WithError(err)
		slog.WarnContext(ctx, "Alert refresh failed, event will be retried", fields.ToSlice()...)
		return fmt.Errorf("refresh alerts for event %s: %w", ev.ID, err)
	}

	slog.InfoContext(ctx, "Alert feed refreshed",
		"event_id", ev.ID,
		"alerts", len(feed.Alerts))
	return nil
}

// StartupRefresh derives the feed once before consuming, covering events
// published while the worker was down.
func (w *AlertWorker) StartupRefresh(ctx context.Context) error {
	feed, err := w.alerts.Refresh(ctx, w.clock())
	if err != nil {
		return fmt.Errorf("startup alert refresh: %w", err)
	}
	slog.InfoContext(ctx, "Startup alert refresh completed", "alerts", len(feed.Alerts))
	return nil
}
