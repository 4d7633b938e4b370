package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledgerengine/internal/core"
	"ledgerengine/internal/currency"
	"ledgerengine/internal/ledger"
)

const (
	// DefaultAlertCap is how many alerts the feed retains.
	DefaultAlertCap = 10
	// maxEvicted bounds the ids remembered for alerts pushed out by the cap.
	maxEvicted = 200
)

// AlertInput is the state alerts are derived from. Budgets must already
// carry Spent (see ComputeSpent).
type AlertInput struct {
	Budgets      []core.BudgetCategory
	Transactions []core.Transaction
	Today        core.Date
	Now          time.Time
	// Cap defaults to DefaultAlertCap.
	Cap int
	// Currency formats budget excesses.
	Currency string
}

// BudgetAlertID and RecurringAlertID are deterministic so that deriving twice
// from the same state yields the same ids.
func BudgetAlertID(categoryID string) string { return "budget-" + categoryID }

func RecurringAlertID(txID string, due core.Date) string {
	return fmt.Sprintf("rec-due-%s-%s", txID, due.String())
}

// BudgetAlerts returns a critical alert for every expense budget whose spent
// amount exceeds a positive limit.
func BudgetAlerts(budgets []core.BudgetCategory, currencyCode string, now time.Time) []core.AppNotification {
	var out []core.AppNotification
	for _, b := range budgets {
		if b.Type == core.IncomeBudget || !b.Limit.IsPositive() || !b.Spent.GreaterThan(b.Limit) {
			continue
		}
		excess := b.Spent.Sub(b.Limit)
		out = append(out, core.AppNotification{
			ID:            BudgetAlertID(b.ID),
			Title:         "Budget exceeded: " + b.Category,
			Message:       fmt.Sprintf("You are %s over your %s budget this month.", core.FormatAmount(excess, currencyCode), b.Category),
			Severity:      core.Critical,
			Timestamp:     now,
			ActionLabel:   "View budget",
			ActionTab:     "budgets",
			ActionPayload: b.ID,
		})
	}
	return out
}

// RecurringAlerts returns a warning for every recurring template due on or
// before today.
func RecurringAlerts(txs []core.Transaction, today core.Date, now time.Time) []core.AppNotification {
	var out []core.AppNotification
	for _, tx := range txs {
		if !IsDue(tx, today) {
			continue
		}
		out = append(out, core.AppNotification{
			ID:            RecurringAlertID(tx.ID, tx.NextRecurringDate),
			Title:         "Recurring payment due",
			Message:       fmt.Sprintf("%s (%s) was due on %s.", tx.Name, core.FormatAmount(tx.NumericAmount, tx.Currency), tx.NextRecurringDate),
			Severity:      core.Warning,
			Timestamp:     now,
			ActionLabel:   "Pay now",
			ActionTab:     "transactions",
			ActionPayload: tx.ID,
		})
	}
	return out
}

// DeriveAlerts merges the alerts implied by in into feed. Alerts already held
// keep their read flag and position; new ones are prepended and the list is
// truncated to the cap. Ids pushed out by the cap are remembered while their
// condition holds so they are not raised again, which makes the function
// idempotent: deriving twice from the same input changes nothing.
func DeriveAlerts(feed core.AlertFeed, in AlertInput) core.AlertFeed {
	limit := in.Cap
	if limit <= 0 {
		limit = DefaultAlertCap
	}

	candidates := append(BudgetAlerts(in.Budgets, in.Currency, in.Now), RecurringAlerts(in.Transactions, in.Today, in.Now)...)
	active := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		active[c.ID] = true
	}

	known := make(map[string]bool, len(feed.Alerts)+len(feed.Evicted))
	for _, a := range feed.Alerts {
		known[a.ID] = true
	}
	for _, id := range feed.Evicted {
		known[id] = true
	}

	alerts := make([]core.AppNotification, 0, len(candidates)+len(feed.Alerts))
	for _, c := range candidates {
		if !known[c.ID] {
			alerts = append(alerts, c)
			known[c.ID] = true
		}
	}
	alerts = append(alerts, feed.Alerts...)

	var evicted []string
	if len(alerts) > limit {
		for _, a := range alerts[limit:] {
			if active[a.ID] {
				evicted = append(evicted, a.ID)
			}
		}
		alerts = alerts[:limit]
	}
	for _, id := range feed.Evicted {
		if active[id] {
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > maxEvicted {
		evicted = evicted[:maxEvicted]
	}

	return core.AlertFeed{Alerts: alerts, Evicted: evicted}
}

// AlertStore is what AlertService needs from the backend.
type AlertStore interface {
	ListAllTransactions(ctx context.Context) ([]core.Transaction, error)
	ledger.BudgetStore
	ledger.AlertFeedStore
}

// AlertService keeps the persisted alert feed in line with the ledger.
type AlertService struct {
	store     AlertStore
	converter currency.Converter
	currency  string
	limit     int

	// Serializes load-derive-save cycles.
	mu sync.Mutex
}

// NewAlertService creates an alert service. Budget spending is normalized to
// baseCurrency with converter; a nil converter sums amounts as recorded.
func NewAlertService(store AlertStore, converter currency.Converter, baseCurrency string, limit int) *AlertService {
	if limit <= 0 {
		limit = DefaultAlertCap
	}
	return &AlertService{
		store:     store,
		converter: converter,
		currency:  baseCurrency,
		limit:     limit,
	}
}

// Refresh recomputes spending and due templates and merges the resulting
// alerts into the stored feed.
func (s *AlertService) Refresh(ctx context.Context, today core.Date) (core.AlertFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	budgets, err := s.store.ListBudgets(ctx)
	if err != nil {
		return core.AlertFeed{}, fmt.Errorf("list budgets: %w", err)
	}
	txs, err := s.store.ListAllTransactions(ctx)
	if err != nil {
		return core.AlertFeed{}, fmt.Errorf("list transactions: %w", err)
	}
	feed, err := s.store.LoadAlertFeed(ctx)
	if err != nil {
		return core.AlertFeed{}, fmt.Errorf("load alert feed: %w", err)
	}

	next := DeriveAlerts(feed, AlertInput{
		Budgets:      ComputeSpent(budgets, s.normalize(ctx, txs), today),
		Transactions: txs,
		Today:        today,
		Now:          time.Now(),
		Cap:          s.limit,
		Currency:     s.currency,
	})
	if err := s.store.SaveAlertFeed(ctx, next); err != nil {
		return core.AlertFeed{}, fmt.Errorf("save alert feed: %w", err)
	}

	slog.InfoContext(ctx, "Alerts refreshed",
		"held", len(next.Alerts),
		"new", newAlerts(feed, next),
		"evicted", len(next.Evicted))
	return next, nil
}

func newAlerts(before, after core.AlertFeed) int {
	held := make(map[string]bool, len(before.Alerts))
	for _, a := range before.Alerts {
		held[a.ID] = true
	}
	n := 0
	for _, a := range after.Alerts {
		if !held[a.ID] {
			n++
		}
	}
	return n
}

// normalize converts amounts recorded in another currency to the base
// currency so budgets compare like with like.
func (s *AlertService) normalize(ctx context.Context, txs []core.Transaction) []core.Transaction {
	if s.converter == nil || s.currency == "" {
		return txs
	}
	out := make([]core.Transaction, len(txs))
	for i, tx := range txs {
		from := tx.AccountCurrency
		if from == "" {
			from = tx.Currency
		}
		if from == "" || from == s.currency {
			out[i] = tx
			continue
		}
		amount, err := s.converter.Convert(tx.NumericAmount, from, s.currency)
		if err != nil {
			slog.WarnContext(ctx, "Cannot convert transaction for budgets, using recorded amount",
				"transaction_id", tx.ID,
				"currency", from,
				"error", err)
			out[i] = tx
			continue
		}
		tx.NumericAmount = amount
		if len(tx.Splits) > 0 {
			splits := make([]core.Split, len(tx.Splits))
			for j, sp := range tx.Splits {
				splits[j] = sp
				if v, err := s.converter.Convert(sp.Amount, from, s.currency); err == nil {
					splits[j].Amount = v
				}
			}
			tx.Splits = splits
		}
		out[i] = tx
	}
	return out
}

// Alerts returns the stored feed.
func (s *AlertService) Alerts(ctx context.Context) ([]core.AppNotification, error) {
	feed, err := s.store.LoadAlertFeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alert feed: %w", err)
	}
	return feed.Alerts, nil
}

// MarkRead flags one alert as read.
func (s *AlertService) MarkRead(ctx context.Context, id string) error {
	return s.update(ctx, func(feed *core.AlertFeed) error {
		for i := range feed.Alerts {
			if feed.Alerts[i].ID == id {
				feed.Alerts[i].Read = true
				return nil
			}
		}
		return &core.NotFoundError{Entity: "alert", ID: id}
	})
}

// MarkAllRead flags every held alert as read.
func (s *AlertService) MarkAllRead(ctx context.Context) error {
	return s.update(ctx, func(feed *core.AlertFeed) error {
		for i := range feed.Alerts {
			feed.Alerts[i].Read = true
		}
		return nil
	})
}

func (s *AlertService) update(ctx context.Context, fn func(*core.AlertFeed) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, err := s.store.LoadAlertFeed(ctx)
	if err != nil {
		return fmt.Errorf("load alert feed: %w", err)
	}
	if err := fn(&feed); err != nil {
		return err
	}
	if err := s.store.SaveAlertFeed(ctx, feed); err != nil {
		return fmt.Errorf("save alert feed: %w", err)
	}
	return nil
}
