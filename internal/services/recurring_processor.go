package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

// RecurringProcessorConfig holds configuration for the recurring processor
type RecurringProcessorConfig struct {
	// Interval is how often due templates are checked (default: 1h)
	Interval time.Duration

	// Concurrency is the max number of accounts processed at once (default: 4)
	Concurrency int
}

// DefaultRecurringProcessorConfig returns sensible defaults
func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		Interval:    time.Hour,
		Concurrency: 4,
	}
}

// errNotDue is returned inside a unit of work when the template was already
// advanced by someone else.
var errNotDue = errors.New("template not due")

// RecurringProcessor materializes payments from recurring templates, either
// on demand (PayRecurring) or periodically (Start).
type RecurringProcessor struct {
	store     ledger.Store
	locks     *AccountLocks
	clock     Clock
	publisher Publisher
	config    RecurringProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecurringProcessor(store ledger.Store, locks *AccountLocks, clock Clock, publisher Publisher, config RecurringProcessorConfig) *RecurringProcessor {
	if locks == nil {
		locks = NewAccountLocks()
	}
	if clock == nil {
		clock = SystemClock(nil)
	}
	if config.Interval <= 0 {
		config.Interval = DefaultRecurringProcessorConfig().Interval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &RecurringProcessor{
		store:     store,
		locks:     locks,
		clock:     clock,
		publisher: publisher,
		config:    config,
	}
}

// PayRecurring records one occurrence of the template now, regardless of
// whether it is due, and advances the template's next date.
func (p *RecurringProcessor) PayRecurring(ctx context.Context, templateID string) (core.Transaction, error) {
	tmpl, err := p.store.GetTransaction(ctx, templateID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("pay recurring %s: %w", templateID, err)
	}

	unlock := p.locks.Lock(tmpl.AccountID)
	defer unlock()

	payment, err := p.payLocked(ctx, templateID, p.clock(), false)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("pay recurring %s: %w", templateID, err)
	}
	publish(ctx, p.publisher, amqp.EventRecurringPaid, []string{payment.AccountID}, []string{payment.ID, templateID})
	return payment, nil
}

// payLocked writes the payment before advancing the template so that a
// crash in between can only leave the template due again, never skip a
// payment. Both writes share one store transaction when available.
func (p *RecurringProcessor) payLocked(ctx context.Context, templateID string, today core.Date, onlyIfDue bool) (core.Transaction, error) {
	var payment core.Transaction
	err := retryAtomically(ctx, p.store, "pay recurring", func(st ledger.Store) error {
		tmpl, err := st.GetTransaction(ctx, templateID)
		if err != nil {
			return err
		}
		if !tmpl.IsRecurring {
			return core.Invalid("id", core.ErrNotRecurring, tmpl.ID)
		}
		if State(tmpl) == RecurringCompleted {
			return core.Invalid("id", core.ErrRecurringComplete, tmpl.ID)
		}
		if onlyIfDue && !IsDue(tmpl, today) {
			return errNotDue
		}
		account, err := st.GetAccount(ctx, tmpl.AccountID)
		if err != nil {
			return err
		}
		if account.Frozen {
			return core.Invalid("accountId", core.ErrFrozenAccount, account.ID)
		}

		from := tmpl.NextRecurringDate
		if from.IsEmpty() {
			from = tmpl.Date
		}
		next, err := Advance(from, tmpl.RecurringFrequency)
		if err != nil {
			return core.Invalid("recurringFrequency", core.ErrInvalidFrequency, tmpl.ID)
		}

		payment, err = st.UpsertTransaction(ctx, Materialize(tmpl, today, ""))
		if err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		tmpl.NextRecurringDate = next
		if _, err := st.UpsertTransaction(ctx, tmpl); err != nil {
			return fmt.Errorf("advance template: %w", err)
		}
		if _, err := ledger.RefreshBalance(ctx, st, account.ID); err != nil {
			return fmt.Errorf("refresh balance: %w", err)
		}
		return nil
	})
	return payment, err
}

// ProcessDue materializes one occurrence of every template due on today.
// Templates are grouped per account; accounts run concurrently up to
// Concurrency and each account's templates run serially under its lock.
// Failures are logged and skipped. It returns the number of payments made.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, today core.Date) (int, error) {
	templates, err := p.store.ListRecurring(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring templates: %w", err)
	}

	byAccount := make(map[string][]core.Transaction)
	due := 0
	for _, t := range templates {
		if IsDue(t, today) {
			byAccount[t.AccountID] = append(byAccount[t.AccountID], t)
			due++
		}
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		"total_active", len(templates),
		"due", due,
		"accounts", len(byAccount),
		"processing_date", today.String())

	var (
		g         errgroup.Group
		processed atomic.Int64
	)
	g.SetLimit(p.config.Concurrency)

	for accountID, tmpls := range byAccount {
		accountID, tmpls := accountID, tmpls
		g.Go(func() error {
			processed.Add(int64(p.processAccount(ctx, accountID, tmpls, today)))
			return nil
		})
	}
	_ = g.Wait()

	n := int(processed.Load())
	slog.InfoContext(ctx, "Recurring processing complete",
		"processed", n,
		"total_checked", len(templates))
	return n, ctx.Err()
}

func (p *RecurringProcessor) processAccount(ctx context.Context, accountID string, tmpls []core.Transaction, today core.Date) int {
	unlock := p.locks.Lock(accountID)
	defer unlock()

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load account for recurring templates",
			"account_id", accountID,
			"error", err)
		return 0
	}
	if account.Frozen {
		slog.WarnContext(ctx, "Skipping recurring templates of frozen account",
			"account_id", accountID,
			"templates", len(tmpls))
		return 0
	}

	processed := 0
	for _, t := range tmpls {
		if ctx.Err() != nil {
			return processed
		}
		payment, err := p.payLocked(ctx, t.ID, today, true)
		if errors.Is(err, errNotDue) {
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to materialize recurring template",
				"template_id", t.ID,
				"name", t.Name,
				"error", err)
			continue
		}
		processed++
		slog.InfoContext(ctx, "Created payment from recurring template",
			"template_id", t.ID,
			"transaction_id", payment.ID,
			"name", t.Name,
			"amount", payment.NumericAmount.String(),
			"frequency", t.RecurringFrequency)
		publish(ctx, p.publisher, amqp.EventRecurringPaid, []string{accountID}, []string{payment.ID, t.ID})
	}
	return processed
}

// StopRecurring turns a template back into a plain transaction.
func (p *RecurringProcessor) StopRecurring(ctx context.Context, templateID string) (core.Transaction, error) {
	tmpl, err := p.store.GetTransaction(ctx, templateID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("stop recurring %s: %w", templateID, err)
	}

	unlock := p.locks.Lock(tmpl.AccountID)
	defer unlock()

	var stopped core.Transaction
	err = retryAtomically(ctx, p.store, "stop recurring", func(st ledger.Store) error {
		tmpl, err := st.GetTransaction(ctx, templateID)
		if err != nil {
			return err
		}
		if !tmpl.IsRecurring {
			return core.Invalid("id", core.ErrNotRecurring, tmpl.ID)
		}
		tmpl.IsRecurring = false
		tmpl.RecurringFrequency = ""
		tmpl.NextRecurringDate = core.Date{}
		stopped, err = st.UpsertTransaction(ctx, tmpl)
		return err
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("stop recurring %s: %w", templateID, err)
	}

	slog.InfoContext(ctx, "Recurring template stopped", "template_id", templateID)
	publish(ctx, p.publisher, amqp.EventRecurringStopped, []string{stopped.AccountID}, []string{stopped.ID})
	return stopped, nil
}

// Start begins the periodic loop. Returns an error if already running.
func (p *RecurringProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("recurring processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Recurring processor started",
		"interval", p.config.Interval,
		"concurrency", p.config.Concurrency)
	return nil
}

// Stop signals the loop and waits for the current tick. When ctx ends first
// the loop keeps shutting down in the background; Stop may be called again
// to keep waiting.
func (p *RecurringProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
		slog.InfoContext(ctx, "Recurring processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recurring processor stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is currently running
func (p *RecurringProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecurringProcessor) runLoop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.stopCh = nil
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *RecurringProcessor) tick(ctx context.Context) {
	if _, err := p.ProcessDue(ctx, p.clock()); err != nil {
		slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
	}
}
