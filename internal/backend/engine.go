package backend

import (
	"ledgerengine/internal/currency"
	"ledgerengine/internal/ledger"
	"ledgerengine/internal/services"
)

// EngineOptions are the non-store dependencies of the services.
type EngineOptions struct {
	Clock        services.Clock
	Converter    currency.Converter
	BaseCurrency string
	AlertCap     int
	Recurring    services.RecurringProcessorConfig
}

// Engine wires every service around one store and one set of account locks,
// so operations on the same account serialize across services.
type Engine struct {
	Locks        *services.AccountLocks
	Reconciler   *services.Reconciler
	Accounts     *services.AccountService
	Transactions *services.TransactionService
	Transfers    *services.TransferOrchestrator
	Recurring    *services.RecurringProcessor
	Budgets      *services.BudgetService
	Alerts       *services.AlertService
}

// NewEngine builds the services. publisher may be nil.
func NewEngine(store ledger.FullStore, publisher services.Publisher, opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = services.SystemClock(nil)
	}
	if opts.AlertCap <= 0 {
		opts.AlertCap = services.DefaultAlertCap
	}
	if opts.Recurring.Interval <= 0 {
		opts.Recurring = services.DefaultRecurringProcessorConfig()
	}

	locks := services.NewAccountLocks()
	reconciler := services.NewReconciler(store, locks, opts.Clock, publisher)
	return &Engine{
		Locks:        locks,
		Reconciler:   reconciler,
		Accounts:     services.NewAccountService(store, reconciler, publisher),
		Transactions: services.NewTransactionService(store, locks, publisher),
		Transfers:    services.NewTransferOrchestrator(store, locks, opts.Converter, opts.Clock, publisher),
		Recurring:    services.NewRecurringProcessor(store, locks, opts.Clock, publisher, opts.Recurring),
		Budgets:      services.NewBudgetService(store, opts.Clock, publisher),
		Alerts:       services.NewAlertService(store, opts.Converter, opts.BaseCurrency, opts.AlertCap),
	}
}
