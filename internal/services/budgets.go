package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

// countsTowardBudget excludes money that only moves between the user's own
// accounts or exists to fix a balance.
func countsTowardBudget(tx core.Transaction) bool {
	return !tx.IsTransfer() && !tx.IsSystem()
}

// SummarizeMonth totals debits (Expense) and credits (Income) per category for
// the month containing month. Split transactions contribute each split to its
// own category. Lists are sorted by amount descending, then name.
func SummarizeMonth(txs []core.Transaction, month core.Date) core.MonthOverview {
	income := map[string]decimal.Decimal{}
	expense := map[string]decimal.Decimal{}

	for _, tx := range txs {
		if !tx.Date.SameMonth(month) || !countsTowardBudget(tx) {
			continue
		}
		target := income
		if tx.Type == core.DebitEntry {
			target = expense
		}
		if len(tx.Splits) > 0 {
			for _, s := range tx.Splits {
				target[s.Category] = target[s.Category].Add(s.Amount)
			}
			continue
		}
		target[tx.Category] = target[tx.Category].Add(tx.NumericAmount)
	}

	return core.MonthOverview{
		Year:    month.Year(),
		Month:   month.Month(),
		Income:  sortedAmounts(income),
		Expense: sortedAmounts(expense),
	}
}

func sortedAmounts(m map[string]decimal.Decimal) []core.CategoryAmount {
	out := make([]core.CategoryAmount, 0, len(m))
	for name, amount := range m {
		out = append(out, core.CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ComputeSpent returns a copy of budgets with Spent set for the month
// containing today: debits for expense budgets, credits for income budgets.
func ComputeSpent(budgets []core.BudgetCategory, txs []core.Transaction, today core.Date) []core.BudgetCategory {
	overview := SummarizeMonth(txs, today)
	out := make([]core.BudgetCategory, len(budgets))
	for i, b := range budgets {
		if b.Type == core.IncomeBudget {
			b.Spent = overview.IncomeFor(b.Category)
		} else {
			b.Spent = overview.ExpenseFor(b.Category)
		}
		out[i] = b
	}
	return out
}

// BudgetStore is what BudgetService needs from the backend.
type BudgetStore interface {
	ledger.BudgetStore
	ListAllTransactions(ctx context.Context) ([]core.Transaction, error)
}

// BudgetService manages budget categories. Spent is never stored; it is
// recomputed from transactions on every read.
type BudgetService struct {
	store     BudgetStore
	clock     Clock
	publisher Publisher
}

func NewBudgetService(store BudgetStore, clock Clock, publisher Publisher) *BudgetService {
	if clock == nil {
		clock = SystemClock(nil)
	}
	return &BudgetService{store: store, clock: clock, publisher: publisher}
}

// ListBudgets returns every budget with Spent for the current month.
func (s *BudgetService) ListBudgets(ctx context.Context) ([]core.BudgetCategory, error) {
	budgets, err := s.store.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	txs, err := s.store.ListAllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return ComputeSpent(budgets, txs, s.clock()), nil
}

// SaveBudget creates or updates a budget category.
func (s *BudgetService) SaveBudget(ctx context.Context, b core.BudgetCategory) (core.BudgetCategory, error) {
	b.Category = strings.TrimSpace(b.Category)
	if b.Category == "" {
		return core.BudgetCategory{}, core.Invalid("category", core.ErrEmptyName, b.ID)
	}
	if b.Type != core.IncomeBudget && b.Type != core.ExpenseBudget {
		return core.BudgetCategory{}, core.Invalid("type", core.ErrInvalidType, b.ID)
	}
	if b.Limit.IsNegative() {
		return core.BudgetCategory{}, core.Invalid("limit", core.ErrInvalidAmount, b.ID)
	}

	saved, err := s.store.UpsertBudget(ctx, b)
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("save budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget saved",
		"budget_id", saved.ID,
		"category", saved.Category,
		"limit", saved.Limit.String())
	publish(ctx, s.publisher, amqp.EventBudgetChanged, nil, nil)
	return saved, nil
}

func (s *BudgetService) DeleteBudget(ctx context.Context, id string) error {
	if err := s.store.DeleteBudget(ctx, id); err != nil {
		return fmt.Errorf("delete budget %s: %w", id, err)
	}
	publish(ctx, s.publisher, amqp.EventBudgetChanged, nil, nil)
	return nil
}
