package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// MonthOverview is a compact summary for a specific year+month. Expense
// holds debit totals per category, Income credit totals per category.
type MonthOverview struct {
	Year    int
	Month   int // 1-12
	Income  []CategoryAmount
	Expense []CategoryAmount
}

// ExpenseFor returns the debit total recorded for category, zero when absent.
func (o MonthOverview) ExpenseFor(category string) decimal.Decimal {
	return amountFor(o.Expense, category)
}

// IncomeFor returns the credit total recorded for category, zero when absent.
func (o MonthOverview) IncomeFor(category string) decimal.Decimal {
	return amountFor(o.Income, category)
}

func amountFor(list []CategoryAmount, category string) decimal.Decimal {
	for _, ca := range list {
		if ca.Name == category {
			return ca.Amount
		}
	}
	return decimal.Zero
}
