package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
)

func accountToRow(a core.Account) (AccountRow, error) {
	credit, err := nullJSON(a.Credit, a.Credit == nil)
	if err != nil {
		return AccountRow{}, fmt.Errorf("encode credit details: %w", err)
	}
	business, err := nullJSON(a.Business, a.Business == nil)
	if err != nil {
		return AccountRow{}, fmt.Errorf("encode business details: %w", err)
	}
	return AccountRow{
		ID:              a.ID,
		Name:            a.Name,
		Institution:     a.Institution,
		Type:            string(a.Type),
		Currency:        a.Currency,
		Balance:         a.Balance.String(),
		InitialBalance:  a.InitialBalance.String(),
		Frozen:          a.Frozen,
		Color:           a.Color,
		CreditDetails:   credit,
		BusinessDetails: business,
		BusinessID:      a.BusinessID,
		Version:         a.Version,
	}, nil
}

func rowToAccount(r AccountRow) (core.Account, error) {
	a := core.Account{
		ID:          r.ID,
		Name:        r.Name,
		Institution: r.Institution,
		Type:        core.AccountType(r.Type),
		Currency:    r.Currency,
		Frozen:      r.Frozen,
		Color:       r.Color,
		BusinessID:  r.BusinessID,
		Version:     r.Version,
	}
	var err error
	if a.Balance, err = decimal.NewFromString(r.Balance); err != nil {
		return core.Account{}, fmt.Errorf("decode balance of account %s: %w", r.ID, err)
	}
	if a.InitialBalance, err = decimal.NewFromString(r.InitialBalance); err != nil {
		return core.Account{}, fmt.Errorf("decode initial balance of account %s: %w", r.ID, err)
	}
	if r.CreditDetails.Valid {
		a.Credit = &core.CreditDetails{}
		if err := json.Unmarshal([]byte(r.CreditDetails.String), a.Credit); err != nil {
			return core.Account{}, fmt.Errorf("decode credit details of account %s: %w", r.ID, err)
		}
	}
	if r.BusinessDetails.Valid {
		a.Business = &core.BusinessDetails{}
		if err := json.Unmarshal([]byte(r.BusinessDetails.String), a.Business); err != nil {
			return core.Account{}, fmt.Errorf("decode business details of account %s: %w", r.ID, err)
		}
	}
	return a, nil
}

func transactionToRow(tx core.Transaction) (TransactionRow, error) {
	splits, err := nullJSON(tx.Splits, len(tx.Splits) == 0)
	if err != nil {
		return TransactionRow{}, fmt.Errorf("encode splits: %w", err)
	}
	return TransactionRow{
		ID:                 tx.ID,
		AccountID:          tx.AccountID,
		Name:               tx.Name,
		Amount:             tx.Amount,
		NumericAmount:      tx.NumericAmount.String(),
		Currency:           tx.Currency,
		ForeignAmount:      nullDecimal(tx.ForeignAmount),
		ExchangeRate:       nullDecimal(tx.ExchangeRate),
		AccountCurrency:    tx.AccountCurrency,
		Date:               tx.Date.String(),
		Category:           tx.Category,
		Type:               string(tx.Type),
		Status:             string(tx.Status),
		Splits:             splits,
		IsRecurring:        tx.IsRecurring,
		RecurringFrequency: string(tx.RecurringFrequency),
		NextRecurringDate:  tx.NextRecurringDate.String(),
		RecurringEndDate:   tx.RecurringEndDate.String(),
		TransferLinkID:     tx.TransferLinkID,
		BusinessID:         tx.BusinessID,
		SystemKind:         string(tx.SystemKind),
		Seq:                tx.Seq,
	}, nil
}

func rowToTransaction(r TransactionRow) (core.Transaction, error) {
	tx := core.Transaction{
		ID:                 r.ID,
		AccountID:          r.AccountID,
		Name:               r.Name,
		Amount:             r.Amount,
		Currency:           r.Currency,
		AccountCurrency:    r.AccountCurrency,
		Category:           r.Category,
		Type:               core.EntryType(r.Type),
		Status:             core.Status(r.Status),
		IsRecurring:        r.IsRecurring,
		RecurringFrequency: core.Frequency(r.RecurringFrequency),
		TransferLinkID:     r.TransferLinkID,
		BusinessID:         r.BusinessID,
		SystemKind:         core.SystemKind(r.SystemKind),
		Seq:                r.Seq,
	}
	var err error
	if tx.NumericAmount, err = decimal.NewFromString(r.NumericAmount); err != nil {
		return core.Transaction{}, fmt.Errorf("decode amount of transaction %s: %w", r.ID, err)
	}
	if tx.ForeignAmount, err = parseNullDecimal(r.ForeignAmount); err != nil {
		return core.Transaction{}, fmt.Errorf("decode foreign amount of transaction %s: %w", r.ID, err)
	}
	if tx.ExchangeRate, err = parseNullDecimal(r.ExchangeRate); err != nil {
		return core.Transaction{}, fmt.Errorf("decode exchange rate of transaction %s: %w", r.ID, err)
	}
	if tx.Date, err = parseOptionalDate(r.Date); err != nil {
		return core.Transaction{}, fmt.Errorf("decode date of transaction %s: %w", r.ID, err)
	}
	if tx.NextRecurringDate, err = parseOptionalDate(r.NextRecurringDate); err != nil {
		return core.Transaction{}, fmt.Errorf("decode next recurring date of transaction %s: %w", r.ID, err)
	}
	if tx.RecurringEndDate, err = parseOptionalDate(r.RecurringEndDate); err != nil {
		return core.Transaction{}, fmt.Errorf("decode recurring end date of transaction %s: %w", r.ID, err)
	}
	if r.Splits.Valid {
		if err := json.Unmarshal([]byte(r.Splits.String), &tx.Splits); err != nil {
			return core.Transaction{}, fmt.Errorf("decode splits of transaction %s: %w", r.ID, err)
		}
	}
	return tx, nil
}

func rowsToTransactions(rows []TransactionRow) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := rowToTransaction(r)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func rowToBudget(r BudgetRow) (core.BudgetCategory, error) {
	limit, err := decimal.NewFromString(r.LimitAmount)
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("decode limit of budget %s: %w", r.ID, err)
	}
	return core.BudgetCategory{
		ID:       r.ID,
		Category: r.Category,
		Type:     core.BudgetType(r.Type),
		Limit:    limit,
		Spent:    decimal.Zero,
		Color:    r.Color,
		Icon:     r.Icon,
	}, nil
}

func nullJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseOptionalDate(s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s)
}
