package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	Credit     AccountType = "credit"
	Investment AccountType = "investment"
	Crypto     AccountType = "crypto"
	Business   AccountType = "business"
)

const (
	CreditEntry EntryType = "credit"
	DebitEntry  EntryType = "debit"
)

const (
	Pending   Status = "pending"
	Completed Status = "completed"
)

const (
	// StartingBalance marks the adjustment created together with a new account.
	StartingBalance SystemKind = "starting_balance"
	// BalanceAdjustment marks an adjustment created by a balance edit.
	BalanceAdjustment SystemKind = "balance_adjustment"
)

const (
	IncomeBudget  BudgetType = "income"
	ExpenseBudget BudgetType = "expense"
)

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Reserved labels of engine generated entries.
const (
	AdjustmentCategory    = "Adjustment"
	TransferCategory      = "Transfer"
	StartingBalanceName   = "Starting Balance"
	BalanceAdjustmentName = "Balance Adjustment"
)

type (
	Frequency   string
	AccountType string
	EntryType   string
	Status      string
	SystemKind  string
	BudgetType  string
	Severity    string

	CreditDetails struct {
		Limit        decimal.Decimal `json:"limit"`
		StatementDay int             `json:"statementDay,omitempty"`
		DueDay       int             `json:"dueDay,omitempty"`
		APR          decimal.Decimal `json:"apr"`
	}

	BusinessDetails struct {
		TaxID          string          `json:"taxId,omitempty"`
		EntityType     string          `json:"entityType,omitempty"`
		MonthlyFee     decimal.Decimal `json:"monthlyFee"`
		OverdraftLimit decimal.Decimal `json:"overdraftLimit"`
	}

	Account struct {
		ID             string           `json:"id"`
		Name           string           `json:"name"`
		Institution    string           `json:"institution"`
		Type           AccountType      `json:"type"`
		Currency       string           `json:"currency"`
		Balance        decimal.Decimal  `json:"balance"`
		InitialBalance decimal.Decimal  `json:"initialBalance"` // advisory only
		Frozen         bool             `json:"frozen"`
		Color          string           `json:"color,omitempty"`
		Credit         *CreditDetails   `json:"credit,omitempty"`
		Business       *BusinessDetails `json:"business,omitempty"`
		BusinessID     string           `json:"businessId,omitempty"`
		Version        int64            `json:"version"`
	}

	Split struct {
		Category string          `json:"category"`
		Amount   decimal.Decimal `json:"amount"`
	}

	Transaction struct {
		ID            string          `json:"id"`
		AccountID     string          `json:"accountId"`
		Name          string          `json:"name"`
		Amount        string          `json:"amount"` // display only
		NumericAmount decimal.Decimal `json:"numericAmount"`
		Currency      string          `json:"currency"`

		ForeignAmount   *decimal.Decimal `json:"foreignAmount,omitempty"`
		ExchangeRate    *decimal.Decimal `json:"exchangeRate,omitempty"`
		AccountCurrency string           `json:"accountCurrency,omitempty"`

		Date     Date      `json:"date"`
		Category string    `json:"category"`
		Type     EntryType `json:"type"`
		Status   Status    `json:"status"`
		Splits   []Split   `json:"splits,omitempty"`

		IsRecurring        bool      `json:"isRecurring"`
		RecurringFrequency Frequency `json:"recurringFrequency,omitempty"`
		NextRecurringDate  Date      `json:"nextRecurringDate"`
		RecurringEndDate   Date      `json:"recurringEndDate"`

		TransferLinkID string     `json:"transferLinkId,omitempty"`
		BusinessID     string     `json:"businessId,omitempty"`
		SystemKind     SystemKind `json:"systemKind,omitempty"`

		// Seq is assigned by the store on insert and breaks ties between equal dates.
		Seq int64 `json:"seq"`
	}

	BudgetCategory struct {
		ID       string          `json:"id"`
		Category string          `json:"category"`
		Type     BudgetType      `json:"type"`
		Limit    decimal.Decimal `json:"limit"`
		Spent    decimal.Decimal `json:"spent"` // derived, never persisted
		Color    string          `json:"color,omitempty"`
		Icon     string          `json:"icon,omitempty"`
	}

	AppNotification struct {
		ID            string    `json:"id"`
		Title         string    `json:"title"`
		Message       string    `json:"message"`
		Severity      Severity  `json:"severity"`
		Timestamp     time.Time `json:"timestamp"`
		Read          bool      `json:"read"`
		ActionLabel   string    `json:"actionLabel,omitempty"`
		ActionTab     string    `json:"actionTab,omitempty"`
		ActionPayload string    `json:"actionPayload,omitempty"`
	}

	// AlertFeed is the held alert list plus the ids the retention cap pushed
	// out while their condition still held.
	AlertFeed struct {
		Alerts  []AppNotification `json:"alerts"`
		Evicted []string          `json:"evicted,omitempty"`
	}
)

// IsValid reports whether f is one of the supported frequencies.
func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (t AccountType) IsValid() bool {
	switch t {
	case Checking, Savings, Credit, Investment, Crypto, Business:
		return true
	}
	return false
}

// Signed returns the effect of tx on its account balance: +amount for
// credits, -amount for debits.
func (tx Transaction) Signed() decimal.Decimal {
	if tx.Type == DebitEntry {
		return tx.NumericAmount.Neg()
	}
	return tx.NumericAmount
}

// IsSystem reports whether tx was generated by the balance reconciler.
func (tx Transaction) IsSystem() bool {
	return tx.SystemKind != ""
}

// IsTransfer reports whether tx is one leg of a transfer.
func (tx Transaction) IsTransfer() bool {
	return tx.TransferLinkID != ""
}

// SignedSum returns the balance implied by the transactions of accountID.
func SignedSum(txs []Transaction, accountID string) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.AccountID != accountID {
			continue
		}
		sum = sum.Add(tx.Signed())
	}
	return sum
}

// EntryFor returns the entry type and magnitude that produce the signed value v.
func EntryFor(v decimal.Decimal) (EntryType, decimal.Decimal) {
	if v.IsNegative() {
		return DebitEntry, v.Abs()
	}
	return CreditEntry, v
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return Invalid("name", ErrEmptyName, a.ID)
	}
	if !a.Type.IsValid() {
		return Invalid("type", ErrInvalidAccount, a.ID)
	}
	if !IsKnownCurrency(a.Currency) {
		return Invalid("currency", ErrInvalidCurrency, a.ID)
	}
	return nil
}

func (tx Transaction) Validate() error {
	if strings.TrimSpace(tx.AccountID) == "" {
		return Invalid("accountId", ErrEmptyAccount, tx.ID)
	}
	if strings.TrimSpace(tx.Name) == "" {
		return Invalid("name", ErrEmptyName, tx.ID)
	}
	if len(tx.Name) > 200 {
		return Invalid("name", ErrNameTooLong, tx.ID)
	}
	if tx.NumericAmount.IsNegative() {
		return Invalid("numericAmount", ErrInvalidAmount, tx.ID)
	}
	if tx.Type != CreditEntry && tx.Type != DebitEntry {
		return Invalid("type", ErrInvalidType, tx.ID)
	}
	if tx.Status != Pending && tx.Status != Completed {
		return Invalid("status", ErrInvalidStatus, tx.ID)
	}
	if tx.Date.IsEmpty() {
		return Invalid("date", ErrInvalidDate, tx.ID)
	}
	if err := tx.validateSplits(); err != nil {
		return err
	}
	if tx.IsRecurring {
		if !tx.RecurringFrequency.IsValid() {
			return Invalid("recurringFrequency", ErrInvalidFrequency, tx.ID)
		}
		if tx.NextRecurringDate.IsEmpty() {
			return Invalid("nextRecurringDate", ErrInvalidDate, tx.ID)
		}
	}
	return nil
}

func (tx Transaction) validateSplits() error {
	if len(tx.Splits) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, s := range tx.Splits {
		if s.Amount.IsNegative() || strings.TrimSpace(s.Category) == "" {
			return Invalid("splits", ErrSplitMismatch, tx.ID)
		}
		total = total.Add(s.Amount)
	}
	if !WithinTolerance(total, tx.NumericAmount) {
		return Invalid("splits", ErrSplitMismatch, tx.ID)
	}
	return nil
}
