package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// AccountRow mirrors the accounts table. Decimals are stored as TEXT.
type AccountRow struct {
	ID              string
	Name            string
	Institution     string
	Type            string
	Currency        string
	Balance         string
	InitialBalance  string
	Frozen          bool
	Color           string
	CreditDetails   sql.NullString
	BusinessDetails sql.NullString
	BusinessID      string
	Version         int64
}

// TransactionRow mirrors the transactions table.
type TransactionRow struct {
	ID                 string
	AccountID          string
	Name               string
	Amount             string
	NumericAmount      string
	Currency           string
	ForeignAmount      sql.NullString
	ExchangeRate       sql.NullString
	AccountCurrency    string
	Date               string
	Category           string
	Type               string
	Status             string
	Splits             sql.NullString
	IsRecurring        bool
	RecurringFrequency string
	NextRecurringDate  string
	RecurringEndDate   string
	TransferLinkID     string
	BusinessID         string
	SystemKind         string
	Seq                int64
}

type BudgetRow struct {
	ID          string
	Category    string
	Type        string
	LimitAmount string
	Color       string
	Icon        string
}

type AlertFeedRow struct {
	Alerts  string
	Evicted string
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, name, institution, type, currency, balance, initial_balance, frozen, color,
    credit_details, business_details, business_id, version`

func scanAccount(s scanner) (AccountRow, error) {
	var i AccountRow
	err := s.Scan(
		&i.ID,
		&i.Name,
		&i.Institution,
		&i.Type,
		&i.Currency,
		&i.Balance,
		&i.InitialBalance,
		&i.Frozen,
		&i.Color,
		&i.CreditDetails,
		&i.BusinessDetails,
		&i.BusinessID,
		&i.Version,
	)
	return i, err
}

const getAccount = `-- name: GetAccount :one
SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

func (q *Queries) GetAccount(ctx context.Context, id string) (AccountRow, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccount, id))
}

const listAccounts = `-- name: ListAccounts :many
SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

func (q *Queries) ListAccounts(ctx context.Context) ([]AccountRow, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccountRow
	for rows.Next() {
		i, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const getAccountVersion = `-- name: GetAccountVersion :one
SELECT version FROM accounts WHERE id = ?`

func (q *Queries) GetAccountVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, getAccountVersion, id).Scan(&version)
	return version, err
}

const insertAccount = `-- name: InsertAccount :exec
INSERT INTO accounts (` + accountColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertAccount(ctx context.Context, a AccountRow) error {
	_, err := q.db.ExecContext(ctx, insertAccount,
		a.ID, a.Name, a.Institution, a.Type, a.Currency, a.Balance, a.InitialBalance,
		a.Frozen, a.Color, a.CreditDetails, a.BusinessDetails, a.BusinessID, a.Version,
	)
	return err
}

const updateAccount = `-- name: UpdateAccount :execrows
UPDATE accounts
SET name = ?, institution = ?, type = ?, currency = ?, balance = ?, initial_balance = ?,
    frozen = ?, color = ?, credit_details = ?, business_details = ?, business_id = ?,
    version = version + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND version = ?`

// UpdateAccount returns the number of rows changed; zero means the version moved.
func (q *Queries) UpdateAccount(ctx context.Context, a AccountRow) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateAccount,
		a.Name, a.Institution, a.Type, a.Currency, a.Balance, a.InitialBalance,
		a.Frozen, a.Color, a.CreditDetails, a.BusinessDetails, a.BusinessID,
		a.ID, a.Version,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteAccount = `-- name: DeleteAccount :execrows
DELETE FROM accounts WHERE id = ?`

func (q *Queries) DeleteAccount(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteAccount, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteAccountTransactions = `-- name: DeleteAccountTransactions :exec
DELETE FROM transactions WHERE account_id = ?`

func (q *Queries) DeleteAccountTransactions(ctx context.Context, accountID string) error {
	_, err := q.db.ExecContext(ctx, deleteAccountTransactions, accountID)
	return err
}

const transactionColumns = `id, account_id, name, amount, numeric_amount, currency, foreign_amount, exchange_rate,
    account_currency, date, category, type, status, splits, is_recurring, recurring_frequency,
    next_recurring_date, recurring_end_date, transfer_link_id, business_id, system_kind, seq`

func scanTransaction(s scanner) (TransactionRow, error) {
	var i TransactionRow
	err := s.Scan(
		&i.ID,
		&i.AccountID,
		&i.Name,
		&i.Amount,
		&i.NumericAmount,
		&i.Currency,
		&i.ForeignAmount,
		&i.ExchangeRate,
		&i.AccountCurrency,
		&i.Date,
		&i.Category,
		&i.Type,
		&i.Status,
		&i.Splits,
		&i.IsRecurring,
		&i.RecurringFrequency,
		&i.NextRecurringDate,
		&i.RecurringEndDate,
		&i.TransferLinkID,
		&i.BusinessID,
		&i.SystemKind,
		&i.Seq,
	)
	return i, err
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...interface{}) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

const listTransactionsByAccount = `-- name: ListTransactionsByAccount :many
SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = ? ORDER BY date, seq`

func (q *Queries) ListTransactionsByAccount(ctx context.Context, accountID string) ([]TransactionRow, error) {
	return q.listTransactions(ctx, listTransactionsByAccount, accountID)
}

const listAllTransactions = `-- name: ListAllTransactions :many
SELECT ` + transactionColumns + ` FROM transactions ORDER BY date, seq`

func (q *Queries) ListAllTransactions(ctx context.Context) ([]TransactionRow, error) {
	return q.listTransactions(ctx, listAllTransactions)
}

const listByTransferLink = `-- name: ListByTransferLink :many
SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_link_id = ? ORDER BY date, seq`

func (q *Queries) ListByTransferLink(ctx context.Context, linkID string) ([]TransactionRow, error) {
	return q.listTransactions(ctx, listByTransferLink, linkID)
}

const listRecurring = `-- name: ListRecurring :many
SELECT ` + transactionColumns + ` FROM transactions WHERE is_recurring = 1 ORDER BY date, seq`

func (q *Queries) ListRecurring(ctx context.Context) ([]TransactionRow, error) {
	return q.listTransactions(ctx, listRecurring)
}

const getTransactionSeq = `-- name: GetTransactionSeq :one
SELECT seq FROM transactions WHERE id = ?`

func (q *Queries) GetTransactionSeq(ctx context.Context, id string) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, getTransactionSeq, id).Scan(&seq)
	return seq, err
}

const nextTransactionSeq = `-- name: NextTransactionSeq :one
SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions`

func (q *Queries) NextTransactionSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, nextTransactionSeq).Scan(&seq)
	return seq, err
}

const upsertTransaction = `-- name: UpsertTransaction :exec
INSERT INTO transactions (` + transactionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    account_id = excluded.account_id,
    name = excluded.name,
    amount = excluded.amount,
    numeric_amount = excluded.numeric_amount,
    currency = excluded.currency,
    foreign_amount = excluded.foreign_amount,
    exchange_rate = excluded.exchange_rate,
    account_currency = excluded.account_currency,
    date = excluded.date,
    category = excluded.category,
    type = excluded.type,
    status = excluded.status,
    splits = excluded.splits,
    is_recurring = excluded.is_recurring,
    recurring_frequency = excluded.recurring_frequency,
    next_recurring_date = excluded.next_recurring_date,
    recurring_end_date = excluded.recurring_end_date,
    transfer_link_id = excluded.transfer_link_id,
    business_id = excluded.business_id,
    system_kind = excluded.system_kind`

// UpsertTransaction keeps the stored seq on update.
func (q *Queries) UpsertTransaction(ctx context.Context, t TransactionRow) error {
	_, err := q.db.ExecContext(ctx, upsertTransaction,
		t.ID, t.AccountID, t.Name, t.Amount, t.NumericAmount, t.Currency, t.ForeignAmount,
		t.ExchangeRate, t.AccountCurrency, t.Date, t.Category, t.Type, t.Status, t.Splits,
		t.IsRecurring, t.RecurringFrequency, t.NextRecurringDate, t.RecurringEndDate,
		t.TransferLinkID, t.BusinessID, t.SystemKind, t.Seq,
	)
	return err
}

const deleteTransaction = `-- name: DeleteTransaction :execrows
DELETE FROM transactions WHERE id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listBudgets = `-- name: ListBudgets :many
SELECT id, category, type, limit_amount, color, icon FROM budgets ORDER BY category`

func (q *Queries) ListBudgets(ctx context.Context) ([]BudgetRow, error) {
	rows, err := q.db.QueryContext(ctx, listBudgets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetRow
	for rows.Next() {
		var i BudgetRow
		if err := rows.Scan(&i.ID, &i.Category, &i.Type, &i.LimitAmount, &i.Color, &i.Icon); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const getBudgetIDByCategory = `-- name: GetBudgetIDByCategory :one
SELECT id FROM budgets WHERE category = ?`

func (q *Queries) GetBudgetIDByCategory(ctx context.Context, category string) (string, error) {
	var id string
	err := q.db.QueryRowContext(ctx, getBudgetIDByCategory, category).Scan(&id)
	return id, err
}

const upsertBudget = `-- name: UpsertBudget :exec
INSERT INTO budgets (id, category, type, limit_amount, color, icon)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    category = excluded.category,
    type = excluded.type,
    limit_amount = excluded.limit_amount,
    color = excluded.color,
    icon = excluded.icon`

func (q *Queries) UpsertBudget(ctx context.Context, b BudgetRow) error {
	_, err := q.db.ExecContext(ctx, upsertBudget, b.ID, b.Category, b.Type, b.LimitAmount, b.Color, b.Icon)
	return err
}

const deleteBudget = `-- name: DeleteBudget :execrows
DELETE FROM budgets WHERE id = ?`

func (q *Queries) DeleteBudget(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteBudget, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getAlertFeed = `-- name: GetAlertFeed :one
SELECT alerts, evicted FROM alert_feed WHERE id = 1`

func (q *Queries) GetAlertFeed(ctx context.Context) (AlertFeedRow, error) {
	var i AlertFeedRow
	err := q.db.QueryRowContext(ctx, getAlertFeed).Scan(&i.Alerts, &i.Evicted)
	return i, err
}

const saveAlertFeed = `-- name: SaveAlertFeed :exec
INSERT INTO alert_feed (id, alerts, evicted) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    alerts = excluded.alerts,
    evicted = excluded.evicted,
    updated_at = CURRENT_TIMESTAMP`

func (q *Queries) SaveAlertFeed(ctx context.Context, f AlertFeedRow) error {
	_, err := q.db.ExecContext(ctx, saveAlertFeed, f.Alerts, f.Evicted)
	return err
}
