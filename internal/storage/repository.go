// Package storage is the SQLite ledger store. Amounts are stored as decimal
// TEXT, dates as YYYY-MM-DD, splits and account details as JSON.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"

	_ "modernc.org/sqlite"
)

var (
	_ ledger.FullStore  = (*SQLiteRepository)(nil)
	_ ledger.Store      = (*store)(nil)
	_ ledger.Transactor = (*store)(nil)
)

// SQLiteRepository uses a single connection, so callbacks passed to
// WithinTx must only use the Store they are given.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	store
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %q: %w", pragma, err)
		}
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	version, _, err := SchemaVersion(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	queries := New(db)
	slog.Info("SQLite ledger store opened", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{
		db:      db,
		queries: queries,
		store:   store{q: queries},
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithinTx implements ledger.Transactor. fn's error rolls everything back.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&store{q: r.queries.WithTx(tx)}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PerformTransfer implements ledger.AtomicTransferer.
func (r *SQLiteRepository) PerformTransfer(ctx context.Context, p ledger.TransferParams) (ledger.TransferLegs, error) {
	var legs ledger.TransferLegs
	err := r.WithinTx(ctx, func(s ledger.Store) error {
		var err error
		legs, err = s.(*store).PerformTransfer(ctx, p)
		return err
	})
	if err != nil {
		return ledger.TransferLegs{}, err
	}
	slog.InfoContext(ctx, "Transfer committed to SQLite",
		"transfer_link_id", p.LinkID,
		"source_tx", legs.Source.ID,
		"destination_tx", legs.Destination.ID)
	return legs, nil
}

// DeleteAccount removes the account and its transactions in one transaction.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id string) error {
	return r.WithinTx(ctx, func(s ledger.Store) error { return s.DeleteAccount(ctx, id) })
}

// UpsertTransaction runs in a transaction so seq assignment cannot race.
func (r *SQLiteRepository) UpsertTransaction(ctx context.Context, in core.Transaction) (core.Transaction, error) {
	var out core.Transaction
	err := r.WithinTx(ctx, func(s ledger.Store) error {
		var err error
		out, err = s.UpsertTransaction(ctx, in)
		return err
	})
	return out, err
}

// store runs queries against either the database or an open transaction.
type store struct {
	q *Queries
}

// WithinTx on a transaction-bound store runs fn in the enclosing transaction.
func (s *store) WithinTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(s)
}

func (s *store) PerformTransfer(ctx context.Context, p ledger.TransferParams) (ledger.TransferLegs, error) {
	src, err := s.UpsertTransaction(ctx, p.Source)
	if err != nil {
		return ledger.TransferLegs{}, fmt.Errorf("insert source leg: %w", err)
	}
	dst, err := s.UpsertTransaction(ctx, p.Destination)
	if err != nil {
		return ledger.TransferLegs{}, fmt.Errorf("insert destination leg: %w", err)
	}
	for _, id := range []string{p.SourceAccountID, p.DestinationAccountID} {
		if _, err := ledger.RefreshBalance(ctx, s, id); err != nil {
			return ledger.TransferLegs{}, fmt.Errorf("refresh balance %s: %w", id, err)
		}
	}
	return ledger.TransferLegs{Source: src, Destination: dst}, nil
}

func (s *store) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row, err := s.q.GetAccount(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, &core.NotFoundError{Entity: "account", ID: id}
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return rowToAccount(row)
}

func (s *store) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := s.q.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]core.Account, 0, len(rows))
	for _, row := range rows {
		a, err := rowToAccount(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpsertAccount inserts at version 1 or updates when the versions match.
func (s *store) UpsertAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	stored, err := s.q.GetAccountVersion(ctx, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		a.Version = 1
		row, err := accountToRow(a)
		if err != nil {
			return core.Account{}, err
		}
		if err := s.q.InsertAccount(ctx, row); err != nil {
			return core.Account{}, fmt.Errorf("insert account: %w", err)
		}
		return a, nil
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account version: %w", err)
	}
	if stored != a.Version {
		return core.Account{}, &core.ConflictError{Entity: "account", ID: a.ID, Expected: a.Version, Actual: stored}
	}

	row, err := accountToRow(a)
	if err != nil {
		return core.Account{}, err
	}
	n, err := s.q.UpdateAccount(ctx, row)
	if err != nil {
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		actual, _ := s.q.GetAccountVersion(ctx, a.ID)
		return core.Account{}, &core.ConflictError{Entity: "account", ID: a.ID, Expected: a.Version, Actual: actual}
	}
	a.Version++
	return a, nil
}

func (s *store) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.q.GetAccountVersion(ctx, id); errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Entity: "account", ID: id}
	} else if err != nil {
		return fmt.Errorf("get account version: %w", err)
	}
	if err := s.q.DeleteAccountTransactions(ctx, id); err != nil {
		return fmt.Errorf("delete account transactions: %w", err)
	}
	if _, err := s.q.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *store) ListTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	rows, err := s.q.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return rowsToTransactions(rows)
}

func (s *store) ListAllTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := s.q.ListAllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all transactions: %w", err)
	}
	return rowsToTransactions(rows)
}

func (s *store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row, err := s.q.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return rowToTransaction(row)
}

// UpsertTransaction assigns seq on first insert and keeps it afterwards.
func (s *store) UpsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if _, err := s.q.GetAccountVersion(ctx, tx.AccountID); errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.NotFoundError{Entity: "account", ID: tx.AccountID}
	} else if err != nil {
		return core.Transaction{}, fmt.Errorf("get account version: %w", err)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	seq, err := s.q.GetTransactionSeq(ctx, tx.ID)
	if errors.Is(err, sql.ErrNoRows) {
		seq, err = s.q.NextTransactionSeq(ctx)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("assign seq: %w", err)
	}
	tx.Seq = seq

	row, err := transactionToRow(tx)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := s.q.UpsertTransaction(ctx, row); err != nil {
		return core.Transaction{}, fmt.Errorf("upsert transaction: %w", err)
	}
	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"transaction_id", tx.ID,
		"account_id", tx.AccountID,
		"seq", tx.Seq)
	return tx, nil
}

func (s *store) DeleteTransaction(ctx context.Context, id string) error {
	n, err := s.q.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Entity: "transaction", ID: id}
	}
	return nil
}

func (s *store) FindByTransferLink(ctx context.Context, linkID string) ([]core.Transaction, error) {
	if linkID == "" {
		return nil, nil
	}
	rows, err := s.q.ListByTransferLink(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("find by transfer link: %w", err)
	}
	return rowsToTransactions(rows)
}

func (s *store) ListRecurring(ctx context.Context) ([]core.Transaction, error) {
	rows, err := s.q.ListRecurring(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recurring: %w", err)
	}
	return rowsToTransactions(rows)
}

func (s *store) ListBudgets(ctx context.Context) ([]core.BudgetCategory, error) {
	rows, err := s.q.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.BudgetCategory, 0, len(rows))
	for _, row := range rows {
		b, err := rowToBudget(row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// UpsertBudget rejects a second budget for an existing category. Spent is
// never persisted.
func (s *store) UpsertBudget(ctx context.Context, b core.BudgetCategory) (core.BudgetCategory, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	existing, err := s.q.GetBudgetIDByCategory(ctx, b.Category)
	switch {
	case err == nil && existing != b.ID:
		return core.BudgetCategory{}, core.Invalid("category", fmt.Errorf("budget for %q already exists", b.Category), existing)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return core.BudgetCategory{}, fmt.Errorf("get budget by category: %w", err)
	}

	err = s.q.UpsertBudget(ctx, BudgetRow{
		ID:          b.ID,
		Category:    b.Category,
		Type:        string(b.Type),
		LimitAmount: b.Limit.String(),
		Color:       b.Color,
		Icon:        b.Icon,
	})
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("upsert budget: %w", err)
	}
	b.Spent = decimal.Zero
	return b, nil
}

func (s *store) DeleteBudget(ctx context.Context, id string) error {
	n, err := s.q.DeleteBudget(ctx, id)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Entity: "budget", ID: id}
	}
	return nil
}

func (s *store) LoadAlertFeed(ctx context.Context) (core.AlertFeed, error) {
	row, err := s.q.GetAlertFeed(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AlertFeed{}, nil
	}
	if err != nil {
		return core.AlertFeed{}, fmt.Errorf("get alert feed: %w", err)
	}
	var feed core.AlertFeed
	if err := json.Unmarshal([]byte(row.Alerts), &feed.Alerts); err != nil {
		return core.AlertFeed{}, fmt.Errorf("decode alerts: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Evicted), &feed.Evicted); err != nil {
		return core.AlertFeed{}, fmt.Errorf("decode evicted alert ids: %w", err)
	}
	return feed, nil
}

func (s *store) SaveAlertFeed(ctx context.Context, feed core.AlertFeed) error {
	alerts, err := json.Marshal(feed.Alerts)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	evicted, err := json.Marshal(feed.Evicted)
	if err != nil {
		return fmt.Errorf("encode evicted alert ids: %w", err)
	}
	if err := s.q.SaveAlertFeed(ctx, AlertFeedRow{Alerts: string(alerts), Evicted: string(evicted)}); err != nil {
		return fmt.Errorf("save alert feed: %w", err)
	}
	return nil
}
