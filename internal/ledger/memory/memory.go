// Package memory is an in-process ledger store. Reads return copies, writes
// inside WithinTx are applied to a private snapshot that replaces the live
// state only when the callback succeeds.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

type state struct {
	accounts map[string]core.Account
	txs      map[string]core.Transaction
	budgets  map[string]core.BudgetCategory
	feed     core.AlertFeed
	seq      int64
}

func newState() *state {
	return &state{
		accounts: map[string]core.Account{},
		txs:      map[string]core.Transaction{},
		budgets:  map[string]core.BudgetCategory{},
	}
}

func (st *state) clone() *state {
	cp := &state{
		accounts: make(map[string]core.Account, len(st.accounts)),
		txs:      make(map[string]core.Transaction, len(st.txs)),
		budgets:  make(map[string]core.BudgetCategory, len(st.budgets)),
		feed:     cloneFeed(st.feed),
		seq:      st.seq,
	}
	for k, v := range st.accounts {
		cp.accounts[k] = cloneAccount(v)
	}
	for k, v := range st.txs {
		cp.txs[k] = cloneTx(v)
	}
	for k, v := range st.budgets {
		cp.budgets[k] = v
	}
	return cp
}

var (
	_ ledger.FullStore  = (*Store)(nil)
	_ ledger.Store      = (*view)(nil)
	_ ledger.Transactor = (*view)(nil)
)

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// Seed is the JSON layout accepted by NewFromFile.
type Seed struct {
	Accounts     []core.Account        `json:"accounts"`
	Transactions []core.Transaction    `json:"transactions"`
	Budgets      []core.BudgetCategory `json:"budgets"`
}

// NewFromFile returns a store seeded from a JSON file. A missing file yields
// an empty store. Account balances are recomputed from the seeded
// transactions; seeded balances are ignored.
func NewFromFile(path string) (*Store, error) {
	s := New()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	v := &view{st: s.st}
	ctx := context.Background()
	for _, a := range seed.Accounts {
		a.Version = 0
		if _, err := v.UpsertAccount(ctx, a); err != nil {
			return nil, fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}
	for _, tx := range seed.Transactions {
		if _, err := v.UpsertTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("seed transaction %s: %w", tx.ID, err)
		}
	}
	for _, a := range v.st.accounts {
		if _, err := ledger.RefreshBalance(ctx, v, a.ID); err != nil {
			return nil, fmt.Errorf("seed balance %s: %w", a.ID, err)
		}
	}
	for _, b := range seed.Budgets {
		if _, err := v.UpsertBudget(ctx, b); err != nil {
			return nil, fmt.Errorf("seed budget %s: %w", b.ID, err)
		}
	}
	return s, nil
}

func (s *Store) do(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{st: s.st})
}

// WithinTx implements ledger.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.st.clone()
	if err := fn(&view{st: cp}); err != nil {
		return err
	}
	s.st = cp
	return nil
}

// PerformTransfer implements ledger.AtomicTransferer.
func (s *Store) PerformTransfer(ctx context.Context, p ledger.TransferParams) (ledger.TransferLegs, error) {
	var legs ledger.TransferLegs
	err := s.WithinTx(ctx, func(st ledger.Store) error {
		var err error
		legs, err = st.(*view).PerformTransfer(ctx, p)
		return err
	})
	return legs, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (a core.Account, err error) {
	err = s.do(func(v *view) error { a, err = v.GetAccount(ctx, id); return err })
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context) (out []core.Account, err error) {
	err = s.do(func(v *view) error { out, err = v.ListAccounts(ctx); return err })
	return out, err
}

func (s *Store) UpsertAccount(ctx context.Context, account core.Account) (a core.Account, err error) {
	err = s.do(func(v *view) error { a, err = v.UpsertAccount(ctx, account); return err })
	return a, err
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.do(func(v *view) error { return v.DeleteAccount(ctx, id) })
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) (out []core.Transaction, err error) {
	err = s.do(func(v *view) error { out, err = v.ListTransactions(ctx, accountID); return err })
	return out, err
}

func (s *Store) ListAllTransactions(ctx context.Context) (out []core.Transaction, err error) {
	err = s.do(func(v *view) error { out, err = v.ListAllTransactions(ctx); return err })
	return out, err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (tx core.Transaction, err error) {
	err = s.do(func(v *view) error { tx, err = v.GetTransaction(ctx, id); return err })
	return tx, err
}

func (s *Store) UpsertTransaction(ctx context.Context, in core.Transaction) (tx core.Transaction, err error) {
	err = s.do(func(v *view) error { tx, err = v.UpsertTransaction(ctx, in); return err })
	return tx, err
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	return s.do(func(v *view) error { return v.DeleteTransaction(ctx, id) })
}

func (s *Store) FindByTransferLink(ctx context.Context, linkID string) (out []core.Transaction, err error) {
	err = s.do(func(v *view) error { out, err = v.FindByTransferLink(ctx, linkID); return err })
	return out, err
}

func (s *Store) ListRecurring(ctx context.Context) (out []core.Transaction, err error) {
	err = s.do(func(v *view) error { out, err = v.ListRecurring(ctx); return err })
	return out, err
}

func (s *Store) ListBudgets(ctx context.Context) (out []core.BudgetCategory, err error) {
	err = s.do(func(v *view) error { out, err = v.ListBudgets(ctx); return err })
	return out, err
}

func (s *Store) UpsertBudget(ctx context.Context, in core.BudgetCategory) (b core.BudgetCategory, err error) {
	err = s.do(func(v *view) error { b, err = v.UpsertBudget(ctx, in); return err })
	return b, err
}

func (s *Store) DeleteBudget(ctx context.Context, id string) error {
	return s.do(func(v *view) error { return v.DeleteBudget(ctx, id) })
}

func (s *Store) LoadAlertFeed(ctx context.Context) (feed core.AlertFeed, err error) {
	err = s.do(func(v *view) error { feed, err = v.LoadAlertFeed(ctx); return err })
	return feed, err
}

func (s *Store) SaveAlertFeed(ctx context.Context, feed core.AlertFeed) error {
	return s.do(func(v *view) error { return v.SaveAlertFeed(ctx, feed) })
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// view operates on a state without locking; the owner holds the lock.
type view struct {
	st *state
}

// WithinTx on a view runs fn in the enclosing transaction.
func (v *view) WithinTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}

func (v *view) PerformTransfer(ctx context.Context, p ledger.TransferParams) (ledger.TransferLegs, error) {
	src, err := v.UpsertTransaction(ctx, p.Source)
	if err != nil {
		return ledger.TransferLegs{}, fmt.Errorf("insert source leg: %w", err)
	}
	dst, err := v.UpsertTransaction(ctx, p.Destination)
	if err != nil {
		return ledger.TransferLegs{}, fmt.Errorf("insert destination leg: %w", err)
	}
	for _, id := range []string{p.SourceAccountID, p.DestinationAccountID} {
		if _, err := ledger.RefreshBalance(ctx, v, id); err != nil {
			return ledger.TransferLegs{}, fmt.Errorf("refresh balance %s: %w", id, err)
		}
	}
	return ledger.TransferLegs{Source: src, Destination: dst}, nil
}

func (v *view) GetAccount(_ context.Context, id string) (core.Account, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return core.Account{}, &core.NotFoundError{Entity: "account", ID: id}
	}
	return cloneAccount(a), nil
}

func (v *view) ListAccounts(_ context.Context) ([]core.Account, error) {
	out := make([]core.Account, 0, len(v.st.accounts))
	for _, a := range v.st.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) UpsertAccount(_ context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if stored, ok := v.st.accounts[a.ID]; ok {
		if stored.Version != a.Version {
			return core.Account{}, &core.ConflictError{Entity: "account", ID: a.ID, Expected: a.Version, Actual: stored.Version}
		}
	} else {
		a.Version = 0
	}
	a.Version++
	v.st.accounts[a.ID] = cloneAccount(a)
	return cloneAccount(a), nil
}

func (v *view) DeleteAccount(_ context.Context, id string) error {
	if _, ok := v.st.accounts[id]; !ok {
		return &core.NotFoundError{Entity: "account", ID: id}
	}
	delete(v.st.accounts, id)
	for txID, tx := range v.st.txs {
		if tx.AccountID == id {
			delete(v.st.txs, txID)
		}
	}
	return nil
}

func (v *view) ListTransactions(_ context.Context, accountID string) ([]core.Transaction, error) {
	return v.filter(func(tx core.Transaction) bool { return tx.AccountID == accountID }), nil
}

func (v *view) ListAllTransactions(_ context.Context) ([]core.Transaction, error) {
	return v.filter(func(core.Transaction) bool { return true }), nil
}

func (v *view) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	tx, ok := v.st.txs[id]
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	return cloneTx(tx), nil
}

func (v *view) UpsertTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if _, ok := v.st.accounts[tx.AccountID]; !ok {
		return core.Transaction{}, &core.NotFoundError{Entity: "account", ID: tx.AccountID}
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if stored, ok := v.st.txs[tx.ID]; ok {
		tx.Seq = stored.Seq
	} else {
		v.st.seq++
		tx.Seq = v.st.seq
	}
	v.st.txs[tx.ID] = cloneTx(tx)
	return cloneTx(tx), nil
}

func (v *view) DeleteTransaction(_ context.Context, id string) error {
	if _, ok := v.st.txs[id]; !ok {
		return &core.NotFoundError{Entity: "transaction", ID: id}
	}
	delete(v.st.txs, id)
	return nil
}

func (v *view) FindByTransferLink(_ context.Context, linkID string) ([]core.Transaction, error) {
	if linkID == "" {
		return nil, nil
	}
	return v.filter(func(tx core.Transaction) bool { return tx.TransferLinkID == linkID }), nil
}

func (v *view) ListRecurring(_ context.Context) ([]core.Transaction, error) {
	return v.filter(func(tx core.Transaction) bool { return tx.IsRecurring }), nil
}

func (v *view) ListBudgets(_ context.Context) ([]core.BudgetCategory, error) {
	out := make([]core.BudgetCategory, 0, len(v.st.budgets))
	for _, b := range v.st.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (v *view) UpsertBudget(_ context.Context, b core.BudgetCategory) (core.BudgetCategory, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	for id, other := range v.st.budgets {
		if id != b.ID && other.Category == b.Category {
			return core.BudgetCategory{}, core.Invalid("category", fmt.Errorf("budget for %q already exists", b.Category), id)
		}
	}
	b.Spent = decimal.Zero // never persisted
	v.st.budgets[b.ID] = b
	return b, nil
}

func (v *view) DeleteBudget(_ context.Context, id string) error {
	if _, ok := v.st.budgets[id]; !ok {
		return &core.NotFoundError{Entity: "budget", ID: id}
	}
	delete(v.st.budgets, id)
	return nil
}

func (v *view) LoadAlertFeed(_ context.Context) (core.AlertFeed, error) {
	return cloneFeed(v.st.feed), nil
}

func (v *view) SaveAlertFeed(_ context.Context, feed core.AlertFeed) error {
	v.st.feed = cloneFeed(feed)
	return nil
}

func (v *view) filter(keep func(core.Transaction) bool) []core.Transaction {
	var out []core.Transaction
	for _, tx := range v.st.txs {
		if keep(tx) {
			out = append(out, cloneTx(tx))
		}
	}
	sortTransactions(out)
	return out
}

func sortTransactions(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].Seq < txs[j].Seq
	})
}

func cloneTx(tx core.Transaction) core.Transaction {
	if tx.Splits != nil {
		tx.Splits = append([]core.Split(nil), tx.Splits...)
	}
	if tx.ForeignAmount != nil {
		v := *tx.ForeignAmount
		tx.ForeignAmount = &v
	}
	if tx.ExchangeRate != nil {
		v := *tx.ExchangeRate
		tx.ExchangeRate = &v
	}
	return tx
}

func cloneAccount(a core.Account) core.Account {
	if a.Credit != nil {
		c := *a.Credit
		a.Credit = &c
	}
	if a.Business != nil {
		b := *a.Business
		a.Business = &b
	}
	return a
}

func cloneFeed(f core.AlertFeed) core.AlertFeed {
	return core.AlertFeed{
		Alerts:  append([]core.AppNotification(nil), f.Alerts...),
		Evicted: append([]string(nil), f.Evicted...),
	}
}
