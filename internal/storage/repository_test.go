package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedAccount(t *testing.T, r *SQLiteRepository, id, currency string) core.Account {
	t.Helper()
	a, err := r.UpsertAccount(context.Background(), core.Account{ID: id, Name: id, Type: core.Checking, Currency: currency})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func TestSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	v, dirty, err := SchemaVersion(path)
	if err != nil {
		t.Fatalf("SchemaVersion() on empty db error = %v", err)
	}
	if v != 0 || dirty {
		t.Errorf("empty db version = %d dirty = %v, want 0 false", v, dirty)
	}

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	repo.Close()

	v, dirty, err = SchemaVersion(path)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 false", v, dirty)
	}
}

func TestNewSQLiteRepository_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	if _, err := repo.UpsertAccount(context.Background(), core.Account{ID: "a", Name: "Main", Type: core.Savings, Currency: "EUR"}); err != nil {
		t.Fatal(err)
	}
	repo.Close()

	// Second open runs migrations again: must be a no-op
	repo, err = NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer repo.Close()
	a, err := repo.GetAccount(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if a.Name != "Main" || a.Currency != "EUR" || a.Type != core.Savings {
		t.Errorf("account = %+v", a)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	in := core.Account{
		ID:             "card",
		Name:           "Card",
		Institution:    "Bank",
		Type:           core.Credit,
		Currency:       "USD",
		Balance:        dec("-120.55"),
		InitialBalance: dec("-100"),
		Frozen:         true,
		Color:          "#ff0000",
		Credit:         &core.CreditDetails{Limit: dec("5000"), StatementDay: 3, DueDay: 28, APR: dec("19.99")},
		BusinessID:     "biz-1",
	}
	if _, err := repo.UpsertAccount(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetAccount(ctx, "card")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(in.Balance) || !got.InitialBalance.Equal(in.InitialBalance) {
		t.Errorf("balances = %s / %s", got.Balance, got.InitialBalance)
	}
	if !got.Frozen || got.Institution != "Bank" || got.BusinessID != "biz-1" || got.Version != 1 {
		t.Errorf("account = %+v", got)
	}
	if got.Credit == nil || !got.Credit.Limit.Equal(dec("5000")) || got.Credit.DueDay != 28 {
		t.Errorf("credit = %+v", got.Credit)
	}
	if got.Business != nil {
		t.Errorf("business = %+v, want nil", got.Business)
	}
}

func TestUpsertAccountVersioning(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "a", "USD")
	if a.Version != 1 {
		t.Fatalf("new account version = %d, want 1", a.Version)
	}

	a.Name = "renamed"
	updated, err := repo.UpsertAccount(ctx, a)
	if err != nil {
		t.Fatalf("UpsertAccount() error = %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}

	_, err = repo.UpsertAccount(ctx, a)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale UpsertAccount() error = %v, want ConflictError", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"account", func() error { _, err := repo.GetAccount(ctx, "nope"); return err }},
		{"transaction", func() error { _, err := repo.GetTransaction(ctx, "nope"); return err }},
		{"delete account", func() error { return repo.DeleteAccount(ctx, "nope") }},
		{"delete transaction", func() error { return repo.DeleteTransaction(ctx, "nope") }},
		{"delete budget", func() error { return repo.DeleteBudget(ctx, "nope") }},
		{"transaction on missing account", func() error {
			_, err := repo.UpsertTransaction(ctx, core.Transaction{AccountID: "nope"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("error = %v, want not found", err)
			}
		})
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seedAccount(t, repo, "eur", "EUR")

	foreign, rate := dec("50"), dec("0.9")
	in := core.Transaction{
		AccountID:          "eur",
		Name:               "Groceries",
		Amount:             "€45.00",
		NumericAmount:      dec("45"),
		Currency:           "USD",
		ForeignAmount:      &foreign,
		ExchangeRate:       &rate,
		AccountCurrency:    "EUR",
		Date:               core.NewDate(2024, 1, 31),
		Category:           "Food",
		Type:               core.DebitEntry,
		Status:             core.Completed,
		Splits:             []core.Split{{Category: "Food", Amount: dec("30")}, {Category: "Home", Amount: dec("15")}},
		IsRecurring:        true,
		RecurringFrequency: core.Monthly,
		NextRecurringDate:  core.NewDate(2024, 2, 29),
		TransferLinkID:     "link",
	}
	saved, err := repo.UpsertTransaction(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID == "" || saved.Seq == 0 {
		t.Fatalf("saved = %+v", saved)
	}

	got, err := repo.GetTransaction(ctx, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NumericAmount.Equal(dec("45")) || got.ForeignAmount == nil || !got.ForeignAmount.Equal(foreign) {
		t.Errorf("amounts = %s / %v", got.NumericAmount, got.ForeignAmount)
	}
	if got.ExchangeRate == nil || !got.ExchangeRate.Equal(rate) || got.AccountCurrency != "EUR" {
		t.Errorf("rate = %v, account currency = %s", got.ExchangeRate, got.AccountCurrency)
	}
	if !got.Date.Equal(in.Date) || !got.NextRecurringDate.Equal(in.NextRecurringDate) || !got.RecurringEndDate.IsEmpty() {
		t.Errorf("dates = %s %s %s", got.Date, got.NextRecurringDate, got.RecurringEndDate)
	}
	if len(got.Splits) != 2 || got.Splits[1].Category != "Home" || !got.Splits[1].Amount.Equal(dec("15")) {
		t.Errorf("splits = %+v", got.Splits)
	}
	if !got.IsRecurring || got.RecurringFrequency != core.Monthly || got.Amount != "€45.00" {
		t.Errorf("transaction = %+v", got)
	}

	recurring, err := repo.ListRecurring(ctx)
	if err != nil || len(recurring) != 1 {
		t.Fatalf("ListRecurring() = %v, %v", recurring, err)
	}
	linked, err := repo.FindByTransferLink(ctx, "link")
	if err != nil || len(linked) != 1 {
		t.Fatalf("FindByTransferLink() = %v, %v", linked, err)
	}
	if none, _ := repo.FindByTransferLink(ctx, ""); none != nil {
		t.Errorf("FindByTransferLink(\"\") = %v, want nil", none)
	}
}

func TestTransactionsOrderedByDateThenInsertion(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seedAccount(t, repo, "a", "USD")
	day := core.NewDate(2024, 5, 1)

	var firstID string
	for _, name := range []string{"second-day", "first", "second"} {
		d := day
		if name == "second-day" {
			d = day.AddDays(1)
		}
		tx, err := repo.UpsertTransaction(ctx, core.Transaction{AccountID: "a", Name: name, Date: d, Type: core.CreditEntry, Status: core.Completed, NumericAmount: dec("1")})
		if err != nil {
			t.Fatal(err)
		}
		if name == "first" {
			firstID = tx.ID
		}
	}

	// Updating keeps the original seq
	first, _ := repo.GetTransaction(ctx, firstID)
	first.Name = "first"
	first.NumericAmount = dec("2")
	if _, err := repo.UpsertTransaction(ctx, first); err != nil {
		t.Fatal(err)
	}

	txs, err := repo.ListTransactions(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "second-day"}
	if len(txs) != len(want) {
		t.Fatalf("got %d transactions", len(txs))
	}
	for i := range want {
		if txs[i].Name != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, txs[i].Name, want[i])
		}
	}
}

func TestDeleteAccountRemovesTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seedAccount(t, repo, "a", "USD")
	seedAccount(t, repo, "b", "USD")
	for _, id := range []string{"a", "b"} {
		if _, err := repo.UpsertTransaction(ctx, core.Transaction{AccountID: id, Name: "x", Date: core.NewDate(2024, 1, 1), Type: core.CreditEntry, Status: core.Completed, NumericAmount: dec("5")}); err != nil {
			t.Fatal(err)
		}
	}

	if err := repo.DeleteAccount(ctx, "a"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	all, _ := repo.ListAllTransactions(ctx)
	if len(all) != 1 || all[0].AccountID != "b" {
		t.Fatalf("remaining = %+v", all)
	}
	accounts, _ := repo.ListAccounts(ctx)
	if len(accounts) != 1 || accounts[0].ID != "b" {
		t.Fatalf("accounts = %+v", accounts)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seedAccount(t, repo, "a", "USD")
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(st ledger.Store) error {
		if _, err := st.UpsertTransaction(ctx, core.Transaction{AccountID: "a", Name: "x", Date: core.NewDate(2024, 1, 1), Type: core.CreditEntry, Status: core.Completed, NumericAmount: dec("5")}); err != nil {
			return err
		}
		if _, err := ledger.RefreshBalance(ctx, st, "a"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() = %v", err)
	}
	txs, _ := repo.ListTransactions(ctx, "a")
	if len(txs) != 0 {
		t.Fatalf("rolled back tx still visible: %v", txs)
	}
	a, _ := repo.GetAccount(ctx, "a")
	if !a.Balance.IsZero() || a.Version != 1 {
		t.Fatalf("account = %+v, want untouched", a)
	}
}

func TestPerformTransfer(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seedAccount(t, repo, "a", "USD")
	seedAccount(t, repo, "b", "USD")
	day := core.NewDate(2024, 1, 1)

	legs, err := repo.PerformTransfer(ctx, ledger.TransferParams{
		LinkID:               "link",
		SourceAccountID:      "a",
		DestinationAccountID: "b",
		Source:               core.Transaction{AccountID: "a", Name: "t", Date: day, Type: core.DebitEntry, Status: core.Completed, NumericAmount: dec("50"), TransferLinkID: "link"},
		Destination:          core.Transaction{AccountID: "b", Name: "t", Date: day, Type: core.CreditEntry, Status: core.Completed, NumericAmount: dec("50"), TransferLinkID: "link"},
	})
	if err != nil {
		t.Fatalf("PerformTransfer() error = %v", err)
	}
	if legs.Source.ID == "" || legs.Destination.ID == "" {
		t.Fatal("legs without ids")
	}
	a, _ := repo.GetAccount(ctx, "a")
	b, _ := repo.GetAccount(ctx, "b")
	if !a.Balance.Equal(dec("-50")) || !b.Balance.Equal(dec("50")) {
		t.Fatalf("balances a=%s b=%s", a.Balance, b.Balance)
	}

	t.Run("atomic on failure", func(t *testing.T) {
		_, err := repo.PerformTransfer(ctx, ledger.TransferParams{
			SourceAccountID:      "a",
			DestinationAccountID: "missing",
			Source:               core.Transaction{AccountID: "a", Name: "t", Date: day, Type: core.DebitEntry, Status: core.Completed, NumericAmount: dec("10")},
			Destination:          core.Transaction{AccountID: "missing", Name: "t", Date: day, Type: core.CreditEntry, Status: core.Completed, NumericAmount: dec("10")},
		})
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("error = %v, want not found", err)
		}
		txs, _ := repo.ListTransactions(ctx, "a")
		if len(txs) != 1 {
			t.Fatalf("partial transfer persisted: %d transactions on a", len(txs))
		}
	})
}

func TestConcurrentUpsertsAssignDistinctSeq(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seedAccount(t, repo, "a", "USD")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpsertTransaction(ctx, core.Transaction{AccountID: "a", Name: "x", Date: core.NewDate(2024, 1, 1), Type: core.CreditEntry, Status: core.Completed, NumericAmount: dec("1")})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	txs, _ := repo.ListTransactions(ctx, "a")
	seen := map[int64]bool{}
	for _, tx := range txs {
		if seen[tx.Seq] {
			t.Fatalf("duplicate seq %d", tx.Seq)
		}
		seen[tx.Seq] = true
	}
	if len(seen) != 10 {
		t.Fatalf("got %d transactions, want 10", len(seen))
	}
}

func TestBudgets(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	food, err := repo.UpsertBudget(ctx, core.BudgetCategory{Category: "Food", Type: core.ExpenseBudget, Limit: dec("500"), Spent: dec("20")})
	if err != nil {
		t.Fatal(err)
	}
	if !food.Spent.IsZero() {
		t.Errorf("Spent = %s, want 0", food.Spent)
	}
	if _, err := repo.UpsertBudget(ctx, core.BudgetCategory{Category: "Food", Type: core.ExpenseBudget}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("duplicate budget error = %v", err)
	}

	food.Limit = dec("650")
	if _, err := repo.UpsertBudget(ctx, food); err != nil {
		t.Fatalf("update budget error = %v", err)
	}
	budgets, _ := repo.ListBudgets(ctx)
	if len(budgets) != 1 || !budgets[0].Limit.Equal(dec("650")) {
		t.Fatalf("budgets = %+v", budgets)
	}

	if err := repo.DeleteBudget(ctx, food.ID); err != nil {
		t.Fatal(err)
	}
	if budgets, _ := repo.ListBudgets(ctx); len(budgets) != 0 {
		t.Fatalf("budgets after delete = %+v", budgets)
	}
}

func TestAlertFeed(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	empty, err := repo.LoadAlertFeed(ctx)
	if err != nil || len(empty.Alerts) != 0 {
		t.Fatalf("LoadAlertFeed() on empty store = %+v, %v", empty, err)
	}

	feed := core.AlertFeed{
		Alerts: []core.AppNotification{{
			ID:        "budget-1",
			Title:     "Budget exceeded",
			Severity:  core.Critical,
			Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			Read:      true,
		}},
		Evicted: []string{"rec-due-x-2024-03-01"},
	}
	if err := repo.SaveAlertFeed(ctx, feed); err != nil {
		t.Fatal(err)
	}
	feed.Alerts[0].Read = false
	feed.Alerts = append(feed.Alerts, core.AppNotification{ID: "budget-2", Severity: core.Warning})
	if err := repo.SaveAlertFeed(ctx, feed); err != nil {
		t.Fatal(err)
	}

	got, err := repo.LoadAlertFeed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Alerts) != 2 || got.Alerts[0].Read || got.Alerts[1].ID != "budget-2" {
		t.Errorf("alerts = %+v", got.Alerts)
	}
	if len(got.Evicted) != 1 || got.Evicted[0] != "rec-due-x-2024-03-01" {
		t.Errorf("evicted = %v", got.Evicted)
	}
}
