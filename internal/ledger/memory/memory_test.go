package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedAccount(t *testing.T, s *Store, id string) core.Account {
	t.Helper()
	a, err := s.UpsertAccount(context.Background(), core.Account{ID: id, Name: id, Type: core.Checking, Currency: "USD"})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func TestUpsertAccountVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := seedAccount(t, s, "a")
	if a.Version != 1 {
		t.Fatalf("new account version = %d, want 1", a.Version)
	}

	a.Name = "renamed"
	updated, err := s.UpsertAccount(ctx, a)
	if err != nil {
		t.Fatalf("UpsertAccount() error = %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}

	// a still carries version 1: stale write
	_, err = s.UpsertAccount(ctx, a)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale UpsertAccount() error = %v, want ConflictError", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestTransactionsOrderedByDateThenInsertion(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s, "a")
	day := core.NewDate(2024, 5, 1)
	for _, name := range []string{"second-day", "first", "second"} {
		d := day
		if name == "second-day" {
			d = day.AddDays(1)
		}
		if _, err := s.UpsertTransaction(ctx, core.Transaction{AccountID: "a", Name: name, Date: d, Type: core.CreditEntry, NumericAmount: dec("1")}); err != nil {
			t.Fatal(err)
		}
	}
	txs, err := s.ListTransactions(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	got := []string{txs[0].Name, txs[1].Name, txs[2].Name}
	want := []string{"first", "second", "second-day"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUpsertTransactionUnknownAccount(t *testing.T) {
	s := New()
	_, err := s.UpsertTransaction(context.Background(), core.Transaction{AccountID: "missing"})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s, "a")
	tx, err := s.UpsertTransaction(ctx, core.Transaction{
		AccountID: "a", Name: "x", Date: core.NewDate(2024, 1, 1), Type: core.DebitEntry, NumericAmount: dec("10"),
		Splits: []core.Split{{Category: "A", Amount: dec("10")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetTransaction(ctx, tx.ID)
	got.Splits[0].Category = "mutated"
	again, _ := s.GetTransaction(ctx, tx.ID)
	if again.Splits[0].Category != "A" {
		t.Fatal("store state leaked through returned slice")
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s, "a")
	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(st ledger.Store) error {
		if _, err := st.UpsertTransaction(ctx, core.Transaction{AccountID: "a", Name: "x", Date: core.NewDate(2024, 1, 1), Type: core.CreditEntry, NumericAmount: dec("5")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() = %v", err)
	}
	txs, _ := s.ListTransactions(ctx, "a")
	if len(txs) != 0 {
		t.Fatalf("rolled back tx still visible: %v", txs)
	}
}

func TestPerformTransferUpdatesBalances(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s, "a")
	seedAccount(t, s, "b")
	day := core.NewDate(2024, 1, 1)
	legs, err := s.PerformTransfer(ctx, ledger.TransferParams{
		LinkID:               "link",
		SourceAccountID:      "a",
		DestinationAccountID: "b",
		Source:               core.Transaction{AccountID: "a", Name: "t", Date: day, Type: core.DebitEntry, NumericAmount: dec("50"), TransferLinkID: "link"},
		Destination:          core.Transaction{AccountID: "b", Name: "t", Date: day, Type: core.CreditEntry, NumericAmount: dec("50"), TransferLinkID: "link"},
	})
	if err != nil {
		t.Fatalf("PerformTransfer() error = %v", err)
	}
	if legs.Source.ID == "" || legs.Destination.ID == "" {
		t.Fatal("legs without ids")
	}
	a, _ := s.GetAccount(ctx, "a")
	b, _ := s.GetAccount(ctx, "b")
	if !a.Balance.Equal(dec("-50")) || !b.Balance.Equal(dec("50")) {
		t.Fatalf("balances a=%s b=%s", a.Balance, b.Balance)
	}
	linked, _ := s.FindByTransferLink(ctx, "link")
	if len(linked) != 2 {
		t.Fatalf("FindByTransferLink() = %d legs, want 2", len(linked))
	}
}

func TestPerformTransferAtomicOnFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s, "a")
	day := core.NewDate(2024, 1, 1)
	_, err := s.PerformTransfer(ctx, ledger.TransferParams{
		SourceAccountID:      "a",
		DestinationAccountID: "missing",
		Source:               core.Transaction{AccountID: "a", Name: "t", Date: day, Type: core.DebitEntry, NumericAmount: dec("50")},
		Destination:          core.Transaction{AccountID: "missing", Name: "t", Date: day, Type: core.CreditEntry, NumericAmount: dec("50")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	txs, _ := s.ListAllTransactions(ctx)
	if len(txs) != 0 {
		t.Fatalf("partial transfer persisted: %v", txs)
	}
}

func TestBudgetCategoryUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.UpsertBudget(ctx, core.BudgetCategory{Category: "Food", Type: core.ExpenseBudget, Limit: dec("500"), Spent: dec("20")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertBudget(ctx, core.BudgetCategory{Category: "Food", Type: core.ExpenseBudget}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("duplicate budget error = %v", err)
	}
	budgets, _ := s.ListBudgets(ctx)
	if len(budgets) != 1 || !budgets[0].Spent.IsZero() {
		t.Fatalf("budgets = %+v", budgets)
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()

	// Missing file -> empty store
	s, err := NewFromFile(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if accounts, _ := s.ListAccounts(context.Background()); len(accounts) != 0 {
		t.Fatalf("expected empty store, got %v", accounts)
	}

	seed := `{
  "accounts": [{"id": "a", "name": "Main", "type": "checking", "currency": "USD", "balance": "999"}],
  "transactions": [
    {"id": "t1", "accountId": "a", "name": "Pay", "numericAmount": "100", "type": "credit", "status": "completed", "date": "2024-01-01"},
    {"id": "t2", "accountId": "a", "name": "Rent", "numericAmount": "40", "type": "debit", "status": "completed", "date": "2024-01-02"}
  ],
  "budgets": [{"id": "b1", "category": "Rent", "type": "expense", "limit": "500"}]
}`
	path := filepath.Join(dir, "seed.json")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err = NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile() error = %v", err)
	}
	a, err := s.GetAccount(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Balance.Equal(dec("60")) {
		t.Fatalf("seeded balance = %s, want 60 (recomputed)", a.Balance)
	}
	budgets, _ := s.ListBudgets(context.Background())
	if len(budgets) != 1 {
		t.Fatalf("budgets = %v", budgets)
	}
}
