package services

import (
	"context"
	"errors"
	"testing"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/core"
	"ledgerengine/internal/ledger"
)

func TestTransactionService_Save(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	mustAccount(t, store, core.Account{ID: "a"})
	mustAccount(t, store, core.Account{ID: "b"})
	mustAccount(t, store, core.Account{ID: "ice", Frozen: true})
	rec := &recorder{}
	svc := NewTransactionService(store, NewAccountLocks(), rec)

	tx := core.Transaction{
		AccountID:     "a",
		Name:          "Groceries",
		NumericAmount: dec("80"),
		Type:          core.DebitEntry,
		Status:        core.Completed,
		Date:          core.NewDate(2024, 5, 3),
		Category:      "Food",
		Splits: []core.Split{
			{Category: "Food", Amount: dec("60")},
			{Category: "Household", Amount: dec("20")},
		},
	}

	saved, err := svc.SaveTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}
	if saved.ID == "" || saved.Currency != "USD" || saved.Amount == "" {
		t.Errorf("saved = %+v", saved)
	}
	if acc := assertBalanced(t, store, "a"); !acc.Balance.Equal(dec("-80")) {
		t.Errorf("balance = %s, want -80", acc.Balance)
	}

	t.Run("move to another account refreshes both", func(t *testing.T) {
		moved := saved
		moved.AccountID = "b"
		if _, err := svc.SaveTransaction(ctx, moved); err != nil {
			t.Fatalf("SaveTransaction() error = %v", err)
		}
		if acc := assertBalanced(t, store, "a"); !acc.Balance.IsZero() {
			t.Errorf("a balance = %s, want 0", acc.Balance)
		}
		if acc := assertBalanced(t, store, "b"); !acc.Balance.Equal(dec("-80")) {
			t.Errorf("b balance = %s, want -80", acc.Balance)
		}
	})

	t.Run("split mismatch", func(t *testing.T) {
		bad := tx
		bad.Splits = []core.Split{{Category: "Food", Amount: dec("10")}}
		if _, err := svc.SaveTransaction(ctx, bad); !errors.Is(err, core.ErrSplitMismatch) {
			t.Errorf("error = %v, want split mismatch", err)
		}
	})

	t.Run("frozen account", func(t *testing.T) {
		frozen := tx
		frozen.AccountID = "ice"
		if _, err := svc.SaveTransaction(ctx, frozen); !errors.Is(err, core.ErrFrozenAccount) {
			t.Errorf("error = %v, want frozen", err)
		}
	})

	t.Run("missing account", func(t *testing.T) {
		orphan := tx
		orphan.AccountID = "ghost"
		if _, err := svc.SaveTransaction(ctx, orphan); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})

	if got := rec.kinds(); len(got) != 2 || got[0] != amqp.EventTransactionSaved {
		t.Errorf("published %v, want two saved events", got)
	}
}

// failingReads fails GetTransaction with err.
type failingReads struct {
	ledger.Store
	err error
}

func (s *failingReads) GetTransaction(context.Context, string) (core.Transaction, error) {
	return core.Transaction{}, s.err
}

func TestTransactionService_SaveInputHandling(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	mustAccount(t, store, core.Account{ID: "a"})
	svc := NewTransactionService(store, NewAccountLocks(), nil)

	entry := func(amount string) core.Transaction {
		return core.Transaction{
			AccountID: "a",
			Name:      "Coffee",
			Amount:    amount,
			Type:      core.DebitEntry,
			Status:    core.Completed,
			Date:      core.NewDate(2024, 5, 10),
			Category:  "Food",
		}
	}

	t.Run("amount parsed from input string", func(t *testing.T) {
		tests := []struct {
			input string
			want  string
		}{
			{"12,50", "12.5"},
			{" 3.456 ", "3.46"},
		}
		for _, tt := range tests {
			saved, err := svc.SaveTransaction(ctx, entry(tt.input))
			if err != nil {
				t.Fatalf("SaveTransaction(%q) error = %v", tt.input, err)
			}
			if !saved.NumericAmount.Equal(dec(tt.want)) {
				t.Errorf("SaveTransaction(%q) amount = %s, want %s", tt.input, saved.NumericAmount, tt.want)
			}
			if saved.Amount != core.FormatAmount(dec(tt.want), "USD") {
				t.Errorf("display amount = %q", saved.Amount)
			}
		}
		assertBalanced(t, store, "a")
	})

	t.Run("unparseable amount", func(t *testing.T) {
		for _, input := range []string{"abc", "-5", "0"} {
			_, err := svc.SaveTransaction(ctx, entry(input))
			if !errors.Is(err, core.ErrValidation) || !errors.Is(err, core.ErrInvalidAmount) {
				t.Errorf("SaveTransaction(%q) error = %v, want invalid amount", input, err)
			}
		}
	})

	t.Run("new entries drop engine markers", func(t *testing.T) {
		tx := entry("20")
		tx.SystemKind = core.BalanceAdjustment
		tx.TransferLinkID = "forged-link"
		saved, err := svc.SaveTransaction(ctx, tx)
		if err != nil {
			t.Fatalf("SaveTransaction() error = %v", err)
		}
		if saved.SystemKind != "" || saved.TransferLinkID != "" {
			t.Errorf("markers = %q / %q, want empty", saved.SystemKind, saved.TransferLinkID)
		}
	})

	t.Run("edits keep stored markers", func(t *testing.T) {
		adj := mustTx(t, store, core.Transaction{
			AccountID: "a", Name: core.BalanceAdjustmentName, NumericAmount: dec("5"),
			Type: core.CreditEntry, Date: core.NewDate(2024, 5, 10), SystemKind: core.BalanceAdjustment,
		})
		edit := adj
		edit.Name = "Corrected"
		edit.SystemKind = ""
		saved, err := svc.SaveTransaction(ctx, edit)
		if err != nil {
			t.Fatalf("SaveTransaction() error = %v", err)
		}
		if saved.SystemKind != core.BalanceAdjustment || saved.Name != "Corrected" {
			t.Errorf("saved = %+v, want system kind kept", saved)
		}
	})

	t.Run("lookup failure is surfaced", func(t *testing.T) {
		readErr := errors.New("connection reset")
		broken := NewTransactionService(&failingReads{Store: store, err: readErr}, NewAccountLocks(), nil)
		before, _ := store.ListTransactions(ctx, "a")

		tx := entry("7")
		tx.ID = "existing"
		if _, err := broken.SaveTransaction(ctx, tx); !errors.Is(err, readErr) {
			t.Fatalf("SaveTransaction() error = %v, want %v", err, readErr)
		}
		after, _ := store.ListTransactions(ctx, "a")
		if len(after) != len(before) {
			t.Errorf("transactions = %d, want %d", len(after), len(before))
		}
	})
}

func TestTransactionService_DeleteTransfer(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	seedTransferAccounts(t, store)
	o, _ := newOrchestrator(t, store)
	svc := NewTransactionService(store, o.locks, nil)

	first, err := o.Transfer(ctx, TransferRequest{SourceID: "usd", DestinationID: "eur", Amount: dec("50")})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	t.Run("with partner", func(t *testing.T) {
		deleted, err := svc.DeleteTransaction(ctx, first.Destination.ID, DeleteWithPartner)
		if err != nil {
			t.Fatalf("DeleteTransaction() error = %v", err)
		}
		if len(deleted) != 2 {
			t.Errorf("deleted %v, want both legs", deleted)
		}
		if acc := assertBalanced(t, store, "usd"); !acc.Balance.Equal(dec("1000")) {
			t.Errorf("usd balance = %s, want 1000", acc.Balance)
		}
		if acc := assertBalanced(t, store, "eur"); !acc.Balance.IsZero() {
			t.Errorf("eur balance = %s, want 0", acc.Balance)
		}
	})

	second, err := o.Transfer(ctx, TransferRequest{SourceID: "usd", DestinationID: "eur", Amount: dec("10")})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	t.Run("single leg", func(t *testing.T) {
		deleted, err := svc.DeleteTransaction(ctx, second.Source.ID, DeleteSingle)
		if err != nil {
			t.Fatalf("DeleteTransaction() error = %v", err)
		}
		if len(deleted) != 1 || deleted[0] != second.Source.ID {
			t.Errorf("deleted %v, want only the source leg", deleted)
		}
		if _, err := store.GetTransaction(ctx, second.Destination.ID); err != nil {
			t.Errorf("partner should survive: %v", err)
		}
		assertBalanced(t, store, "usd")
		assertBalanced(t, store, "eur")
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := svc.DeleteTransaction(ctx, "nope", DeleteSingle); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})
}
