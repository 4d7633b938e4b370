package backend

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/amqp"
	"ledgerengine/internal/config"
	"ledgerengine/internal/core"
	"ledgerengine/internal/currency"
	"ledgerengine/internal/ledger/memory"
	"ledgerengine/internal/services"
	"ledgerengine/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("FromAppConfig(nil) should fail")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("unknown backend should fail")
	}

	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "/tmp/x.db", AMQPURL: "amqp://x", AMQPExchange: "e", AMQPQueue: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "/tmp/x.db" || cfg.AMQPQueue != "q" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, ""},
		{"sqlite without path", Config{Type: SQLiteBackend}, "SQLite database path is required"},
		{"unknown type", Config{Type: "csv"}, "invalid backend type"},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://x", AMQPExchange: "e"}, "AMQP exchange and queue are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: MemoryBackend})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := res.Store.(*memory.Store); !ok {
			t.Errorf("store = %T, want *memory.Store", res.Store)
		}
		if res.Publisher != nil || res.AMQP != nil {
			t.Error("publisher should be nil without AMQP_URL")
		}
		if err := res.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v", err)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")})
		if err != nil {
			t.Fatal(err)
		}
		defer res.Cleanup()
		if _, ok := res.Store.(*storage.SQLiteRepository); !ok {
			t.Errorf("store = %T, want *storage.SQLiteRepository", res.Store)
		}
	})

	t.Run("unreachable broker is skipped", func(t *testing.T) {
		f := NewFactory(nil).(*DefaultFactory)
		f.dial = func(string, string, string) (*amqp.Client, error) { return nil, errors.New("connection refused") }
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "e", AMQPQueue: "q"})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		if res.Publisher != nil {
			t.Error("Publisher must stay nil when the broker is unreachable")
		}
	})

	t.Run("missing seed file yields empty store", func(t *testing.T) {
		res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: MemoryBackend, MemorySeedFile: filepath.Join(t.TempDir(), "none.json")})
		if err != nil {
			t.Fatal(err)
		}
		accounts, _ := res.Store.ListAccounts(ctx)
		if len(accounts) != 0 {
			t.Errorf("accounts = %v", accounts)
		}
	})
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()
	rates, err := currency.NewRates("USD", nil)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(memory.New(), nil, EngineOptions{
		Clock:        services.FixedClock(core.NewDate(2024, 3, 15)),
		Converter:    rates,
		BaseCurrency: "USD",
	})

	for _, id := range []string{"a", "b"} {
		if _, err := e.Accounts.CreateAccount(ctx, core.Account{ID: id, Name: id, Type: core.Checking, Currency: "USD", Balance: decimal.NewFromInt(100)}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := e.Transfers.Transfer(ctx, services.TransferRequest{SourceID: "a", DestinationID: "b", Amount: decimal.NewFromInt(25)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.DestinationAccount.Balance.Equal(decimal.NewFromInt(125)) {
		t.Errorf("destination balance = %s", res.DestinationAccount.Balance)
	}
	if _, err := e.Alerts.Refresh(ctx, core.NewDate(2024, 3, 15)); err != nil {
		t.Errorf("Alerts.Refresh() error = %v", err)
	}
}
