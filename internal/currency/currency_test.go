package currency

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRatesConvert(t *testing.T) {
	rates, err := ParseRates("USD", "EUR=0.90, GBP=0.75")
	if err != nil {
		t.Fatalf("ParseRates() error = %v", err)
	}

	tests := []struct {
		name     string
		amount   string
		from, to string
		want     string
	}{
		{"same currency", "50", "USD", "USD", "50"},
		{"from base", "50", "USD", "EUR", "45"},
		{"to base", "45", "EUR", "USD", "50"},
		{"cross", "90", "EUR", "GBP", "75"},
		{"lower case codes", "10", "usd", "eur", "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rates.Convert(decimal.RequireFromString(tt.amount), tt.from, tt.to)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Convert() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := rates.Convert(decimal.NewFromInt(1), "USD", "JPY"); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("Convert() error = %v, want ErrUnknownCurrency", err)
	}
}

func TestParseRatesErrors(t *testing.T) {
	bads := []struct{ base, list string }{
		{"USD", "EUR"},
		{"USD", "EUR=abc"},
		{"USD", "EUR=-1"},
		{"USD", "ZZZ=1"},
		{"QQQ", ""},
	}
	for _, b := range bads {
		if _, err := ParseRates(b.base, b.list); err == nil {
			t.Errorf("ParseRates(%q, %q) expected error", b.base, b.list)
		}
	}
}

func TestConverterFunc(t *testing.T) {
	f := ConverterFunc(func(amount decimal.Decimal, _, _ string) (decimal.Decimal, error) {
		return amount.Mul(decimal.NewFromInt(2)), nil
	})
	got, err := f.Convert(decimal.NewFromInt(3), "A", "B")
	if err != nil || !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("Convert() = %s, %v", got, err)
	}
}
