// Package currency converts amounts between currencies.
//
// Rate sourcing is outside the engine: the services depend on the Converter
// interface only. Rates is a static table used by the binaries, configured
// from EXCHANGE_RATES, and by tests.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerengine/internal/core"
)

// ErrUnknownCurrency is returned when no rate is known for a currency.
var ErrUnknownCurrency = errors.New("unknown currency")

// Converter converts amount from one currency to another. Implementations
// must be pure: the same inputs always give the same output.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(amount decimal.Decimal, from, to string) (decimal.Decimal, error)

func (f ConverterFunc) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	return f(amount, from, to)
}

// Rates holds the value of one unit of Base expressed in each other currency,
// e.g. Base USD with EUR: 0.90 means 1 USD = 0.90 EUR.
type Rates struct {
	Base  string
	rates map[string]decimal.Decimal
}

// NewRates builds a rate table. The base currency is always present at 1.
func NewRates(base string, rates map[string]decimal.Decimal) (*Rates, error) {
	base = strings.ToUpper(base)
	if !core.IsKnownCurrency(base) {
		return nil, fmt.Errorf("unknown base currency %q", base)
	}
	r := &Rates{Base: base, rates: map[string]decimal.Decimal{base: decimal.NewFromInt(1)}}
	for code, rate := range rates {
		code = strings.ToUpper(code)
		if !core.IsKnownCurrency(code) {
			return nil, fmt.Errorf("unknown currency %q", code)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive, got %s", code, rate)
		}
		r.rates[code] = rate
	}
	return r, nil
}

// ParseRates parses "EUR=0.90,GBP=0.79" into a rate table relative to base.
func ParseRates(base, list string) (*Rates, error) {
	rates := map[string]decimal.Decimal{}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: expected CODE=RATE", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", pair, err)
		}
		rates[strings.TrimSpace(code)] = rate
	}
	return NewRates(base, rates)
}

// Convert triangulates through the base currency. The result is not rounded;
// callers round to the target currency's minor unit.
func (r *Rates) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	fromRate, ok := r.rates[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s: %w", from, ErrUnknownCurrency)
	}
	toRate, ok := r.rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s: %w", to, ErrUnknownCurrency)
	}
	return amount.Div(fromRate).Mul(toRate), nil
}

// Currencies lists the codes the table can convert.
func (r *Rates) Currencies() []string {
	out := make([]string, 0, len(r.rates))
	for code := range r.rates {
		out = append(out, code)
	}
	return out
}
