// Package core provides the ledger domain model and its pure helpers.
//
// This file contains amount parsing, rounding and formatting. Amounts are
// shopspring decimals; currency metadata (minor units, symbols) comes from
// go-money's ISO 4217 table.
package core

import (
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Tolerance is the rounding slack used when comparing balances: differences
// of at most one cent are treated as equal.
var Tolerance = decimal.New(1, -2)

// ParseAmount converts a user supplied decimal string to a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up to two decimal places. Signs are rejected: the direction of money is
// carried by the transaction type, never by the amount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("12.345") -> 12.35, nil
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// IsKnownCurrency reports whether code is an ISO 4217 code known to go-money.
func IsKnownCurrency(code string) bool {
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// minorUnits returns the number of fractional digits of a currency, two when unknown.
func minorUnits(code string) int32 {
	if c := money.GetCurrency(strings.ToUpper(code)); c != nil {
		return int32(c.Fraction)
	}
	return 2
}

// RoundToCurrency rounds amount to the minor unit of the currency (0 for JPY, 2 for EUR, ...).
func RoundToCurrency(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(minorUnits(code))
}

// FormatAmount renders amount with the currency's symbol and separators,
// e.g. "$1,234.50" or "€45.00". Unknown currencies fall back to "12.34 XYZ".
func FormatAmount(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(code)
	if money.GetCurrency(code) == nil {
		return amount.StringFixed(2) + " " + code
	}
	units := minorUnits(code)
	return money.New(amount.Shift(units).Round(0).IntPart(), code).Display()
}

// WithinTolerance reports whether |a-b| <= Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
