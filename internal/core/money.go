// Package core provides money parsing and handling utilities.
//
// Amounts are integers in minor currency units. Conversion to and from the
// decimal major-unit representation goes through shopspring/decimal so no
// float ever touches a stored amount.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fractional digits of the supported currencies.
const MinorDigits = 2

// Money is an amount in minor currency units (e.g. cents).
type Money struct {
	Minor int64
}

var maxMajor = decimal.New(1<<62, -MinorDigits)

// ParseDecimalToMinor converts a decimal string to minor units with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. The result is
// always strictly positive; negative values, zero and malformed input fail with
// ErrInvalidAmount.
//
// Examples:
//
//	ParseDecimalToMinor("12.34")  -> 1234, nil
//	ParseDecimalToMinor("12,345") -> 1235, nil
func ParseDecimalToMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	d = d.Round(MinorDigits)
	if !d.IsPositive() || d.GreaterThan(maxMajor) {
		return 0, ErrInvalidAmount
	}
	return d.Shift(MinorDigits).IntPart(), nil
}

// NewMoney is a shorthand for Money{Minor: minor}.
func NewMoney(minor int64) Money {
	return Money{Minor: minor}
}

func (m Money) Validate() error {
	if m.Minor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Minor: m.Minor + o.Minor}
}

func (m Money) Neg() Money {
	return Money{Minor: -m.Minor}
}

// Decimal returns the major-unit value for display and reporting.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -MinorDigits)
}

// String formats the amount with exactly MinorDigits fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorDigits)
}
