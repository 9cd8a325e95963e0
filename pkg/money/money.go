// Package money converts between integer cents, used for storage and atomic
// SQL arithmetic, and shopspring decimals, used for rate calculations.
package money

import (
	"github.com/shopspring/decimal"
)

const scale = 2

var hundred = decimal.NewFromInt(100)

// FromCents returns the decimal amount for an integer cent value.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -scale)
}

// Round rounds half-up to two decimal places. Amounts are never negative here,
// so decimal's half-away-from-zero rounding is half-up.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(scale)
}

// ToCents rounds to two places and returns the integer cent value.
func ToCents(amount decimal.Decimal) int64 {
	return Round(amount).Mul(hundred).IntPart()
}

// Percent returns pct percent of amount, rounded. Percent(30, 3) == 0.90.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// PercentOfCents is Percent for cent values.
func PercentOfCents(cents int64, pct decimal.Decimal) int64 {
	return ToCents(Percent(FromCents(cents), pct))
}

// ParsePercent parses a configured percentage such as "1.5".
func ParsePercent(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// Format renders cents as a fixed two-place string.
func Format(cents int64) string {
	return FromCents(cents).StringFixed(scale)
}
