package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every amount.
const AmountScale = 3

// SubUnitsPerUnit is the number of fractional units in one whole unit.
const SubUnitsPerUnit = 1000

var (
	ErrNegativeAmount    = errors.New("amount parts must not be negative")
	ErrFractionRange     = errors.New("fractional part out of range")
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
)

// NewAmount combines a whole-unit and fractional-unit pair into an exact
// decimal without any intermediate integer arithmetic. fraction is expressed in 1/SubUnitsPerUnit of the whole unit.
func NewAmount(whole, fraction int64) (decimal.Decimal, error) {
	if whole < 0 || fraction < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	if fraction >= SubUnitsPerUnit {
		return decimal.Zero, ErrFractionRange
	}
	amount := decimal.NewFromInt(whole).Add(decimal.New(fraction, -AmountScale))
	if !amount.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}
	return amount, nil
}

// SplitAmount is the inverse of NewAmount. Digits beyond AmountScale are truncated.
func SplitAmount(d decimal.Decimal) (whole, fraction int64) {
	units := d.Truncate(0)
	return units.IntPart(), d.Sub(units).Shift(AmountScale).Truncate(0).IntPart()
}

// FormatAmount renders d with exactly AmountScale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
