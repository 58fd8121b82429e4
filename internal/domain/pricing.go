package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrInexactAmount indicates a decimal amount has more precision than the currency allows.
	ErrInexactAmount = errors.New("domain: amount not representable in currency minor units")
	// ErrAmountOverflow indicates a monetary computation exceeded the int64 range.
	ErrAmountOverflow = errors.New("domain: amount overflow")
)

// CurrencyScale returns the number of minor-unit digits for the ISO 4217 code.
func CurrencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("domain: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// MinorUnits converts a fixed-point decimal amount into integer minor units without rounding.
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return 0, err
	}
	shifted := amount.Shift(int32(scale))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s %s", ErrInexactAmount, amount.String(), strings.ToUpper(code))
	}
	if shifted.GreaterThan(decimal.NewFromInt(maxInt64)) || shifted.LessThan(decimal.NewFromInt(-maxInt64)) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, amount.String())
	}
	return shifted.IntPart(), nil
}

// FormatMinorUnits renders minor units as a fixed-point string, e.g. 2550 EUR -> "25.50".
func FormatMinorUnits(amount int64, code string) string {
	scale, err := CurrencyScale(code)
	if err != nil {
		scale = 2
	}
	return decimal.New(amount, -int32(scale)).StringFixed(int32(scale))
}

const maxInt64 = int64(^uint64(0) >> 1)

// MulMinorUnits multiplies a unit price by a quantity, detecting overflow.
func MulMinorUnits(unit int64, quantity int) (int64, error) {
	if unit == 0 || quantity == 0 {
		return 0, nil
	}
	q := int64(quantity)
	product := unit * q
	if product/q != unit {
		return 0, ErrAmountOverflow
	}
	return product, nil
}

// AddMinorUnits sums two non-negative amounts, detecting overflow.
func AddMinorUnits(a, b int64) (int64, error) {
	if b > 0 && a > maxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}
