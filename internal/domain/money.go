package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(1_000_000))
}

// FromDecimal converts a decimal.Decimal to int64 micros.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(1_000_000)).IntPart()
}

// Convert converts the money to a target currency using a given FX rate.
// The rate should be (Target / Source). Rounding happens exactly once, here,
// at the destination leg: the converted amount is rounded half-up to cent
// precision before going back to micros.
func (m Money) Convert(targetCurrency string, rate decimal.Decimal) Money {
	amountDec := m.ToDecimal().Mul(rate).Round(2)
	return Money{
		Amount:   FromDecimal(amountDec),
		Currency: targetCurrency,
	}
}

// ApplyPercent returns percent% of the amount, rounded to cent precision.
// Used for exchange fees and margins.
func (m Money) ApplyPercent(percent decimal.Decimal) Money {
	amountDec := m.ToDecimal().Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
	return Money{
		Amount:   FromDecimal(amountDec),
		Currency: m.Currency,
	}
}

// Sub returns m minus other. Panics on currency mismatch: subtracting across
// currencies is always a programming error.
func (m Money) Sub(other Money) Money {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money currency mismatch: %s - %s", m.Currency, other.Currency))
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// EffectiveRate applies a margin percentage to a raw FX rate:
// effective = rate * (1 - margin/100).
func EffectiveRate(rate, marginPct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return rate.Mul(one.Sub(marginPct.Div(decimal.NewFromInt(100))))
}
