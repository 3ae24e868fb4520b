package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestConvertRoundsOnceAtDestination(t *testing.T) {
	// 100 USD at 22.50 converts to exactly 2250 SLE.
	m := NewMoney(100_000_000, "USD")
	out := m.Convert("SLE", dec(t, "22.50"))
	assert.Equal(t, int64(2_250_000_000), out.Amount)
	assert.Equal(t, "SLE", out.Currency)

	// An awkward rate rounds half-up to cent precision.
	out = NewMoney(1_000_000, "USD").Convert("SLE", dec(t, "22.505"))
	assert.Equal(t, int64(22_510_000), out.Amount)
}

func TestConvertWithFee(t *testing.T) {
	// 100 USD -> SLE at 22.50, zero margin, 2.5% fee: net 2193.75 SLE.
	gross := NewMoney(100_000_000, "USD").Convert("SLE", EffectiveRate(dec(t, "22.50"), decimal.Zero))
	fee := gross.ApplyPercent(dec(t, "2.5"))
	net := gross.Sub(fee)

	assert.Equal(t, int64(2_250_000_000), gross.Amount)
	assert.Equal(t, int64(56_250_000), fee.Amount)
	assert.Equal(t, int64(2_193_750_000), net.Amount)
}

func TestEffectiveRate(t *testing.T) {
	// 1% margin shaves the rate to 22.275.
	eff := EffectiveRate(dec(t, "22.50"), dec(t, "1"))
	assert.True(t, eff.Equal(dec(t, "22.275")), "got %s", eff)

	// Zero margin leaves the rate untouched.
	eff = EffectiveRate(dec(t, "22.50"), decimal.Zero)
	assert.True(t, eff.Equal(dec(t, "22.50")))
}

func TestApplyPercentRounding(t *testing.T) {
	// 2.5% of 0.33 is 0.00825, which rounds to 0.01.
	fee := NewMoney(330_000, "USD").ApplyPercent(dec(t, "2.5"))
	assert.Equal(t, int64(10_000), fee.Amount)
}

func TestSubPanicsOnCurrencyMismatch(t *testing.T) {
	assert.Panics(t, func() {
		NewMoney(1, "USD").Sub(NewMoney(1, "EUR"))
	})
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "2193.75 SLE", NewMoney(2_193_750_000, "SLE").String())
}
