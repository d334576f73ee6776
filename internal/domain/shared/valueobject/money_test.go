package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	t.Run("rounds USD to cents", func(t *testing.T) {
		m, err := NewMoney(decimal.RequireFromString("10.005"), USD)
		require.NoError(t, err)
		assert.Equal(t, "10.01", m.Amount().StringFixed(2))
	})

	t.Run("rounds LBP to whole units", func(t *testing.T) {
		m, err := NewMoney(decimal.RequireFromString("89500.5"), LBP)
		require.NoError(t, err)
		assert.True(t, m.Amount().Equal(decimal.NewFromInt(89501)))
	})

	t.Run("rejects unsupported currency", func(t *testing.T) {
		_, err := NewMoney(decimal.NewFromInt(1), "EUR")
		assert.ErrorIs(t, err, ErrUnsupportedCurrency)
	})
}

func TestRound_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", Round(decimal.RequireFromString("0.125"), USD).StringFixed(2))
	assert.Equal(t, "-0.13", Round(decimal.RequireFromString("-0.125"), USD).StringFixed(2))
	assert.Equal(t, "3", Round(decimal.RequireFromString("2.5"), LBP).String())
}

func TestCurrency(t *testing.T) {
	assert.Equal(t, LBP, USD.Other())
	assert.Equal(t, USD, LBP.Other())
	assert.Equal(t, int32(2), USD.Places())
	assert.Equal(t, int32(0), LBP.Places())
	assert.False(t, Currency("CNY").IsValid())
}

func TestMoney_MinorUnits(t *testing.T) {
	m := USDFromString("12.34")
	assert.Equal(t, int64(1234), m.MinorUnits())

	back, err := NewMoneyFromMinor(1234, USD)
	require.NoError(t, err)
	assert.True(t, back.Equals(m))

	lbp, err := NewMoneyFromMinor(150000, LBP)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), lbp.MinorUnits())
}

func TestMoney_AddSubtract(t *testing.T) {
	a := USDFromString("10.00")
	b := USDFromString("2.50")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "12.50 USD", sum.String())

	diff, err := b.Subtract(a)
	require.NoError(t, err)
	assert.True(t, diff.IsNegative())

	_, err = a.Add(Zero(LBP))
	assert.Error(t, err)
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(USDFromString("5"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"5.00","currency":"USD"}`, string(data))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"1500.4","currency":"LBP"}`), &m))
	assert.Equal(t, "1500 LBP", m.String())

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"x","currency":"USD"}`), &m))
}

func TestAmounts(t *testing.T) {
	a := NewAmounts(decimal.RequireFromString("1.239"), decimal.RequireFromString("100.6"))
	assert.Equal(t, "1.24 USD / 101 LBP", a.String())
	assert.Equal(t, int64(124), a.USDCents())
	assert.Equal(t, int64(101), a.LBPUnits())

	b := AmountsFromMinor(24, 1)
	assert.True(t, a.Sub(b).Equal(NewAmounts(decimal.NewFromInt(1), decimal.NewFromInt(100))))
	assert.True(t, a.Add(a.Neg()).IsZero())
	assert.True(t, b.Neg().AnyNegative())
	assert.False(t, ZeroAmounts().AnyNegative())
	assert.True(t, a.Get(LBP).Equal(decimal.NewFromInt(101)))
}
