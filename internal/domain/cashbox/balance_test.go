package cashbox

import (
	"testing"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCashboxBalance_Apply(t *testing.T) {
	b := NewCashboxBalance()
	require.NoError(t, b.Apply(Credit, valueobject.NewAmounts(decimal.NewFromInt(10), decimal.NewFromInt(895000))))

	err := b.Apply(Debit, valueobject.NewAmounts(decimal.RequireFromString("10.01"), decimal.Zero))
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)
	assert.Equal(t, "10.00", b.Balance.USD.StringFixed(2), "rejected debit leaves the balance untouched")

	err = b.Apply(Debit, valueobject.NewAmounts(decimal.Zero, decimal.NewFromInt(895001)))
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)

	require.NoError(t, b.Apply(Debit, valueobject.NewAmounts(decimal.NewFromInt(10), decimal.NewFromInt(895000))))
	assert.True(t, b.Balance.IsZero())
}

func TestReconcile(t *testing.T) {
	cached := &CashboxBalance{
		Initial: valueobject.NewAmounts(decimal.NewFromInt(100), decimal.Zero),
		Balance: valueobject.NewAmounts(decimal.NewFromInt(120), decimal.Zero),
	}
	totals := LedgerTotals{
		Credits: valueobject.NewAmounts(decimal.NewFromInt(30), decimal.Zero),
		Debits:  valueobject.NewAmounts(decimal.NewFromInt(10), decimal.Zero),
		Count:   2,
	}

	report := Reconcile(cached, totals)
	assert.True(t, report.InSync)
	assert.Equal(t, "120.00", report.Computed.USD.StringFixed(2))

	cached.Balance = valueobject.NewAmounts(decimal.NewFromInt(125), decimal.Zero)
	report = Reconcile(cached, totals)
	assert.False(t, report.InSync)
	assert.Equal(t, "5.00", report.Drift.USD.StringFixed(2))
}
