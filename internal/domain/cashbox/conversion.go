package cashbox

import (
	"context"
	"time"

	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// RateSource yields the latest rate effective at or before a time.
// Implementations return a NO_RATE_AVAILABLE error when none exists.
type RateSource interface {
	LatestAt(ctx context.Context, at time.Time) (*ExchangeRate, error)
}

// ConvertWithRate converts a single-currency amount with the given LBP per USD rate,
// rounding with the shared rounding function
func ConvertWithRate(m valueobject.Money, lbpPerUSD decimal.Decimal) valueobject.Money {
	target := m.Currency().Other()
	var out decimal.Decimal
	if m.Currency() == valueobject.USD {
		out = m.Amount().Mul(lbpPerUSD)
	} else {
		out = m.Amount().DivRound(lbpPerUSD, 8)
	}
	converted, _ := valueobject.NewMoney(out, target)
	return converted
}

// Resolution is the outcome of completing a draft's amounts
type Resolution struct {
	Amounts valueobject.Amounts
	Source  SourceCurrency
	Rate    *decimal.Decimal
}

// Converter fills the missing currency of an amount pair
type Converter struct {
	rates RateSource
	now   func() time.Time
}

// NewConverter creates a converter backed by the rate source
func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates, now: time.Now}
}

// Convert returns the equivalent amount in the other currency using the latest rate at or before at.
// A zero at means now.
func (c *Converter) Convert(ctx context.Context, m valueobject.Money, at time.Time) (valueobject.Money, *ExchangeRate, error) {
	if at.IsZero() {
		at = c.now()
	}
	rate, err := c.rates.LatestAt(ctx, at)
	if err != nil {
		return valueobject.Money{}, nil, err
	}
	return ConvertWithRate(m, rate.LBPPerUSD), rate, nil
}

// Complete rounds supplied amounts and back-fills one that is missing.
// Both supplied needs no rate. Validation of the inputs is the caller's job.
func (c *Converter) Complete(ctx context.Context, usd, lbp *decimal.Decimal, at time.Time) (Resolution, error) {
	switch {
	case usd != nil && lbp != nil:
		return Resolution{Amounts: valueobject.NewAmounts(*usd, *lbp), Source: SourceBoth}, nil
	case usd != nil:
		m, err := valueobject.NewMoney(*usd, valueobject.USD)
		if err != nil {
			return Resolution{}, err
		}
		converted, rate, err := c.Convert(ctx, m, at)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Amounts: valueobject.NewAmounts(m.Amount(), converted.Amount()),
			Source:  SourceUSD,
			Rate:    &rate.LBPPerUSD,
		}, nil
	case lbp != nil:
		m, err := valueobject.NewMoney(*lbp, valueobject.LBP)
		if err != nil {
			return Resolution{}, err
		}
		converted, rate, err := c.Convert(ctx, m, at)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Amounts: valueobject.NewAmounts(converted.Amount(), m.Amount()),
			Source:  SourceLBP,
			Rate:    &rate.LBPPerUSD,
		}, nil
	default:
		return Resolution{}, validationError("at least one of amount_usd or amount_lbp is required")
	}
}
