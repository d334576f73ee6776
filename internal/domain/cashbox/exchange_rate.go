package cashbox

import (
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RatePlaces is the precision kept for stored rates
const RatePlaces = 4

// MinLBPPerUSD is the smallest accepted rate. Below it one LBP is worth more than
// one cent and a USD amount no longer survives a round trip through LBP.
var MinLBPPerUSD = decimal.NewFromInt(100)

// ExchangeRate is one append-only entry of the LBP per USD history
type ExchangeRate struct {
	ID          uuid.UUID
	LBPPerUSD   decimal.Decimal
	EffectiveAt time.Time
	CreatedBy   string
	CreatedAt   time.Time
}

// NewExchangeRate validates and builds a rate. A zero effectiveAt means now.
func NewExchangeRate(lbpPerUSD decimal.Decimal, effectiveAt time.Time, createdBy string) (*ExchangeRate, error) {
	if !lbpPerUSD.IsPositive() {
		return nil, validationError("lbp_per_usd must be positive")
	}
	if lbpPerUSD.LessThan(MinLBPPerUSD) {
		return nil, validationError("lbp_per_usd must be at least %s", MinLBPPerUSD)
	}
	now := time.Now().UTC()
	if effectiveAt.IsZero() {
		effectiveAt = now
	}
	return &ExchangeRate{
		ID:          uuid.New(),
		LBPPerUSD:   lbpPerUSD.Round(RatePlaces),
		EffectiveAt: effectiveAt.UTC(),
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}, nil
}

// ErrNoRate is returned when no rate is effective at the requested time
func ErrNoRate(at time.Time) error {
	return shared.NewDomainError(shared.CodeNoRateAvailable,
		"no exchange rate effective at or before "+at.UTC().Format(time.RFC3339))
}
