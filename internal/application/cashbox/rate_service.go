package cashbox

import (
	"context"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateService maintains the exchange rate history and converts between USD and LBP
type RateService struct {
	*core
}

// NewRateService creates the service
func NewRateService(uow cashbox.UnitOfWork, opts ...Option) *RateService {
	return &RateService{core: newCore(uow, opts...)}
}

// SetRate appends a rate effective from effectiveAt. A zero effectiveAt means now.
func (s *RateService) SetRate(ctx context.Context, lbpPerUSD decimal.Decimal, effectiveAt time.Time, createdBy string) (rate *cashbox.ExchangeRate, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "rate", "set_rate")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrRate, lbpPerUSD.String())
	started := time.Now()
	defer func() { s.finish(ctx, "set_rate", started, err) }()

	if effectiveAt.IsZero() {
		effectiveAt = s.now()
	}
	rate, err = cashbox.NewExchangeRate(lbpPerUSD, effectiveAt, s.author(createdBy))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	err = s.transact(ctx, "set_rate", func(ctx context.Context, repos cashbox.Repositories) error {
		return repos.Rates.Append(ctx, rate)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if s.invalidateRates != nil {
		s.invalidateRates(ctx)
	}

	s.log(ctx).Info("Exchange rate set",
		zap.String("lbp_per_usd", rate.LBPPerUSD.String()),
		zap.Time("effective_at", rate.EffectiveAt),
		zap.String("created_by", rate.CreatedBy),
	)
	telemetry.SetOK(span)
	return rate, nil
}

// LatestRate returns the rate in force at at. A zero at means now.
func (s *RateService) LatestRate(ctx context.Context, at time.Time) (*cashbox.ExchangeRate, error) {
	if at.IsZero() {
		at = s.now()
	}
	return s.rates(s.uow.Repositories()).LatestAt(ctx, at)
}

// RateHistory returns a page of rates, newest first
func (s *RateService) RateHistory(ctx context.Context, filter cashbox.RateFilter) (*shared.Paginated[cashbox.ExchangeRate], error) {
	filter.Page = filter.Page.Normalize()
	rates, total, err := s.uow.Repositories().Rates.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := shared.NewPaginated(rates, total, filter.Page.Number, filter.Page.Size)
	return &result, nil
}

// Convert returns the equivalent of m in the other currency at the rate in force at at.
// It fails with NO_RATE_AVAILABLE when no rate is effective yet.
func (s *RateService) Convert(ctx context.Context, m valueobject.Money, at time.Time) (valueobject.Money, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "rate", "convert")
	defer span.End()

	converted, rate, err := cashbox.NewConverter(s.rates(s.uow.Repositories())).Convert(ctx, m, at)
	if err != nil {
		telemetry.RecordError(span, err)
		return valueobject.Money{}, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrRate, rate.LBPPerUSD.String())
	telemetry.SetOK(span)
	return converted, nil
}
