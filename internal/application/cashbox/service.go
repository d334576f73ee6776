// Package cashbox holds the application services of the cash ledger: manual cash operations,
// order lifecycle effects, actor balances, rates, ledger queries and reconciliation.
package cashbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultCreatedBy is recorded on entries whose caller gave no author
const DefaultCreatedBy = "system:cashbox"

// RetryPolicy bounds the retries of a unit of work that hit a concurrency conflict
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries five times starting at 10ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 200 * time.Millisecond}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// RateDecorator wraps the transaction-bound rate source, e.g. with a cache
type RateDecorator func(next cashbox.RateSource) cashbox.RateSource

// Option configures the services
type Option func(*core)

// WithEventPublisher publishes LedgerEntryAppended after every commit
func WithEventPublisher(p shared.EventPublisher) Option {
	return func(c *core) { c.publisher = p }
}

// WithRateDecorator wraps every rate lookup
func WithRateDecorator(d RateDecorator) Option {
	return func(c *core) { c.decorate = d }
}

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *core) { c.retry = p }
}

// WithMetrics records cash metrics
func WithMetrics(m *telemetry.CashMetrics) Option {
	return func(c *core) { c.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(c *core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultCreatedBy sets the author recorded when a request has none
func WithDefaultCreatedBy(name string) Option {
	return func(c *core) {
		if name != "" {
			c.createdBy = name
		}
	}
}

// WithRateInvalidator is called after a new rate is committed
func WithRateInvalidator(fn func(ctx context.Context)) Option {
	return func(c *core) { c.invalidateRates = fn }
}

// core is shared by every service: the unit of work, retries, conversion and notifications
type core struct {
	uow             cashbox.UnitOfWork
	publisher       shared.EventPublisher
	decorate        RateDecorator
	invalidateRates func(ctx context.Context)
	retry           RetryPolicy
	metrics         *telemetry.CashMetrics
	logger          *zap.Logger
	validate        *requestValidator
	createdBy       string
	now             func() time.Time
}

func newCore(uow cashbox.UnitOfWork, opts ...Option) *core {
	c := &core{
		uow:       uow,
		retry:     DefaultRetryPolicy(),
		logger:    zap.NewNop(),
		validate:  newRequestValidator(),
		createdBy: DefaultCreatedBy,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transact runs fn in one transaction, retrying the whole unit on CONCURRENCY_CONFLICT.
// fn must be safe to run more than once; it sees fresh repositories on every attempt.
func (c *core) transact(ctx context.Context, op string, fn func(ctx context.Context, repos cashbox.Repositories) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := c.uow.Do(ctx, fn)
		if err == nil {
			return nil
		}
		if shared.IsTransient(err) && ctx.Err() == nil {
			c.metrics.RecordRetry(ctx, op)
			c.log(ctx).Debug("Retrying after concurrency conflict",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(operation, c.retry.backOff(ctx))
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	return err
}

// rates returns the rate source bound to the transaction
func (c *core) rates(repos cashbox.Repositories) cashbox.RateSource {
	if c.decorate == nil {
		return repos.Rates
	}
	return c.decorate(repos.Rates)
}

func (c *core) log(ctx context.Context) *logger.ContextLogger {
	return logger.WithLogger(ctx, c.logger)
}

func (c *core) author(createdBy string) string {
	if createdBy == "" {
		return c.createdBy
	}
	return createdBy
}

// resolve validates the draft and fills the missing currency
func (c *core) resolve(ctx context.Context, repos cashbox.Repositories, draft cashbox.EntryDraft) (cashbox.Resolution, error) {
	if err := draft.Validate(); err != nil {
		return cashbox.Resolution{}, err
	}
	return cashbox.NewConverter(c.rates(repos)).Complete(ctx, draft.USD, draft.LBP, draft.At)
}

// commit appends the entry and, when it moves cash, applies the guarded balance delta.
// The returned balance is nil for memo entries.
func (c *core) commit(ctx context.Context, repos cashbox.Repositories, draft cashbox.EntryDraft, res cashbox.Resolution) (*cashbox.LedgerEntry, *cashbox.CashboxBalance, error) {
	entry, err := cashbox.NewLedgerEntry(draft, res)
	if err != nil {
		return nil, nil, err
	}
	if err := repos.Ledger.Append(ctx, entry); err != nil {
		return nil, nil, err
	}
	if !entry.AffectsCashbox {
		return entry, nil, nil
	}
	balance, err := repos.Balance.ApplyDelta(ctx, entry.Direction, entry.Amounts)
	if err != nil {
		return nil, nil, err
	}
	return entry, balance, nil
}

// post resolves and commits a draft
func (c *core) post(ctx context.Context, repos cashbox.Repositories, draft cashbox.EntryDraft) (*cashbox.LedgerEntry, *cashbox.CashboxBalance, error) {
	res, err := c.resolve(ctx, repos, draft)
	if err != nil {
		return nil, nil, err
	}
	return c.commit(ctx, repos, draft, res)
}

// published sends LedgerEntryAppended for committed entries. Failures are logged only.
func (c *core) published(ctx context.Context, entries ...*cashbox.LedgerEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		c.metrics.RecordEntry(ctx, string(e.Kind), string(e.Direction), string(e.Category))
	}
	if c.publisher == nil {
		return
	}
	events := make([]shared.DomainEvent, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			events = append(events, cashbox.NewLedgerEntryAppended(e))
		}
	}
	if len(events) == 0 {
		return
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), events...); err != nil {
		c.log(ctx).Warn("Failed to publish ledger events", zap.Error(err))
	}
}

// finish records the outcome of an operation on metrics
func (c *core) finish(ctx context.Context, op string, started time.Time, err error) {
	c.metrics.RecordDuration(ctx, op, time.Since(started), err)
	if err != nil {
		c.metrics.RecordRejection(ctx, op, shared.CodeOf(err))
	}
}
