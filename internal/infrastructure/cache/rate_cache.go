package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultRateKey holds the most recent effective rate
const DefaultRateKey = "cashbox:rate:latest"

// freshness is how close to now a lookup must be for its result to be cached as the latest rate
const freshness = time.Second

// RateCache keeps the latest exchange rate in Redis.
// Redis failures are logged and never returned; callers fall back to the database.
type RateCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewRateCache creates a cache. A non-positive ttl disables expiry.
func NewRateCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RateCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateCache{client: client, key: DefaultRateKey, ttl: ttl, logger: logger, now: time.Now}
}

type cachedRate struct {
	ID          uuid.UUID       `json:"id"`
	LBPPerUSD   decimal.Decimal `json:"lbp_per_usd"`
	EffectiveAt time.Time       `json:"effective_at"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func encodeRate(r *cashbox.ExchangeRate) (string, error) {
	data, err := json.Marshal(cachedRate{
		ID:          r.ID,
		LBPPerUSD:   r.LBPPerUSD,
		EffectiveAt: r.EffectiveAt.UTC(),
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRate(s string) (*cashbox.ExchangeRate, error) {
	var c cachedRate
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return &cashbox.ExchangeRate{
		ID:          c.ID,
		LBPPerUSD:   c.LBPPerUSD,
		EffectiveAt: c.EffectiveAt,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
	}, nil
}

// Get returns the cached rate. ok is false on a miss or any Redis failure.
func (c *RateCache) Get(ctx context.Context) (rate *cashbox.ExchangeRate, ok bool, err error) {
	s, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rate, err = decodeRate(s)
	if err != nil {
		return nil, false, err
	}
	return rate, true, nil
}

// Put stores the rate as the latest one
func (c *RateCache) Put(ctx context.Context, rate *cashbox.ExchangeRate) {
	payload, err := encodeRate(rate)
	if err != nil {
		c.logger.Warn("Failed to encode exchange rate for cache", zap.Error(err))
		return
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key, payload, ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache exchange rate", zap.Error(err))
	}
}

// Invalidate drops the cached rate. Called whenever a rate is appended.
func (c *RateCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.logger.Warn("Failed to invalidate cached exchange rate", zap.Error(err))
	}
}

// Source wraps a rate source with the cache
func (c *RateCache) Source(next cashbox.RateSource) cashbox.RateSource {
	return &cachedRateSource{cache: c, next: next}
}

type cachedRateSource struct {
	cache *RateCache
	next  cashbox.RateSource
}

// LatestAt serves lookups at or after the cached rate's effective time from Redis.
// Earlier lookups need history and always go to the wrapped source.
func (s *cachedRateSource) LatestAt(ctx context.Context, at time.Time) (*cashbox.ExchangeRate, error) {
	now := s.cache.now()
	if at.IsZero() {
		at = now
	}

	cached, ok, cacheErr := s.cache.Get(ctx)
	if cacheErr != nil {
		s.cache.logger.Warn("Exchange rate cache unavailable, reading from database", zap.Error(cacheErr))
	}
	if ok && !cached.EffectiveAt.After(at) {
		return cached, nil
	}

	rate, err := s.next.LatestAt(ctx, at)
	if err != nil {
		return nil, err
	}
	// only a lookup at the present yields the overall latest rate
	if !ok && cacheErr == nil && at.After(now.Add(-freshness)) && !at.After(now.Add(freshness)) {
		s.cache.Put(ctx, rate)
	}
	return rate, nil
}
