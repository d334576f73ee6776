package event

import (
	"context"
	"fmt"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLedgerChannel is the Pub/Sub channel committed ledger entries are announced on
const DefaultLedgerChannel = "cashbox.ledger"

// RedisRelay forwards ledger events to a Redis Pub/Sub channel
type RedisRelay struct {
	client     *redis.Client
	channel    string
	serializer *EventSerializer
	logger     *zap.Logger
}

// NewRedisRelay creates a relay publishing on channel
func NewRedisRelay(client *redis.Client, channel string, serializer *EventSerializer, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultLedgerChannel
	}
	return &RedisRelay{client: client, channel: channel, serializer: serializer, logger: logger}
}

// Handle publishes the event envelope
func (r *RedisRelay) Handle(ctx context.Context, e shared.DomainEvent) error {
	data, err := r.serializer.Serialize(e)
	if err != nil {
		return err
	}
	receivers, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", e.EventType(), r.channel, err)
	}
	r.logger.Debug("Relayed ledger event",
		zap.String("channel", r.channel),
		zap.String("event_id", e.EventID().String()),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// EventTypes returns the ledger event types
func (r *RedisRelay) EventTypes() []string {
	return []string{cashbox.EventTypeLedgerEntryAppended}
}

var _ shared.EventHandler = (*RedisRelay)(nil)
