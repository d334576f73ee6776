// Package stream consumes order lifecycle transitions from a Redis Stream
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	appcashbox "github.com/delivery/backend/internal/application/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/infrastructure/config"
	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PayloadField is the stream entry field holding the JSON notification
const PayloadField = "payload"

// TransitionApplier applies one notification to the cashbox
type TransitionApplier interface {
	ApplyTransition(ctx context.Context, n appcashbox.TransitionNotification) (*appcashbox.TransitionResult, error)
}

// Config holds the consumer group settings
type Config struct {
	Stream         string
	Group          string
	Name           string
	BatchSize      int
	Block          time.Duration
	IdempotencyTTL time.Duration
	MaxDeliveries  int
	DeadLetter     string
	// RetryDelay is the pause after a batch with failed messages
	RetryDelay time.Duration
}

// ConfigFrom maps the application config
func ConfigFrom(cfg config.ConsumerConfig) Config {
	return Config{
		Stream:         cfg.Stream,
		Group:          cfg.Group,
		Name:           cfg.Name,
		BatchSize:      cfg.BatchSize,
		Block:          cfg.Block,
		IdempotencyTTL: cfg.IdempotencyTTL,
		MaxDeliveries:  cfg.MaxDeliveries,
		DeadLetter:     cfg.DeadLetter,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 72 * time.Hour
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// TransitionConsumer reads transition notifications with a consumer group.
// A message is acknowledged once applied, once recognised as a duplicate, or once dead-lettered.
// A failed message stays pending and is read again until MaxDeliveries is reached.
type TransitionConsumer struct {
	client  *redis.Client
	applier TransitionApplier
	store   shared.IdempotencyStore
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	attempts map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransitionConsumer creates the consumer
func NewTransitionConsumer(client *redis.Client, applier TransitionApplier, store shared.IdempotencyStore, cfg Config, log *zap.Logger) *TransitionConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransitionConsumer{
		client:   client,
		applier:  applier,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   log.With(zap.String("component", "transition_consumer"), zap.String("stream", cfg.Stream)),
		attempts: make(map[string]int),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist
func (c *TransitionConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// Start creates the group and runs the read loop in the background
func (c *TransitionConsumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("Transition consumer started",
		zap.String("group", c.cfg.Group),
		zap.String("consumer", c.cfg.Name),
		zap.Int("batch_size", c.cfg.BatchSize),
	)
	return nil
}

// Stop cancels the read loop and waits for the in-flight batch
func (c *TransitionConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("Transition consumer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TransitionConsumer) run(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		failed, err := c.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("Failed to read transitions", zap.Error(err))
		}
		if err != nil || failed > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}
}

// Poll handles this consumer's pending messages first and otherwise blocks for new ones.
// It returns the number of messages left pending for another attempt.
func (c *TransitionConsumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.Read(ctx, "0")
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		if msgs, err = c.Read(ctx, ">"); err != nil {
			return 0, err
		}
	}
	failed := 0
	for _, msg := range msgs {
		if !c.Handle(ctx, msg) {
			failed++
		}
	}
	return failed, nil
}

// Read fetches a batch. Id "0" returns messages delivered to this consumer but not acknowledged;
// ">" blocks for new messages.
func (c *TransitionConsumer) Read(ctx context.Context, id string) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, id},
		Count:    int64(c.cfg.BatchSize),
		Block:    -1,
	}
	if id == ">" {
		args.Block = c.cfg.Block
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Handle processes one message and reports whether it is done with
func (c *TransitionConsumer) Handle(ctx context.Context, msg redis.XMessage) bool {
	ctx, span := telemetry.StartConsumerSpan(ctx, c.cfg.Stream, msg.ID)
	defer span.End()
	ctx = logger.WithMessageID(ctx, msg.ID)
	log := logger.WithLogger(ctx, c.logger)

	if processed, err := c.store.IsProcessed(ctx, msg.ID); err != nil {
		log.Warn("Idempotency lookup failed, applying anyway", zap.Error(err))
	} else if processed {
		log.Debug("Skipping duplicate transition")
		return c.ack(ctx, msg.ID)
	}

	payload, _ := msg.Values[PayloadField].(string)
	if payload == "" {
		err := shared.NewDomainError(shared.CodeValidation, "message has no "+PayloadField+" field")
		telemetry.RecordError(span, err)
		return c.deadLetter(ctx, msg, payload, err)
	}
	n, err := appcashbox.DecodeTransitionNotification([]byte(payload))
	if err != nil {
		telemetry.RecordError(span, err)
		return c.deadLetter(ctx, msg, payload, err)
	}
	ctx = logger.WithOrderID(ctx, n.OrderID)

	result, err := c.applier.ApplyTransition(ctx, n)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, shared.ErrValidation) {
			return c.deadLetter(ctx, msg, payload, err)
		}
		attempt := c.failed(msg.ID)
		if attempt >= c.cfg.MaxDeliveries {
			return c.deadLetter(ctx, msg, payload, err)
		}
		log.Warn("Transition failed, will retry",
			zap.String("order_id", n.OrderID),
			zap.String("code", shared.CodeOf(err)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return false
	}

	if _, err := c.store.MarkProcessed(ctx, msg.ID, c.cfg.IdempotencyTTL); err != nil {
		log.Warn("Failed to record processed transition", zap.Error(err))
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrRule, string(result.Rule))
	telemetry.SetOK(span)
	return c.ack(ctx, msg.ID)
}

func (c *TransitionConsumer) failed(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[id]++
	return c.attempts[id]
}

func (c *TransitionConsumer) ack(ctx context.Context, id string) bool {
	c.mu.Lock()
	delete(c.attempts, id)
	c.mu.Unlock()

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		logger.WithLogger(ctx, c.logger).Error("Failed to acknowledge transition", zap.Error(err))
		return false
	}
	return true
}

// deadLetter copies the message to the dead-letter stream and acknowledges it
func (c *TransitionConsumer) deadLetter(ctx context.Context, msg redis.XMessage, payload string, cause error) bool {
	log := logger.WithLogger(ctx, c.logger)
	if c.cfg.DeadLetter != "" {
		err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.DeadLetter,
			Values: []any{
				PayloadField, payload,
				"source_id", msg.ID,
				"error", cause.Error(),
				"code", shared.CodeOf(cause),
			},
		}).Err()
		if err != nil {
			log.Error("Failed to dead-letter transition", zap.Error(err))
			return false
		}
	}
	log.Warn("Transition moved to dead letter stream",
		zap.String("dead_letter", c.cfg.DeadLetter),
		zap.Error(cause),
	)
	return c.ack(ctx, msg.ID)
}
