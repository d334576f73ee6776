package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/delivery/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultBufferSize is the queue capacity when none is configured
const DefaultBufferSize = 1024

// ErrBusStopped is returned by Start on a bus that was already stopped
var ErrBusStopped = errors.New("event bus stopped")

// AsyncEventBus delivers events to handlers on a background worker.
// Publish never blocks: when the queue is full or the bus is not running the event is dropped with a warning.
type AsyncEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	queue    chan queued
	onDrop   func(eventType string)

	mu      sync.Mutex
	running bool
	stopped bool
	done    chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

type queued struct {
	ctx   context.Context
	event shared.DomainEvent
}

// BusOption configures an AsyncEventBus
type BusOption func(*AsyncEventBus)

// WithDropHook is called for every dropped event, e.g. to count drops in metrics
func WithDropHook(hook func(eventType string)) BusOption {
	return func(b *AsyncEventBus) {
		b.onDrop = hook
	}
}

// NewAsyncEventBus creates a bus with a queue of the given capacity
func NewAsyncEventBus(logger *zap.Logger, bufferSize int, opts ...BusOption) *AsyncEventBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := &AsyncEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
		queue:    make(chan queued, bufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues the events. The context is detached from cancellation so that
// delivery outlives the request that produced the events.
func (b *AsyncEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	// held across the sends so Stop cannot close the queue underneath them
	b.mu.Lock()
	defer b.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	for _, e := range events {
		if !b.running {
			b.drop(e, "event bus not running")
			continue
		}
		select {
		case b.queue <- queued{ctx: detached, event: e}:
			b.published.Add(1)
		default:
			b.drop(e, "event queue full")
		}
	}
	return nil
}

func (b *AsyncEventBus) drop(e shared.DomainEvent, reason string) {
	b.dropped.Add(1)
	b.logger.Warn("Dropping domain event",
		zap.String("reason", reason),
		zap.String("event_type", e.EventType()),
		zap.String("event_id", e.EventID().String()),
	)
	if b.onDrop != nil {
		b.onDrop(e.EventType())
	}
}

// Subscribe registers a handler. With no explicit types the handler's own EventTypes are used.
func (b *AsyncEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("Event handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes a handler
func (b *AsyncEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start launches the delivery worker
func (b *AsyncEventBus) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrBusStopped
	}
	if b.running {
		return nil
	}
	b.running = true
	go b.work()
	b.logger.Info("Event bus started", zap.Int("buffer", cap(b.queue)))
	return nil
}

// Stop refuses new events and waits for queued ones to be delivered, or for ctx to end
func (b *AsyncEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.stopped = true
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.stopped = true
	close(b.queue)
	b.mu.Unlock()

	select {
	case <-b.done:
		b.logger.Info("Event bus stopped",
			zap.Int64("published", b.published.Load()),
			zap.Int64("dropped", b.dropped.Load()),
		)
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus stop timed out", zap.Int("pending", len(b.queue)))
		return ctx.Err()
	}
}

func (b *AsyncEventBus) work() {
	defer close(b.done)
	for q := range b.queue {
		for _, h := range b.registry.HandlersFor(q.event.EventType()) {
			if err := b.dispatch(q.ctx, h, q.event); err != nil {
				b.failed.Add(1)
				b.logger.Error("Event handler failed",
					zap.String("event_type", q.event.EventType()),
					zap.String("event_id", q.event.EventID().String()),
					zap.Error(err),
				)
			}
		}
	}
}

func (b *AsyncEventBus) dispatch(ctx context.Context, h shared.EventHandler, e shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event_type", e.EventType()),
				zap.Any("panic", r),
			)
			err = errors.New("handler panicked")
		}
	}()
	return h.Handle(ctx, e)
}

// Stats is a snapshot of bus counters
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Stats returns the current counters
func (b *AsyncEventBus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
		Pending:   len(b.queue),
	}
}

var _ shared.EventBus = (*AsyncEventBus)(nil)
