package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testEvent struct {
	shared.BaseDomainEvent
	Data string `json:"data"`
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "Test", uuid.New()),
		Data:            "payload",
	}
}

type recordingHandler struct {
	types   []string
	mu      sync.Mutex
	handled []shared.DomainEvent
	err     error
	block   chan struct{}
	panics  bool
}

func (h *recordingHandler) Handle(_ context.Context, e shared.DomainEvent) error {
	if h.block != nil {
		<-h.block
	}
	if h.panics {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, e)
	return h.err
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func startBus(t *testing.T, buffer int, opts ...BusOption) (*AsyncEventBus, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	bus := NewAsyncEventBus(zap.New(core), buffer, opts...)
	require.NoError(t, bus.Start(context.Background()))
	return bus, logs
}

func stopBus(t *testing.T, bus *AsyncEventBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(ctx))
}

func TestAsyncEventBus_DeliversAfterPublish(t *testing.T) {
	bus, _ := startBus(t, 8)
	typed := &recordingHandler{types: []string{"ledger"}}
	other := &recordingHandler{types: []string{"other"}}
	wildcard := &recordingHandler{}
	bus.Subscribe(typed)
	bus.Subscribe(other)
	bus.Subscribe(wildcard)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("ledger"), newTestEvent("ledger")))
	stopBus(t, bus)

	assert.Equal(t, 2, typed.count())
	assert.Equal(t, 0, other.count())
	assert.Equal(t, 2, wildcard.count())
	assert.Equal(t, int64(2), bus.Stats().Published)
}

func TestAsyncEventBus_PublishDoesNotWaitForHandlers(t *testing.T) {
	bus, _ := startBus(t, 8)
	release := make(chan struct{})
	slow := &recordingHandler{types: []string{"ledger"}, block: release}
	bus.Subscribe(slow)

	done := make(chan struct{})
	go func() {
		_ = bus.Publish(context.Background(), newTestEvent("ledger"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}
	close(release)
	stopBus(t, bus)
	assert.Equal(t, 1, slow.count())
}

func TestAsyncEventBus_DropsWhenFull(t *testing.T) {
	var dropped []string
	bus, logs := startBus(t, 1, WithDropHook(func(eventType string) { dropped = append(dropped, eventType) }))
	release := make(chan struct{})
	slow := &recordingHandler{types: []string{"ledger"}, block: release}
	bus.Subscribe(slow)

	// the worker takes the first event and blocks, the second fills the queue
	require.NoError(t, bus.Publish(context.Background(), newTestEvent("ledger")))
	require.Eventually(t, func() bool { return bus.Stats().Pending == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), newTestEvent("ledger"), newTestEvent("ledger")))

	assert.Equal(t, int64(1), bus.Stats().Dropped)
	assert.Equal(t, []string{"ledger"}, dropped)
	assert.Equal(t, 1, logs.FilterMessage("Dropping domain event").Len())

	close(release)
	stopBus(t, bus)
	assert.Equal(t, 2, slow.count())
}

func TestAsyncEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus, logs := startBus(t, 8)
	failing := &recordingHandler{types: []string{"ledger"}, err: errors.New("relay down")}
	panicking := &recordingHandler{types: []string{"ledger"}, panics: true}
	healthy := &recordingHandler{types: []string{"ledger"}}
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("ledger")))
	stopBus(t, bus)

	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, int64(2), bus.Stats().Failed)
	assert.Equal(t, 1, logs.FilterMessage("Event handler panicked").Len())
}

func TestAsyncEventBus_NotRunning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := NewAsyncEventBus(zap.New(core), 4)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("ledger")))
	assert.Equal(t, int64(1), bus.Stats().Dropped)
	assert.Equal(t, 1, logs.Len())

	require.NoError(t, bus.Stop(context.Background()))
	assert.ErrorIs(t, bus.Start(context.Background()), ErrBusStopped)
}

func TestAsyncEventBus_Unsubscribe(t *testing.T) {
	bus, _ := startBus(t, 4)
	h := &recordingHandler{types: []string{"ledger"}}
	bus.Subscribe(h)
	bus.Unsubscribe(h)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("ledger")))
	stopBus(t, bus)
	assert.Equal(t, 0, h.count())
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	a := &recordingHandler{}
	b := &recordingHandler{}
	r.Register(a, "x", "y")
	r.Register(b)

	assert.Equal(t, []shared.EventHandler{a, b}, r.HandlersFor("x"))
	assert.Equal(t, []shared.EventHandler{b}, r.HandlersFor("z"))
	assert.Equal(t, 2, r.Len())

	r.Unregister(a)
	assert.Equal(t, []shared.EventHandler{b}, r.HandlersFor("x"))
	assert.Equal(t, 1, r.Len())
}
