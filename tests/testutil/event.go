package testutil

import (
	"context"
	"sync"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
)

// RecordingHandler is a shared.EventHandler that keeps what it receives.
type RecordingHandler struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
}

// NewRecordingHandler subscribes to the given types, or to all types when none are given.
func NewRecordingHandler(eventTypes ...string) *RecordingHandler {
	return &RecordingHandler{eventTypes: eventTypes}
}

// EventTypes returns the event types this handler subscribes to.
func (h *RecordingHandler) EventTypes() []string {
	return h.eventTypes
}

// Handle records the event and returns the configured error.
func (h *RecordingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

// SetError sets the error returned from Handle.
func (h *RecordingHandler) SetError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Count returns the number of handled events.
func (h *RecordingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

// Appended returns the ledger entry events in arrival order.
func (h *RecordingHandler) Appended() []*cashbox.LedgerEntryAppended {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*cashbox.LedgerEntryAppended
	for _, e := range h.handled {
		if a, ok := e.(*cashbox.LedgerEntryAppended); ok {
			out = append(out, a)
		}
	}
	return out
}
