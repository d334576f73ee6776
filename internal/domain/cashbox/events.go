package cashbox

import (
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
)

const (
	// AggregateTypeLedgerEntry is the aggregate type for ledger events
	AggregateTypeLedgerEntry = "LedgerEntry"
	// EventTypeLedgerEntryAppended is published after an entry is committed
	EventTypeLedgerEntryAppended = "cashbox.ledger_entry_appended"
)

// LedgerEntryAppended notifies observers of a committed ledger entry
type LedgerEntryAppended struct {
	shared.BaseDomainEvent
	EntryKind EntryKind           `json:"entry_kind"`
	Direction Direction           `json:"direction"`
	Category  Category            `json:"category"`
	Amounts   valueobject.Amounts `json:"amounts"`
	ActorRef  ActorRef            `json:"actor_ref"`
	OrderRef  string              `json:"order_ref,omitempty"`
}

// NewLedgerEntryAppended creates the event for a committed entry
func NewLedgerEntryAppended(e *LedgerEntry) *LedgerEntryAppended {
	return &LedgerEntryAppended{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLedgerEntryAppended, AggregateTypeLedgerEntry, e.ID),
		EntryKind:       e.Kind,
		Direction:       e.Direction,
		Category:        e.Category,
		Amounts:         e.Amounts,
		ActorRef:        e.Actor,
		OrderRef:        e.OrderRef,
	}
}
