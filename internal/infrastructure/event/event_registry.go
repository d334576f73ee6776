package event

import "github.com/delivery/backend/internal/domain/cashbox"

// RegisterAllEvents registers every published domain event with the serializer
func RegisterAllEvents(serializer *EventSerializer) {
	serializer.Register(cashbox.EventTypeLedgerEntryAppended, &cashbox.LedgerEntryAppended{})
}
