package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed message IDs so redelivered notifications are inert
type IdempotencyStore interface {
	// MarkProcessed records a message ID with a TTL
	// Returns true if the ID was newly recorded, false if it was already present
	MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (bool, error)

	// IsProcessed checks whether a message ID has been recorded
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// Forget removes a message ID so a failed delivery can be retried
	Forget(ctx context.Context, messageID string) error

	// Close releases resources
	Close() error
}
