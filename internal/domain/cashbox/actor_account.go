package cashbox

import (
	"strings"
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
)

// ActorAccount holds a manually curated opening balance and the last recalculated snapshot
type ActorAccount struct {
	shared.BaseVersioned
	Actor       ActorRef
	DisplayName string
	Opening     valueobject.Amounts
	Snapshot    *ActorBalance
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewActorAccount creates an account with a zero opening balance
func NewActorAccount(ref ActorRef, displayName string) (*ActorAccount, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if !ref.Type.HasBalance() {
		return nil, validationError("actor type %s does not carry a balance", ref.Type)
	}
	now := time.Now().UTC()
	return &ActorAccount{
		BaseVersioned: shared.BaseVersioned{Version: 1},
		Actor:         ref,
		DisplayName:   strings.TrimSpace(displayName),
		Opening:       valueobject.ZeroAmounts(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// SetOpening replaces the opening balance. It may be negative when the actor owes the company.
func (a *ActorAccount) SetOpening(opening valueobject.Amounts) {
	a.Opening = valueobject.NewAmounts(opening.USD, opening.LBP)
	a.UpdatedAt = time.Now().UTC()
}

// RecordSnapshot caches a recalculated balance
func (a *ActorAccount) RecordSnapshot(b ActorBalance) {
	snap := b
	a.Snapshot = &snap
	a.UpdatedAt = time.Now().UTC()
}

// ErrActorNotFound is returned when an actor has no account
var ErrActorNotFound = shared.NewDomainError(shared.CodeNotFound, "Actor account not found")
