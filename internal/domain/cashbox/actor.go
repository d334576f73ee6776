package cashbox

import (
	"context"
	"strings"
)

// ActorType identifies which kind of party a ledger entry is attributed to
type ActorType string

const (
	ActorNone       ActorType = "none"
	ActorDriver     ActorType = "driver"
	ActorClient     ActorType = "client"
	ActorThirdParty ActorType = "third_party"
	ActorSystem     ActorType = "system"
)

// ParseActorType parses a stored or transmitted actor type.
// An empty string is treated as ActorNone.
func ParseActorType(s string) (ActorType, error) {
	switch t := ActorType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", ActorNone:
		return ActorNone, nil
	case ActorDriver, ActorClient, ActorThirdParty, ActorSystem:
		return t, nil
	default:
		return "", validationError("unknown actor type %q", s)
	}
}

// HasBalance reports whether per-actor balances are tracked for the type
func (t ActorType) HasBalance() bool {
	return t == ActorDriver || t == ActorClient || t == ActorThirdParty
}

// ActorRef is the persisted reference to an actor
type ActorRef struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// NoActor is the reference used by pure cashbox income and expense
var NoActor = ActorRef{Type: ActorNone}

// IsNone reports whether the reference points at no actor
func (r ActorRef) IsNone() bool {
	return r.Type == "" || r.Type == ActorNone
}

// String renders the reference as type:id
func (r ActorRef) String() string {
	if r.IsNone() {
		return string(ActorNone)
	}
	if r.ID == "" {
		return string(r.Type)
	}
	return string(r.Type) + ":" + r.ID
}

// Validate checks that the reference is well formed
func (r ActorRef) Validate() error {
	t, err := ParseActorType(string(r.Type))
	if err != nil {
		return err
	}
	if t.HasBalance() && strings.TrimSpace(r.ID) == "" {
		return validationError("actor id is required for %s", t)
	}
	if t == ActorNone && r.ID != "" {
		return validationError("actor id %q given without an actor type", r.ID)
	}
	return nil
}

// Resolve converts the reference into the closed actor union
func (r ActorRef) Resolve() (Actor, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	switch r.Type {
	case ActorDriver:
		return Driver{ID: r.ID}, nil
	case ActorClient:
		return Client{ID: r.ID}, nil
	case ActorThirdParty:
		return ThirdParty{ID: r.ID}, nil
	case ActorSystem:
		return System{Name: r.ID}, nil
	default:
		return nil, nil
	}
}

// Actor is the closed set of parties cash can be attributed to.
// The unexported marker keeps the set closed to this package.
type Actor interface {
	Ref() ActorRef
	actor()
}

// Driver is a delivery driver that receives cash floats and returns them
type Driver struct{ ID string }

// Client is a merchant whose orders the company delivers
type Client struct{ ID string }

// ThirdParty is an outside party settled through cashouts
type ThirdParty struct{ ID string }

// System attributes an entry to an automated process
type System struct{ Name string }

func (d Driver) Ref() ActorRef     { return ActorRef{Type: ActorDriver, ID: d.ID} }
func (c Client) Ref() ActorRef     { return ActorRef{Type: ActorClient, ID: c.ID} }
func (t ThirdParty) Ref() ActorRef { return ActorRef{Type: ActorThirdParty, ID: t.ID} }
func (s System) Ref() ActorRef     { return ActorRef{Type: ActorSystem, ID: s.Name} }

func (Driver) actor()     {}
func (Client) actor()     {}
func (ThirdParty) actor() {}
func (System) actor()     {}

// ActorResolver resolves an actor reference against the actor directory.
// Implementations may return a NOT_FOUND error for actors the directory rejects.
type ActorResolver interface {
	ResolveActor(ctx context.Context, ref ActorRef) (Actor, error)
}
