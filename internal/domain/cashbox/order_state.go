package cashbox

import (
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
)

// OrderCashState records the last observed state of an order and which cash effects
// have been applied for it. It makes every effect of an order at-most-once.
type OrderCashState struct {
	shared.BaseVersioned
	OrderID             string
	OrderType           OrderType
	Client              ActorRef
	State               OrderState
	Amounts             OrderAmounts
	PrepaidFloatApplied bool
	PrepaidRecovered    bool
	GTMFloatApplied     bool
	GTMRecovered        bool
	RevenueApplied      bool
	Obligation          valueobject.Amounts
	ObligationAt        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewOrderCashState creates the record for an order seen for the first time
func NewOrderCashState(t Transition) *OrderCashState {
	now := time.Now().UTC()
	return &OrderCashState{
		BaseVersioned: shared.BaseVersioned{Version: 1},
		OrderID:       t.OrderID,
		OrderType:     t.OrderType,
		Client:        t.Client,
		State:         t.To,
		Amounts:       t.Amounts,
		Obligation:    valueobject.ZeroAmounts(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Permits reports whether a decided rule may still be applied to this order.
// A recovery is only allowed once, and only after its float was applied.
func (s *OrderCashState) Permits(rule Rule) bool {
	switch rule {
	case RuleGTMFloat:
		return !s.GTMFloatApplied
	case RulePrepaidFloat:
		return !s.PrepaidFloatApplied
	case RulePrepaidRecovery:
		return s.PrepaidFloatApplied && !s.PrepaidRecovered
	case RuleDeliveryRevenue:
		return !s.RevenueApplied
	default:
		return false
	}
}

// Record marks the rule as applied and moves the order to the new state
func (s *OrderCashState) Record(rule Rule, d Decision, to OrderState, at time.Time) {
	switch rule {
	case RuleGTMFloat:
		s.GTMFloatApplied = true
	case RulePrepaidFloat:
		s.PrepaidFloatApplied = true
	case RulePrepaidRecovery:
		s.PrepaidRecovered = true
	case RuleDeliveryRevenue:
		s.RevenueApplied = true
		if !d.ClientObligation.IsZero() {
			s.Obligation = s.Obligation.Add(d.ClientObligation)
			when := at.UTC()
			s.ObligationAt = &when
		}
	}
	s.MoveTo(to)
}

// MoveTo updates the observed state
func (s *OrderCashState) MoveTo(to OrderState) {
	s.State = to
	s.UpdatedAt = time.Now().UTC()
}

// OutstandingGTMFloat returns the float still to be recovered through a client cashout
func (s *OrderCashState) OutstandingGTMFloat() (valueobject.Amounts, error) {
	if s.OrderType != OrderGoToMarket || !s.GTMFloatApplied {
		return valueobject.Amounts{}, validationError("order %s has no go-to-market float", s.OrderID)
	}
	if s.GTMRecovered {
		return valueobject.Amounts{}, shared.NewDomainError(shared.CodeAlreadySettled,
			"go-to-market float of order "+s.OrderID+" was already recovered")
	}
	return s.Amounts.Total, nil
}

// MarkGTMRecovered records the cashout that recovered the float
func (s *OrderCashState) MarkGTMRecovered() {
	s.GTMRecovered = true
	s.UpdatedAt = time.Now().UTC()
}

// Obligation is a goods value owed to a client for one order
type Obligation struct {
	OrderRef string
	Amounts  valueobject.Amounts
	At       time.Time
}

// ErrOrderNotFound is returned when no cash state exists for an order
var ErrOrderNotFound = shared.NewDomainError(shared.CodeNotFound, "Order cash state not found")
