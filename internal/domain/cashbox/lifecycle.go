package cashbox

import (
	"strings"

	"github.com/delivery/backend/internal/domain/shared/valueobject"
)

// OrderType is the commercial type of an order
type OrderType string

const (
	OrderEcommerce  OrderType = "ecommerce"
	OrderInstant    OrderType = "instant"
	OrderGoToMarket OrderType = "go_to_market"
)

// ParseOrderType parses an order type, accepting common spellings
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "ecommerce", "e_commerce":
		return OrderEcommerce, nil
	case "instant":
		return OrderInstant, nil
	case "go_to_market", "gtm":
		return OrderGoToMarket, nil
	default:
		return "", validationError("unknown order type %q", s)
	}
}

// OrderStatus is the delivery status of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAssigned  OrderStatus = "assigned"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
	StatusReturned  OrderStatus = "returned"
)

// PaymentStatus is the payment status of an order
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPrepaid PaymentStatus = "prepaid"
	PaymentPaid    PaymentStatus = "paid"
)

// OrderState is the pair of statuses the rules are keyed on
type OrderState struct {
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// Validate checks both statuses
func (s OrderState) Validate() error {
	switch s.Status {
	case StatusPending, StatusAssigned, StatusInTransit, StatusDelivered, StatusCancelled, StatusReturned:
	default:
		return validationError("unknown order status %q", s.Status)
	}
	switch s.PaymentStatus {
	case PaymentUnpaid, PaymentPrepaid, PaymentPaid:
	default:
		return validationError("unknown payment status %q", s.PaymentStatus)
	}
	return nil
}

// IsSettledDelivery reports whether the state is delivered and paid
func (s OrderState) IsSettledDelivery() bool {
	return s.Status == StatusDelivered && s.PaymentStatus == PaymentPaid
}

func (s OrderState) String() string {
	return string(s.Status) + "/" + string(s.PaymentStatus)
}

// OrderAmounts are the monetary figures of an order
type OrderAmounts struct {
	Total       valueobject.Amounts `json:"total"`
	DeliveryFee valueobject.Amounts `json:"delivery_fee"`
}

// Transition is an observed change of an order's state.
// A nil From means the order was just created.
type Transition struct {
	OrderID   string
	OrderType OrderType
	Client    ActorRef
	From      *OrderState
	To        OrderState
	Amounts   OrderAmounts
}

// Validate checks the transition before it is evaluated
func (t Transition) Validate() error {
	if strings.TrimSpace(t.OrderID) == "" {
		return validationError("order id is required")
	}
	if _, err := ParseOrderType(string(t.OrderType)); err != nil {
		return err
	}
	if t.From != nil {
		if err := t.From.Validate(); err != nil {
			return err
		}
	}
	if err := t.To.Validate(); err != nil {
		return err
	}
	if !t.Client.IsNone() {
		if t.Client.Type != ActorClient {
			return validationError("order actor must be a client, got %s", t.Client.Type)
		}
		if err := t.Client.Validate(); err != nil {
			return err
		}
	}
	if t.Amounts.Total.AnyNegative() || t.Amounts.DeliveryFee.AnyNegative() {
		return validationError("order amounts must not be negative")
	}
	return nil
}

// Rule names the row of the decision table that matched
type Rule string

const (
	RuleNone            Rule = "none"
	RuleGTMFloat        Rule = "gtm_float"
	RulePrepaidFloat    Rule = "prepaid_float"
	RulePrepaidRecovery Rule = "prepaid_recovery"
	RuleDeliveryRevenue Rule = "delivery_revenue"
)

// CashEffect is the single ledger movement a matched rule produces
type CashEffect struct {
	Kind      EntryKind
	Direction Direction
	Category  Category
	Amounts   valueobject.Amounts
}

// Decision is the outcome of evaluating a transition
type Decision struct {
	Rule   Rule
	Effect *CashEffect
	// ClientObligation is the goods value the company now owes the client
	ClientObligation valueobject.Amounts
}

// IsNoop reports whether the transition has no cash effect
func (d Decision) IsNoop() bool {
	return d.Effect == nil && d.ClientObligation.IsZero()
}

var noop = Decision{Rule: RuleNone, ClientObligation: valueobject.ZeroAmounts()}

// Decide maps a transition to at most one cash effect.
//
//	create, go_to_market             -> debit total  (gtm float)
//	create, prepaid                  -> debit total  (prepaid float)
//	-> delivered/paid, was prepaid   -> credit total (prepaid recovery)
//	-> delivered/paid, ecommerce or instant, not prepaid
//	                                 -> credit delivery fee (revenue), client owed total - fee
//	go_to_market delivery, unchanged state, anything else -> no effect
//
// Go-to-market recovery is not a transition effect; it happens on client cashout.
func Decide(t Transition) Decision {
	if t.From == nil {
		return decideCreate(t)
	}
	if *t.From == t.To || !t.To.IsSettledDelivery() {
		return noop
	}
	if t.From.PaymentStatus == PaymentPrepaid {
		return effect(RulePrepaidRecovery, KindOrderPrepaidRecovery, Credit, CategoryPrepaidFloat, t.Amounts.Total)
	}
	switch t.OrderType {
	case OrderEcommerce, OrderInstant:
		d := noop
		if !t.Amounts.DeliveryFee.IsZero() {
			d = effect(RuleDeliveryRevenue, KindOrderDeliveryFee, Credit, CategoryOrderRevenue, t.Amounts.DeliveryFee)
		}
		if owed := t.Amounts.Total.Sub(t.Amounts.DeliveryFee); !owed.AnyNegative() {
			d.ClientObligation = owed
			if d.Rule == RuleNone && !owed.IsZero() {
				d.Rule = RuleDeliveryRevenue
			}
		}
		return d
	default:
		return noop
	}
}

func decideCreate(t Transition) Decision {
	if t.OrderType == OrderGoToMarket {
		return effect(RuleGTMFloat, KindOrderGTMFloat, Debit, CategoryGTMFloat, t.Amounts.Total)
	}
	if t.To.PaymentStatus == PaymentPrepaid {
		return effect(RulePrepaidFloat, KindOrderPrepaidFloat, Debit, CategoryPrepaidFloat, t.Amounts.Total)
	}
	return noop
}

func effect(rule Rule, kind EntryKind, dir Direction, cat Category, amounts valueobject.Amounts) Decision {
	if amounts.IsZero() {
		return noop
	}
	return Decision{
		Rule:             rule,
		Effect:           &CashEffect{Kind: kind, Direction: dir, Category: cat, Amounts: amounts},
		ClientObligation: valueobject.ZeroAmounts(),
	}
}
