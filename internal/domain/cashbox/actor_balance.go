package cashbox

import (
	"sort"
	"time"

	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// ActorBalance is the derived balance of one actor.
// A positive closing balance means the company owes the actor.
type ActorBalance struct {
	Actor         ActorRef            `json:"actor"`
	AsOf          time.Time           `json:"as_of"`
	Opening       valueobject.Amounts `json:"opening"`
	OrdersTotal   valueobject.Amounts `json:"orders_total"`
	PaymentsTotal valueobject.Amounts `json:"payments_total"`
	Closing       valueobject.Amounts `json:"closing"`
}

// SameFigures compares the money figures, ignoring AsOf
func (b ActorBalance) SameFigures(o ActorBalance) bool {
	return b.Actor == o.Actor &&
		b.Opening.Equal(o.Opening) &&
		b.OrdersTotal.Equal(o.OrdersTotal) &&
		b.PaymentsTotal.Equal(o.PaymentsTotal) &&
		b.Closing.Equal(o.Closing)
}

// CheckPayout returns INSUFFICIENT_CLIENT_BALANCE when paying out the amounts would exceed
// the closing balance in the currency the caller supplied. Back-filled equivalents are
// not checked, so a rate move alone cannot block a payout.
func (b ActorBalance) CheckPayout(a valueobject.Amounts, source SourceCurrency) error {
	if source != SourceLBP && a.USD.IsPositive() && a.USD.GreaterThan(b.Closing.USD) {
		return insufficientActorBalance("payout of %s USD exceeds %s balance of %s USD",
			a.USD.StringFixed(2), b.Actor, b.Closing.USD.StringFixed(2))
	}
	if source != SourceUSD && a.LBP.IsPositive() && a.LBP.GreaterThan(b.Closing.LBP) {
		return insufficientActorBalance("payout of %s LBP exceeds %s balance of %s LBP",
			a.LBP.StringFixed(0), b.Actor, b.Closing.LBP.StringFixed(0))
	}
	return nil
}

// CalculateActorBalance sums the opening balance, the obligations and the settlement entries up to asOf.
// Entries attributed to other actors are ignored.
func CalculateActorBalance(actor ActorRef, opening valueobject.Amounts, obligations []Obligation, entries []LedgerEntry, asOf time.Time) ActorBalance {
	orders := valueobject.ZeroAmounts()
	for _, o := range obligations {
		if !o.At.After(asOf) {
			orders = orders.Add(o.Amounts)
		}
	}
	payments := valueobject.ZeroAmounts()
	for i := range entries {
		e := &entries[i]
		if e.Actor != actor || e.CreatedAt.After(asOf) {
			continue
		}
		if amt, ok := e.SettlementAmount(); ok {
			payments = payments.Add(amt)
		}
	}
	return ActorBalance{
		Actor:         actor,
		AsOf:          asOf,
		Opening:       opening,
		OrdersTotal:   orders,
		PaymentsTotal: payments,
		Closing:       opening.Add(orders).Sub(payments),
	}
}

// StatementLineType distinguishes order obligations from payments
type StatementLineType string

const (
	LineOrder   StatementLineType = "order"
	LinePayment StatementLineType = "payment"
)

// StatementLine is one row of an actor statement
type StatementLine struct {
	At          time.Time           `json:"at"`
	Type        StatementLineType   `json:"type"`
	OrderRef    string              `json:"order_ref,omitempty"`
	EntryID     *uuid.UUID          `json:"entry_id,omitempty"`
	Kind        EntryKind           `json:"kind,omitempty"`
	Description string              `json:"description,omitempty"`
	Order       valueobject.Amounts `json:"order"`
	Payment     valueobject.Amounts `json:"payment"`
	Running     valueobject.Amounts `json:"running"`
}

// Statement is the running-balance annotated history of an actor over a window
type Statement struct {
	Actor         ActorRef            `json:"actor"`
	From          time.Time           `json:"from"`
	To            time.Time           `json:"to"`
	Opening       valueobject.Amounts `json:"opening"`
	Lines         []StatementLine     `json:"lines"`
	OrdersTotal   valueobject.Amounts `json:"orders_total"`
	PaymentsTotal valueobject.Amounts `json:"payments_total"`
	Closing       valueobject.Amounts `json:"closing"`
}

// BuildStatement produces the statement for [from, to]. The opening balance of the
// statement carries everything that happened before from.
func BuildStatement(actor ActorRef, opening valueobject.Amounts, obligations []Obligation, entries []LedgerEntry, from, to time.Time) Statement {
	carried := opening
	var lines []StatementLine

	for _, o := range obligations {
		switch {
		case o.At.Before(from):
			carried = carried.Add(o.Amounts)
		case !o.At.After(to):
			lines = append(lines, StatementLine{
				At:       o.At,
				Type:     LineOrder,
				OrderRef: o.OrderRef,
				Order:    o.Amounts,
				Payment:  valueobject.ZeroAmounts(),
			})
		}
	}

	for i := range entries {
		e := &entries[i]
		if e.Actor != actor {
			continue
		}
		amt, ok := e.SettlementAmount()
		if !ok {
			continue
		}
		switch {
		case e.CreatedAt.Before(from):
			carried = carried.Sub(amt)
		case !e.CreatedAt.After(to):
			id := e.ID
			lines = append(lines, StatementLine{
				At:          e.CreatedAt,
				Type:        LinePayment,
				OrderRef:    e.OrderRef,
				EntryID:     &id,
				Kind:        e.Kind,
				Description: e.Description,
				Order:       valueobject.ZeroAmounts(),
				Payment:     amt,
			})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].At.Equal(lines[j].At) {
			return lines[i].Type == LineOrder && lines[j].Type == LinePayment
		}
		return lines[i].At.Before(lines[j].At)
	})

	running := carried
	orders := valueobject.ZeroAmounts()
	payments := valueobject.ZeroAmounts()
	for i := range lines {
		running = running.Add(lines[i].Order).Sub(lines[i].Payment)
		lines[i].Running = running
		orders = orders.Add(lines[i].Order)
		payments = payments.Add(lines[i].Payment)
	}

	return Statement{
		Actor:         actor,
		From:          from,
		To:            to,
		Opening:       carried,
		Lines:         lines,
		OrdersTotal:   orders,
		PaymentsTotal: payments,
		Closing:       running,
	}
}
