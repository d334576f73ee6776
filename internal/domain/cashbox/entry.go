package cashbox

import (
	"strings"
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the effect of an entry on the cashbox
type Direction string

const (
	Credit Direction = "credit" // increases the cashbox
	Debit  Direction = "debit"  // decreases the cashbox
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == Credit || d == Debit
}

// Opposite returns the inverse direction
func (d Direction) Opposite() Direction {
	if d == Credit {
		return Debit
	}
	return Credit
}

// Signed returns the amounts with the sign of the direction (credit positive)
func (d Direction) Signed(a valueobject.Amounts) valueobject.Amounts {
	if d == Debit {
		return a.Neg()
	}
	return a
}

// EntryKind is the categorical tag of a ledger entry
type EntryKind string

const (
	KindIncome               EntryKind = "income"
	KindExpense              EntryKind = "expense"
	KindCashAllocation       EntryKind = "cash_allocation"
	KindCashReturn           EntryKind = "cash_return"
	KindDriverAdvance        EntryKind = "driver_advance"
	KindDriverReturn         EntryKind = "driver_return"
	KindDriverExpense        EntryKind = "driver_expense"
	KindClientCashout        EntryKind = "client_cashout"
	KindThirdPartyCashout    EntryKind = "third_party_cashout"
	KindOrderDeliveryFee     EntryKind = "order_delivery_fee"
	KindOrderPrepaidFloat    EntryKind = "order_prepaid_float"
	KindOrderPrepaidRecovery EntryKind = "order_prepaid_recovery"
	KindOrderGTMFloat        EntryKind = "order_gtm_float"
	KindOrderGTMRecovery     EntryKind = "order_gtm_recovery"
	KindReversal             EntryKind = "reversal"
	KindAccountingMemo       EntryKind = "accounting_memo"
)

var allKinds = map[EntryKind]struct{}{
	KindIncome: {}, KindExpense: {}, KindCashAllocation: {}, KindCashReturn: {},
	KindDriverAdvance: {}, KindDriverReturn: {}, KindDriverExpense: {},
	KindClientCashout: {}, KindThirdPartyCashout: {}, KindOrderDeliveryFee: {},
	KindOrderPrepaidFloat: {}, KindOrderPrepaidRecovery: {}, KindOrderGTMFloat: {},
	KindOrderGTMRecovery: {}, KindReversal: {}, KindAccountingMemo: {},
}

// settlementKinds move value between the company and an actor.
// Income, expenses, delivery fees and memos do not change what is owed.
var settlementKinds = map[EntryKind]struct{}{
	KindCashAllocation: {}, KindCashReturn: {}, KindDriverAdvance: {}, KindDriverReturn: {},
	KindClientCashout: {}, KindThirdPartyCashout: {}, KindOrderPrepaidFloat: {},
	KindOrderPrepaidRecovery: {}, KindOrderGTMFloat: {}, KindOrderGTMRecovery: {},
}

// ParseEntryKind parses an entry kind
func ParseEntryKind(s string) (EntryKind, error) {
	k := EntryKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := allKinds[k]; !ok {
		return "", validationError("unknown entry kind %q", s)
	}
	return k, nil
}

// IsSettlement reports whether the kind counts toward actor payments
func (k EntryKind) IsSettlement() bool {
	_, ok := settlementKinds[k]
	return ok
}

// Category is the grouping label used for rollups
type Category string

const (
	CategoryIncome         Category = "income"
	CategoryExpense        Category = "expense"
	CategoryCashManagement Category = "cash_management"
	CategoryCashout        Category = "cashout"
	CategoryOrderRevenue   Category = "order_revenue"
	CategoryPrepaidFloat   Category = "prepaid_float"
	CategoryGTMFloat       Category = "gtm_float"
	CategoryCorrection     Category = "correction"
	CategoryAccounting     Category = "accounting"
)

// AffectsCashbox reports whether entries of the category move the cashbox balance
func (c Category) AffectsCashbox() bool {
	return c != CategoryAccounting
}

// SourceCurrency records which amount the caller supplied
type SourceCurrency string

const (
	SourceUSD  SourceCurrency = "USD"
	SourceLBP  SourceCurrency = "LBP"
	SourceBoth SourceCurrency = "both"
)

// EntryDraft is the caller's input for a new ledger entry.
// A nil amount is missing and will be back-filled by conversion.
type EntryDraft struct {
	Kind        EntryKind
	Direction   Direction
	USD         *decimal.Decimal
	LBP         *decimal.Decimal
	Actor       ActorRef
	Category    Category
	OrderRef    string
	Description string
	CreatedBy   string
	// At is the effective time used to pick the exchange rate; zero means now
	At time.Time
	// Memo entries are kept in the ledger but never move the cashbox
	Memo            bool
	LinkedEntryID   *uuid.UUID
	ReversesEntryID *uuid.UUID
}

// Validate checks the draft before any conversion or persistence
func (d EntryDraft) Validate() error {
	if _, ok := allKinds[d.Kind]; !ok {
		return validationError("unknown entry kind %q", d.Kind)
	}
	if !d.Direction.IsValid() {
		return validationError("direction must be credit or debit, got %q", d.Direction)
	}
	if d.Category == "" {
		return validationError("category is required")
	}
	if d.Memo == d.Category.AffectsCashbox() {
		return validationError("category %q does not match memo flag", d.Category)
	}
	if err := d.Actor.Validate(); err != nil {
		return err
	}
	if d.USD == nil && d.LBP == nil {
		return validationError("at least one of amount_usd or amount_lbp is required")
	}
	if d.USD != nil && d.USD.IsNegative() {
		return validationError("amount_usd must not be negative")
	}
	if d.LBP != nil && d.LBP.IsNegative() {
		return validationError("amount_lbp must not be negative")
	}
	if (d.USD == nil || d.USD.IsZero()) && (d.LBP == nil || d.LBP.IsZero()) {
		return validationError("at least one amount must be non-zero")
	}
	return nil
}

// LedgerEntry is an immutable record of one monetary movement
type LedgerEntry struct {
	ID              uuid.UUID
	Kind            EntryKind
	Direction       Direction
	Amounts         valueobject.Amounts
	Source          SourceCurrency
	ExchangeRate    *decimal.Decimal
	Actor           ActorRef
	Category        Category
	OrderRef        string
	Description     string
	CreatedBy       string
	CreatedAt       time.Time
	AffectsCashbox  bool
	LinkedEntryID   *uuid.UUID
	ReversesEntryID *uuid.UUID
}

// NewLedgerEntry builds an entry from a validated draft and its resolved amounts
func NewLedgerEntry(d EntryDraft, res Resolution) (*LedgerEntry, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if res.Amounts.AnyNegative() {
		return nil, validationError("resolved amounts must not be negative")
	}
	if res.Amounts.IsZero() {
		return nil, validationError("resolved amounts must not both be zero")
	}
	actor := d.Actor
	if actor.Type == "" {
		actor = NoActor
	}
	return &LedgerEntry{
		ID:              uuid.New(),
		Kind:            d.Kind,
		Direction:       d.Direction,
		Amounts:         res.Amounts,
		Source:          res.Source,
		ExchangeRate:    res.Rate,
		Actor:           actor,
		Category:        d.Category,
		OrderRef:        strings.TrimSpace(d.OrderRef),
		Description:     strings.TrimSpace(d.Description),
		CreatedBy:       d.CreatedBy,
		CreatedAt:       time.Now().UTC(),
		AffectsCashbox:  !d.Memo,
		LinkedEntryID:   d.LinkedEntryID,
		ReversesEntryID: d.ReversesEntryID,
	}, nil
}

// Signed returns the amounts signed by direction (credit positive)
func (e *LedgerEntry) Signed() valueobject.Amounts {
	return e.Direction.Signed(e.Amounts)
}

// CashDelta returns the change this entry makes to the cashbox
func (e *LedgerEntry) CashDelta() valueobject.Amounts {
	if !e.AffectsCashbox {
		return valueobject.ZeroAmounts()
	}
	return e.Signed()
}

// SettlementAmount returns what the entry contributes to the actor's payments total.
// A debit means the company handed value to the actor and counts positive.
func (e *LedgerEntry) SettlementAmount() (valueobject.Amounts, bool) {
	if e.Actor.IsNone() || !e.AffectsCashbox {
		return valueobject.ZeroAmounts(), false
	}
	kind := e.Kind
	if kind == KindReversal {
		// reversals settle exactly like the entry they offset
		return e.Signed().Neg(), e.ReversesEntryID != nil
	}
	if !kind.IsSettlement() {
		return valueobject.ZeroAmounts(), false
	}
	return e.Signed().Neg(), true
}

// Reversal builds the draft for an offsetting entry
func (e *LedgerEntry) Reversal(reason, createdBy string) EntryDraft {
	usd := e.Amounts.USD
	lbp := e.Amounts.LBP
	id := e.ID
	description := "reversal of " + e.ID.String()
	if reason = strings.TrimSpace(reason); reason != "" {
		description += ": " + reason
	}
	category := CategoryCorrection
	if !e.AffectsCashbox {
		category = CategoryAccounting
	}
	return EntryDraft{
		Kind:            KindReversal,
		Direction:       e.Direction.Opposite(),
		USD:             &usd,
		LBP:             &lbp,
		Actor:           e.Actor,
		Category:        category,
		OrderRef:        e.OrderRef,
		Description:     description,
		CreatedBy:       createdBy,
		Memo:            !e.AffectsCashbox,
		ReversesEntryID: &id,
	}
}

// ErrEntryNotFound is returned when a ledger entry does not exist
var ErrEntryNotFound = shared.NewDomainError(shared.CodeNotFound, "Ledger entry not found")
