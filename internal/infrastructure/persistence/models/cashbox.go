package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashboxBalanceModel is the singleton cached balance row
type CashboxBalanceModel struct {
	ID         int       `gorm:"primaryKey;autoIncrement:false"`
	BalanceUSD int64     `gorm:"column:balance_usd;not null;default:0"`
	BalanceLBP int64     `gorm:"column:balance_lbp;not null;default:0"`
	InitialUSD int64     `gorm:"column:initial_usd;not null;default:0"`
	InitialLBP int64     `gorm:"column:initial_lbp;not null;default:0"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CashboxBalanceModel) TableName() string {
	return "cashbox_balances"
}

// ToDomain converts the row to a domain balance
func (m *CashboxBalanceModel) ToDomain() *cashbox.CashboxBalance {
	return &cashbox.CashboxBalance{
		Balance:   valueobject.AmountsFromMinor(m.BalanceUSD, m.BalanceLBP),
		Initial:   valueobject.AmountsFromMinor(m.InitialUSD, m.InitialLBP),
		UpdatedAt: m.UpdatedAt,
	}
}

// LedgerEntryModel is one row of the append-only ledger
type LedgerEntryModel struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Kind            string           `gorm:"type:varchar(40);not null;index"`
	Direction       string           `gorm:"type:varchar(10);not null"`
	AmountUSD       int64            `gorm:"column:amount_usd;not null"`
	AmountLBP       int64            `gorm:"column:amount_lbp;not null"`
	SourceCurrency  string           `gorm:"type:varchar(10);not null"`
	ExchangeRate    *decimal.Decimal `gorm:"type:decimal(18,4)"`
	ActorType       string           `gorm:"type:varchar(20);not null;index:idx_ledger_actor,priority:1"`
	ActorID         string           `gorm:"type:varchar(100);not null;default:'';index:idx_ledger_actor,priority:2"`
	Category        string           `gorm:"type:varchar(40);not null;index"`
	OrderRef        string           `gorm:"type:varchar(100);not null;default:'';index"`
	Description     string           `gorm:"type:text"`
	CreatedBy       string           `gorm:"type:varchar(100);not null"`
	CreatedAt       time.Time        `gorm:"not null;index"`
	AffectsCashbox  bool             `gorm:"not null"`
	LinkedEntryID   *uuid.UUID       `gorm:"type:uuid;index"`
	ReversesEntryID *uuid.UUID       `gorm:"type:uuid;uniqueIndex"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// ToDomain converts the row to a domain entry
func (m *LedgerEntryModel) ToDomain() *cashbox.LedgerEntry {
	return &cashbox.LedgerEntry{
		ID:              m.ID,
		Kind:            cashbox.EntryKind(m.Kind),
		Direction:       cashbox.Direction(m.Direction),
		Amounts:         valueobject.AmountsFromMinor(m.AmountUSD, m.AmountLBP),
		Source:          cashbox.SourceCurrency(m.SourceCurrency),
		ExchangeRate:    m.ExchangeRate,
		Actor:           cashbox.ActorRef{Type: cashbox.ActorType(m.ActorType), ID: m.ActorID},
		Category:        cashbox.Category(m.Category),
		OrderRef:        m.OrderRef,
		Description:     m.Description,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt.UTC(),
		AffectsCashbox:  m.AffectsCashbox,
		LinkedEntryID:   m.LinkedEntryID,
		ReversesEntryID: m.ReversesEntryID,
	}
}

// FromDomain populates the row from a domain entry
func (m *LedgerEntryModel) FromDomain(e *cashbox.LedgerEntry) {
	actor := e.Actor
	if actor.IsNone() {
		actor = cashbox.NoActor
	}
	m.ID = e.ID
	m.Kind = string(e.Kind)
	m.Direction = string(e.Direction)
	m.AmountUSD = e.Amounts.USDCents()
	m.AmountLBP = e.Amounts.LBPUnits()
	m.SourceCurrency = string(e.Source)
	m.ExchangeRate = e.ExchangeRate
	m.ActorType = string(actor.Type)
	m.ActorID = actor.ID
	m.Category = string(e.Category)
	m.OrderRef = e.OrderRef
	m.Description = e.Description
	m.CreatedBy = e.CreatedBy
	m.CreatedAt = e.CreatedAt.UTC()
	m.AffectsCashbox = e.AffectsCashbox
	m.LinkedEntryID = e.LinkedEntryID
	m.ReversesEntryID = e.ReversesEntryID
}

// ExchangeRateModel is one row of the rate history
type ExchangeRateModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	LBPPerUSD   decimal.Decimal `gorm:"column:lbp_per_usd;type:decimal(18,4);not null"`
	EffectiveAt time.Time       `gorm:"not null;index"`
	CreatedBy   string          `gorm:"type:varchar(100);not null"`
	CreatedAt   time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExchangeRateModel) TableName() string {
	return "exchange_rates"
}

// ToDomain converts the row to a domain rate
func (m *ExchangeRateModel) ToDomain() *cashbox.ExchangeRate {
	return &cashbox.ExchangeRate{
		ID:          m.ID,
		LBPPerUSD:   m.LBPPerUSD,
		EffectiveAt: m.EffectiveAt.UTC(),
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

// FromDomain populates the row from a domain rate
func (m *ExchangeRateModel) FromDomain(r *cashbox.ExchangeRate) {
	m.ID = r.ID
	m.LBPPerUSD = r.LBPPerUSD
	m.EffectiveAt = r.EffectiveAt.UTC()
	m.CreatedBy = r.CreatedBy
	m.CreatedAt = r.CreatedAt.UTC()
}

// BalanceSnapshot is the JSON column holding a recalculated actor balance
type BalanceSnapshot struct {
	cashbox.ActorBalance
}

// Value implements driver.Valuer
func (s BalanceSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s.ActorBalance)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *BalanceSnapshot) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("balance snapshot: unsupported column type")
	}
	return json.Unmarshal(raw, &s.ActorBalance)
}

// ActorAccountModel holds an actor's opening balance and last snapshot
type ActorAccountModel struct {
	VersionedModel
	ActorType   string           `gorm:"type:varchar(20);primaryKey"`
	ActorID     string           `gorm:"type:varchar(100);primaryKey"`
	DisplayName string           `gorm:"type:varchar(200)"`
	OpeningUSD  int64            `gorm:"column:opening_usd;not null;default:0"`
	OpeningLBP  int64            `gorm:"column:opening_lbp;not null;default:0"`
	Snapshot    *BalanceSnapshot `gorm:"type:jsonb"`
}

// TableName returns the table name for GORM
func (ActorAccountModel) TableName() string {
	return "actor_accounts"
}

// ToDomain converts the row to a domain account
func (m *ActorAccountModel) ToDomain() *cashbox.ActorAccount {
	a := &cashbox.ActorAccount{
		BaseVersioned: m.ToDomainVersioned(),
		Actor:         cashbox.ActorRef{Type: cashbox.ActorType(m.ActorType), ID: m.ActorID},
		DisplayName:   m.DisplayName,
		Opening:       valueobject.AmountsFromMinor(m.OpeningUSD, m.OpeningLBP),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
	if m.Snapshot != nil {
		snap := m.Snapshot.ActorBalance
		a.Snapshot = &snap
	}
	return a
}

// FromDomain populates the row from a domain account
func (m *ActorAccountModel) FromDomain(a *cashbox.ActorAccount) {
	m.FromDomainVersioned(a.BaseVersioned, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	m.ActorType = string(a.Actor.Type)
	m.ActorID = a.Actor.ID
	m.DisplayName = a.DisplayName
	m.OpeningUSD = a.Opening.USDCents()
	m.OpeningLBP = a.Opening.LBPUnits()
	m.Snapshot = nil
	if a.Snapshot != nil {
		m.Snapshot = &BalanceSnapshot{ActorBalance: *a.Snapshot}
	}
}

// OrderCashStateModel is the per-order record of applied cash effects
type OrderCashStateModel struct {
	VersionedModel
	OrderID             string     `gorm:"type:varchar(100);primaryKey"`
	OrderType           string     `gorm:"type:varchar(20);not null"`
	ClientType          string     `gorm:"type:varchar(20);not null;index:idx_order_client,priority:1"`
	ClientID            string     `gorm:"type:varchar(100);not null;default:'';index:idx_order_client,priority:2"`
	Status              string     `gorm:"type:varchar(20);not null"`
	PaymentStatus       string     `gorm:"type:varchar(20);not null"`
	TotalUSD            int64      `gorm:"column:total_usd;not null;default:0"`
	TotalLBP            int64      `gorm:"column:total_lbp;not null;default:0"`
	DeliveryFeeUSD      int64      `gorm:"column:delivery_fee_usd;not null;default:0"`
	DeliveryFeeLBP      int64      `gorm:"column:delivery_fee_lbp;not null;default:0"`
	PrepaidFloatApplied bool       `gorm:"not null;default:false"`
	PrepaidRecovered    bool       `gorm:"not null;default:false"`
	GTMFloatApplied     bool       `gorm:"column:gtm_float_applied;not null;default:false"`
	GTMRecovered        bool       `gorm:"column:gtm_recovered;not null;default:false"`
	RevenueApplied      bool       `gorm:"not null;default:false"`
	ObligationUSD       int64      `gorm:"column:obligation_usd;not null;default:0"`
	ObligationLBP       int64      `gorm:"column:obligation_lbp;not null;default:0"`
	ObligationAt        *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (OrderCashStateModel) TableName() string {
	return "order_cash_states"
}

// ToDomain converts the row to domain state
func (m *OrderCashStateModel) ToDomain() *cashbox.OrderCashState {
	s := &cashbox.OrderCashState{
		BaseVersioned: m.ToDomainVersioned(),
		OrderID:       m.OrderID,
		OrderType:     cashbox.OrderType(m.OrderType),
		Client:        cashbox.ActorRef{Type: cashbox.ActorType(m.ClientType), ID: m.ClientID},
		State: cashbox.OrderState{
			Status:        cashbox.OrderStatus(m.Status),
			PaymentStatus: cashbox.PaymentStatus(m.PaymentStatus),
		},
		Amounts: cashbox.OrderAmounts{
			Total:       valueobject.AmountsFromMinor(m.TotalUSD, m.TotalLBP),
			DeliveryFee: valueobject.AmountsFromMinor(m.DeliveryFeeUSD, m.DeliveryFeeLBP),
		},
		PrepaidFloatApplied: m.PrepaidFloatApplied,
		PrepaidRecovered:    m.PrepaidRecovered,
		GTMFloatApplied:     m.GTMFloatApplied,
		GTMRecovered:        m.GTMRecovered,
		RevenueApplied:      m.RevenueApplied,
		Obligation:          valueobject.AmountsFromMinor(m.ObligationUSD, m.ObligationLBP),
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
	if m.ObligationAt != nil {
		at := m.ObligationAt.UTC()
		s.ObligationAt = &at
	}
	return s
}

// FromDomain populates the row from domain state
func (m *OrderCashStateModel) FromDomain(s *cashbox.OrderCashState) {
	client := s.Client
	if client.IsNone() {
		client = cashbox.NoActor
	}
	m.FromDomainVersioned(s.BaseVersioned, s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	m.OrderID = s.OrderID
	m.OrderType = string(s.OrderType)
	m.ClientType = string(client.Type)
	m.ClientID = client.ID
	m.Status = string(s.State.Status)
	m.PaymentStatus = string(s.State.PaymentStatus)
	m.TotalUSD = s.Amounts.Total.USDCents()
	m.TotalLBP = s.Amounts.Total.LBPUnits()
	m.DeliveryFeeUSD = s.Amounts.DeliveryFee.USDCents()
	m.DeliveryFeeLBP = s.Amounts.DeliveryFee.LBPUnits()
	m.PrepaidFloatApplied = s.PrepaidFloatApplied
	m.PrepaidRecovered = s.PrepaidRecovered
	m.GTMFloatApplied = s.GTMFloatApplied
	m.GTMRecovered = s.GTMRecovered
	m.RevenueApplied = s.RevenueApplied
	m.ObligationUSD = s.Obligation.USDCents()
	m.ObligationLBP = s.Obligation.LBPUnits()
	m.ObligationAt = s.ObligationAt
}

// All returns every model, in creation order, for schema setup in tests and tooling
func All() []any {
	return []any{
		&CashboxBalanceModel{},
		&LedgerEntryModel{},
		&ExchangeRateModel{},
		&ActorAccountModel{},
		&OrderCashStateModel{},
	}
}
