package cashbox

import (
	"context"
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// LedgerFilter selects ledger entries
type LedgerFilter struct {
	ActorType ActorType
	ActorID   string
	Category  Category
	Kinds     []EntryKind
	OrderRef  string
	From      *time.Time
	To        *time.Time
	// CashOnly restricts to entries that move the cashbox
	CashOnly bool
	// Descending orders newest first; the default is chronological
	Descending bool
	Page       shared.Page
}

// ForActor returns a filter for every entry of an actor up to asOf
func ForActor(ref ActorRef, asOf time.Time) LedgerFilter {
	return LedgerFilter{ActorType: ref.Type, ActorID: ref.ID, To: &asOf}
}

// LedgerTotals are set-level sums over cash-affecting entries
type LedgerTotals struct {
	Credits valueobject.Amounts
	Debits  valueobject.Amounts
	Count   int64
}

// LedgerRepository is the append-only transaction log
type LedgerRepository interface {
	// Append persists a new entry
	Append(ctx context.Context, entry *LedgerEntry) error
	// FindByID returns an entry or ErrEntryNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	// FindReversalOf returns the entry offsetting id, or ErrEntryNotFound
	FindReversalOf(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	// List returns a page of entries and the total count matching the filter
	List(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int64, error)
	// ListAll returns every matching entry in chronological order, ignoring pagination
	ListAll(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	// Totals sums credits and debits of cash-affecting entries matching the filter
	Totals(ctx context.Context, filter LedgerFilter) (LedgerTotals, error)
	// Delete removes an entry. Administrative correction only.
	Delete(ctx context.Context, id uuid.UUID) error
}

// BalanceStore owns the singleton cashbox row
type BalanceStore interface {
	// Get returns the balance, creating a zeroed row on first access
	Get(ctx context.Context) (*CashboxBalance, error)
	// GetForUpdate returns the balance with the row locked for the rest of the transaction
	GetForUpdate(ctx context.Context) (*CashboxBalance, error)
	// ApplyDelta atomically adds or subtracts the amounts.
	// A debit that would drive either currency negative fails with INSUFFICIENT_BALANCE.
	ApplyDelta(ctx context.Context, direction Direction, amounts valueobject.Amounts) (*CashboxBalance, error)
	// SetInitial sets the opening and current balance
	SetInitial(ctx context.Context, initial valueobject.Amounts) (*CashboxBalance, error)
	// Overwrite replaces the cached balance. Reconciliation repair only.
	Overwrite(ctx context.Context, balance valueobject.Amounts) error
}

// RateFilter selects rate history
type RateFilter struct {
	From *time.Time
	To   *time.Time
	Page shared.Page
}

// ExchangeRateRepository is the append-only rate history
type ExchangeRateRepository interface {
	RateSource
	Append(ctx context.Context, rate *ExchangeRate) error
	List(ctx context.Context, filter RateFilter) ([]ExchangeRate, int64, error)
}

// ActorAccountRepository persists actor opening balances and snapshots
type ActorAccountRepository interface {
	ActorResolver
	// Find returns the account or ErrActorNotFound
	Find(ctx context.Context, ref ActorRef) (*ActorAccount, error)
	// LockOrCreate returns the account locked for update, creating it with a zero opening if needed
	LockOrCreate(ctx context.Context, ref ActorRef) (*ActorAccount, error)
	// Create inserts a new account
	Create(ctx context.Context, account *ActorAccount) error
	// SaveWithLock updates the account if its version is unchanged
	SaveWithLock(ctx context.Context, account *ActorAccount) error
	// List returns accounts of a type
	List(ctx context.Context, actorType ActorType, page shared.Page) ([]ActorAccount, int64, error)
}

// OrderCashStateRepository persists per-order cash state
type OrderCashStateRepository interface {
	// Find returns the state or ErrOrderNotFound
	Find(ctx context.Context, orderID string) (*OrderCashState, error)
	// FindForUpdate returns the state locked for update or ErrOrderNotFound
	FindForUpdate(ctx context.Context, orderID string) (*OrderCashState, error)
	// Create inserts a new state
	Create(ctx context.Context, state *OrderCashState) error
	// SaveWithLock updates the state if its version is unchanged
	SaveWithLock(ctx context.Context, state *OrderCashState) error
	// ObligationsFor returns the goods obligations owed to a client up to asOf, oldest first
	ObligationsFor(ctx context.Context, client ActorRef, asOf time.Time) ([]Obligation, error)
}

// Repositories groups the stores bound to one transaction
type Repositories struct {
	Ledger  LedgerRepository
	Balance BalanceStore
	Rates   ExchangeRateRepository
	Actors  ActorAccountRepository
	Orders  OrderCashStateRepository
}

// UnitOfWork runs fn inside a single transaction. Every store in repos is bound to it;
// fn returning an error rolls everything back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	// Repositories returns stores bound to no transaction, for reads
	Repositories() Repositories
}
