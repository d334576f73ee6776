package cashbox

import (
	"time"

	"github.com/delivery/backend/internal/domain/shared/valueobject"
)

// CashboxID is the primary key of the singleton balance row
const CashboxID = 1

// CashboxBalance is the cached aggregate of every cash-affecting ledger entry
type CashboxBalance struct {
	Balance   valueobject.Amounts
	Initial   valueobject.Amounts
	UpdatedAt time.Time
}

// NewCashboxBalance returns a zeroed balance
func NewCashboxBalance() *CashboxBalance {
	return &CashboxBalance{
		Balance:   valueobject.ZeroAmounts(),
		Initial:   valueobject.ZeroAmounts(),
		UpdatedAt: time.Now().UTC(),
	}
}

// CheckDebit returns INSUFFICIENT_BALANCE if debiting the amounts would drive either currency negative
func (b *CashboxBalance) CheckDebit(a valueobject.Amounts) error {
	after := b.Balance.Sub(a)
	if after.USD.IsNegative() {
		return insufficientBalance("debit of %s USD exceeds cashbox balance of %s USD",
			a.USD.StringFixed(2), b.Balance.USD.StringFixed(2))
	}
	if after.LBP.IsNegative() {
		return insufficientBalance("debit of %s LBP exceeds cashbox balance of %s LBP",
			a.LBP.StringFixed(0), b.Balance.LBP.StringFixed(0))
	}
	return nil
}

// Apply applies a delta in memory. Used to compute expected values, never as the write path.
func (b *CashboxBalance) Apply(direction Direction, a valueobject.Amounts) error {
	if direction == Debit {
		if err := b.CheckDebit(a); err != nil {
			return err
		}
	}
	b.Balance = b.Balance.Add(direction.Signed(a))
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// ReconciliationReport compares the cached balance against the ledger
type ReconciliationReport struct {
	Initial  valueobject.Amounts `json:"initial"`
	Credits  valueobject.Amounts `json:"credits"`
	Debits   valueobject.Amounts `json:"debits"`
	Computed valueobject.Amounts `json:"computed"`
	Cached   valueobject.Amounts `json:"cached"`
	Drift    valueobject.Amounts `json:"drift"`
	Entries  int64               `json:"entries"`
	InSync   bool                `json:"in_sync"`
	Repaired bool                `json:"repaired"`
	At       time.Time           `json:"at"`
}

// Reconcile builds a report from the cached row and the ledger totals
func Reconcile(cached *CashboxBalance, totals LedgerTotals) ReconciliationReport {
	computed := cached.Initial.Add(totals.Credits).Sub(totals.Debits)
	drift := cached.Balance.Sub(computed)
	return ReconciliationReport{
		Initial:  cached.Initial,
		Credits:  totals.Credits,
		Debits:   totals.Debits,
		Computed: computed,
		Cached:   cached.Balance,
		Drift:    drift,
		Entries:  totals.Count,
		InSync:   drift.IsZero(),
		At:       time.Now().UTC(),
	}
}
