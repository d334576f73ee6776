package cashbox

import (
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amount is a caller-supplied pair where a nil side is back-filled by conversion
type Amount struct {
	USD *decimal.Decimal `json:"amount_usd,omitempty" validate:"omitempty,gte=0"`
	LBP *decimal.Decimal `json:"amount_lbp,omitempty" validate:"omitempty,gte=0"`
}

// USDAmount returns an Amount with only the USD side supplied
func USDAmount(usd decimal.Decimal) Amount {
	return Amount{USD: &usd}
}

// LBPAmount returns an Amount with only the LBP side supplied
func LBPAmount(lbp decimal.Decimal) Amount {
	return Amount{LBP: &lbp}
}

// BothAmounts returns an Amount with both sides supplied
func BothAmounts(usd, lbp decimal.Decimal) Amount {
	return Amount{USD: &usd, LBP: &lbp}
}

// CashRequest is the common input of a manual cash operation
type CashRequest struct {
	Amount
	Description string `json:"description" validate:"max=500"`
	CreatedBy   string `json:"created_by" validate:"max=100"`
	// At selects the exchange rate; zero means now
	At time.Time `json:"at"`
}

// ActorCashRequest is a cash operation attributed to an actor
type ActorCashRequest struct {
	ActorID string `json:"actor_id" validate:"required,max=64"`
	CashRequest
}

// ClientCashoutRequest pays a client or, with OrderRef, recovers the go-to-market float of that order
type ClientCashoutRequest struct {
	ClientID string `json:"client_id" validate:"required,max=64"`
	OrderRef string `json:"order_ref" validate:"max=64"`
	CashRequest
}

// ReverseEntryRequest offsets a committed entry
type ReverseEntryRequest struct {
	EntryID   uuid.UUID `json:"entry_id" validate:"required"`
	Reason    string    `json:"reason" validate:"max=500"`
	CreatedBy string    `json:"created_by" validate:"max=100"`
}

// InitialBalanceRequest sets the opening cash of an empty ledger
type InitialBalanceRequest struct {
	USD       decimal.Decimal `json:"usd" validate:"gte=0"`
	LBP       decimal.Decimal `json:"lbp" validate:"gte=0"`
	CreatedBy string          `json:"created_by" validate:"max=100"`
}

// OperationResult is returned by every cash operation
type OperationResult struct {
	Entry   *cashbox.LedgerEntry    `json:"entry"`
	Memo    *cashbox.LedgerEntry    `json:"memo,omitempty"`
	Balance *cashbox.CashboxBalance `json:"balance"`
}
