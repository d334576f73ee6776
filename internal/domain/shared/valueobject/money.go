package valueobject

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents one of the two currencies tracked by the cashbox
type Currency string

const (
	USD Currency = "USD" // US Dollar, 2 decimal places
	LBP Currency = "LBP" // Lebanese Pound, whole units only
)

// ErrUnsupportedCurrency is returned for any currency other than USD or LBP
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// IsValid reports whether the currency is tracked by the cashbox
func (c Currency) IsValid() bool {
	return c == USD || c == LBP
}

// Places returns the number of decimal places kept for the currency
func (c Currency) Places() int32 {
	if c == USD {
		return 2
	}
	return 0
}

// Other returns the counterpart currency
func (c Currency) Other() Currency {
	if c == USD {
		return LBP
	}
	return USD
}

// Round is the single rounding function used for every stored or converted amount.
// It rounds half away from zero to the currency's minimal unit.
func Round(amount decimal.Decimal, currency Currency) decimal.Decimal {
	return amount.Round(currency.Places())
}

// Money is a value object representing an amount in a single currency
// It is immutable - all operations return new Money instances
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates Money rounded to the currency's minimal unit
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return Money{
		amount:   Round(amount, currency),
		currency: currency,
	}, nil
}

// NewMoneyFromString creates Money from a string representation
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount string: %w", err)
	}
	return NewMoney(d, currency)
}

// NewMoneyFromMinor creates Money from minimal units (cents for USD, pounds for LBP)
func NewMoneyFromMinor(units int64, currency Currency) (Money, error) {
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return Money{
		amount:   decimal.New(units, -currency.Places()),
		currency: currency,
	}, nil
}

// USDFromString parses a USD amount, panicking on malformed input. Intended for constants and tests.
func USDFromString(amount string) Money {
	m, err := NewMoneyFromString(amount, USD)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero creates a zero Money with the specified currency
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency
func (m Money) Currency() Currency {
	return m.currency
}

// MinorUnits returns the amount in minimal units (cents for USD)
func (m Money) MinorUnits() int64 {
	return m.amount.Shift(m.currency.Places()).Round(0).IntPart()
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Add adds another Money of the same currency
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add %s to %s", other.currency, m.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract subtracts another Money of the same currency
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot subtract %s from %s", other.currency, m.currency)
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Equals checks if two Money values are equal
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String returns the amount fixed to the currency's places followed by the code
func (m Money) String() string {
	return m.amount.StringFixed(m.currency.Places()) + " " + string(m.currency)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}{
		Amount:   m.amount.StringFixed(m.currency.Places()),
		Currency: m.currency,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := NewMoneyFromString(v.Amount, v.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Amounts is a pair of amounts, one per tracked currency.
// Fields are exported and plain decimals so the pair can be signed (running sums).
type Amounts struct {
	USD decimal.Decimal `json:"usd"`
	LBP decimal.Decimal `json:"lbp"`
}

// NewAmounts builds a pair rounded to each currency's minimal unit
func NewAmounts(usd, lbp decimal.Decimal) Amounts {
	return Amounts{USD: Round(usd, USD), LBP: Round(lbp, LBP)}
}

// ZeroAmounts returns a zero pair
func ZeroAmounts() Amounts {
	return Amounts{USD: decimal.Zero, LBP: decimal.Zero}
}

// AmountsFromMinor builds a pair from USD cents and whole LBP
func AmountsFromMinor(usdCents, lbp int64) Amounts {
	return Amounts{USD: decimal.New(usdCents, -2), LBP: decimal.NewFromInt(lbp)}
}

// Add returns a + b
func (a Amounts) Add(b Amounts) Amounts {
	return Amounts{USD: a.USD.Add(b.USD), LBP: a.LBP.Add(b.LBP)}
}

// Sub returns a - b
func (a Amounts) Sub(b Amounts) Amounts {
	return Amounts{USD: a.USD.Sub(b.USD), LBP: a.LBP.Sub(b.LBP)}
}

// Neg returns -a
func (a Amounts) Neg() Amounts {
	return Amounts{USD: a.USD.Neg(), LBP: a.LBP.Neg()}
}

// IsZero reports whether both amounts are zero
func (a Amounts) IsZero() bool {
	return a.USD.IsZero() && a.LBP.IsZero()
}

// AnyNegative reports whether either amount is below zero
func (a Amounts) AnyNegative() bool {
	return a.USD.IsNegative() || a.LBP.IsNegative()
}

// Equal compares both amounts
func (a Amounts) Equal(b Amounts) bool {
	return a.USD.Equal(b.USD) && a.LBP.Equal(b.LBP)
}

// Get returns the amount for a currency
func (a Amounts) Get(c Currency) decimal.Decimal {
	if c == USD {
		return a.USD
	}
	return a.LBP
}

// USDCents returns the USD amount in cents
func (a Amounts) USDCents() int64 {
	return a.USD.Shift(2).Round(0).IntPart()
}

// LBPUnits returns the LBP amount in whole pounds
func (a Amounts) LBPUnits() int64 {
	return a.LBP.Round(0).IntPart()
}

// String renders both amounts
func (a Amounts) String() string {
	return a.USD.StringFixed(2) + " USD / " + a.LBP.StringFixed(0) + " LBP"
}
