package cashbox

import (
	"context"
	"testing"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amounts(usd, lbp string) valueobject.Amounts {
	return valueobject.NewAmounts(dec(usd), dec(lbp))
}

func state(status cashbox.OrderStatus, payment cashbox.PaymentStatus) *cashbox.OrderState {
	return &cashbox.OrderState{Status: status, PaymentStatus: payment}
}

func notification(orderID string, typ cashbox.OrderType, client cashbox.ActorRef, from, to *cashbox.OrderState, total, fee valueobject.Amounts) TransitionNotification {
	return TransitionNotification{
		OrderID:       orderID,
		OrderType:     typ,
		ActorRef:      client,
		PreviousState: from,
		NewState:      *to,
		Amounts:       cashbox.OrderAmounts{Total: total, DeliveryFee: fee},
	}
}

// deliver creates an unpaid order and moves it to delivered/paid
func deliver(t *testing.T, f *fixture, orderID string, typ cashbox.OrderType, client cashbox.ActorRef, totalUSD, feeUSD string) {
	t.Helper()
	ctx := context.Background()
	total, fee := amounts(totalUSD, "0"), amounts(feeUSD, "0")
	_, err := f.lifecycle.ApplyTransition(ctx, notification(orderID, typ, client, nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), total, fee))
	require.NoError(t, err)
	_, err = f.lifecycle.ApplyTransition(ctx, notification(orderID, typ, client,
		state(cashbox.StatusInTransit, cashbox.PaymentUnpaid),
		state(cashbox.StatusDelivered, cashbox.PaymentPaid), total, fee))
	require.NoError(t, err)
}

func TestLifecycle_DeliveryFeeAppliedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := cashbox.Client{ID: "c-1"}.Ref()
	total, fee := amounts("50", "0"), amounts("5", "0")

	res, err := f.lifecycle.ApplyTransition(ctx, notification("o-1", cashbox.OrderEcommerce, client, nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), total, fee))
	require.NoError(t, err)
	assert.Equal(t, cashbox.RuleNone, res.Rule)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Empty(t, res.Entries)

	delivered := notification("o-1", cashbox.OrderEcommerce, client,
		state(cashbox.StatusInTransit, cashbox.PaymentUnpaid),
		state(cashbox.StatusDelivered, cashbox.PaymentPaid), total, fee)

	res, err = f.lifecycle.ApplyTransition(ctx, delivered)
	require.NoError(t, err)
	assert.Equal(t, cashbox.RuleDeliveryRevenue, res.Rule)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	require.Len(t, res.Entries, 1)
	entry := res.Entries[0]
	assert.Equal(t, cashbox.KindOrderDeliveryFee, entry.Kind)
	assert.Equal(t, cashbox.CategoryOrderRevenue, entry.Category)
	assert.Equal(t, "o-1", entry.OrderRef)
	assert.Equal(t, client, entry.Actor)
	requireAmounts(t, "5", "0", res.Balance.Balance)

	// the identical notification again is compared with the stored state
	res, err = f.lifecycle.ApplyTransition(ctx, delivered)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	page, err := f.ledger.List(ctx, cashbox.LedgerFilter{OrderRef: "o-1"}, cashbox.GroupFlat)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Page.Total)

	balance, err := f.actors.BalanceFor(ctx, client, time.Time{})
	require.NoError(t, err)
	requireAmounts(t, "45", "0", balance.OrdersTotal)
	requireAmounts(t, "45", "0", balance.Closing)
	f.requireInSync(t)
}

func TestLifecycle_RedeliveryDoesNotRepeatRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := cashbox.Client{ID: "c-2"}.Ref()
	deliver(t, f, "o-2", cashbox.OrderInstant, client, "20", "4")

	_, err := f.lifecycle.ApplyTransition(ctx, notification("o-2", cashbox.OrderInstant, client, nil,
		state(cashbox.StatusInTransit, cashbox.PaymentUnpaid), amounts("20", "0"), amounts("4", "0")))
	require.NoError(t, err)
	res, err := f.lifecycle.ApplyTransition(ctx, notification("o-2", cashbox.OrderInstant, client, nil,
		state(cashbox.StatusDelivered, cashbox.PaymentPaid), amounts("20", "0"), amounts("4", "0")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, res.Entries)

	requireAmounts(t, "4", "0", f.balance(t).Balance)
	balance, err := f.actors.BalanceFor(ctx, client, time.Time{})
	require.NoError(t, err)
	requireAmounts(t, "16", "0", balance.Closing)
}

func TestLifecycle_PrepaidRoundTripNetsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100", "5000000")
	before := f.balance(t).Balance
	client := cashbox.Client{ID: "c-3"}.Ref()
	total := amounts("30", "2685000")

	res, err := f.lifecycle.ApplyTransition(ctx, notification("o-3", cashbox.OrderEcommerce, client, nil,
		state(cashbox.StatusPending, cashbox.PaymentPrepaid), total, valueobject.ZeroAmounts()))
	require.NoError(t, err)
	assert.Equal(t, cashbox.RulePrepaidFloat, res.Rule)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, cashbox.Debit, res.Entries[0].Direction)
	requireAmounts(t, "70", "2315000", res.Balance.Balance)

	res, err = f.lifecycle.ApplyTransition(ctx, notification("o-3", cashbox.OrderEcommerce, client,
		state(cashbox.StatusPending, cashbox.PaymentPrepaid),
		state(cashbox.StatusDelivered, cashbox.PaymentPaid), total, valueobject.ZeroAmounts()))
	require.NoError(t, err)
	assert.Equal(t, cashbox.RulePrepaidRecovery, res.Rule)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, cashbox.KindOrderPrepaidRecovery, res.Entries[0].Kind)

	assert.True(t, f.balance(t).Balance.Equal(before))
	balance, err := f.actors.BalanceFor(ctx, client, time.Time{})
	require.NoError(t, err)
	assert.True(t, balance.Closing.IsZero())
	f.requireInSync(t)
}

func TestLifecycle_PrepaidFloatNeedsCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lifecycle.ApplyTransition(ctx, notification("o-4", cashbox.OrderEcommerce, cashbox.Client{ID: "c"}.Ref(), nil,
		state(cashbox.StatusPending, cashbox.PaymentPrepaid), amounts("30", "0"), valueobject.ZeroAmounts()))
	requireCode(t, err, shared.CodeInsufficientBalance)

	// the failed unit left no order state behind, so the float can be applied once funded
	f.fund(t, "30", "0")
	res, err := f.lifecycle.ApplyTransition(ctx, notification("o-4", cashbox.OrderEcommerce, cashbox.Client{ID: "c"}.Ref(), nil,
		state(cashbox.StatusPending, cashbox.PaymentPrepaid), amounts("30", "0"), valueobject.ZeroAmounts()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, f.balance(t).Balance.IsZero())
}

func TestLifecycle_GoToMarketRecoveredByCashout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100", "0")
	before := f.balance(t).Balance
	client := cashbox.Client{ID: "c-5"}.Ref()
	total := amounts("40", "0")

	res, err := f.lifecycle.ApplyTransition(ctx, notification("o-5", cashbox.OrderGoToMarket, client, nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), total, valueobject.ZeroAmounts()))
	require.NoError(t, err)
	assert.Equal(t, cashbox.RuleGTMFloat, res.Rule)
	requireAmounts(t, "60", "0", res.Balance.Balance)

	// delivery of a go-to-market order has no cash effect
	res, err = f.lifecycle.ApplyTransition(ctx, notification("o-5", cashbox.OrderGoToMarket, client,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid),
		state(cashbox.StatusDelivered, cashbox.PaymentPaid), total, valueobject.ZeroAmounts()))
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	_, err = f.cash.ClientCashout(ctx, ClientCashoutRequest{ClientID: "someone-else", OrderRef: "o-5"})
	requireCode(t, err, shared.CodeValidation)

	_, err = f.cash.ClientCashout(ctx, ClientCashoutRequest{ClientID: "c-5", OrderRef: "o-5",
		CashRequest: CashRequest{Amount: BothAmounts(dec("39"), dec("0"))}})
	requireCode(t, err, shared.CodeValidation)

	out, err := f.cash.ClientCashout(ctx, ClientCashoutRequest{ClientID: "c-5", OrderRef: "o-5"})
	require.NoError(t, err)
	assert.Equal(t, cashbox.KindOrderGTMRecovery, out.Entry.Kind)
	assert.Equal(t, cashbox.Credit, out.Entry.Direction)
	assert.Equal(t, "o-5", out.Entry.OrderRef)
	assert.True(t, out.Balance.Balance.Equal(before))

	_, err = f.cash.ClientCashout(ctx, ClientCashoutRequest{ClientID: "c-5", OrderRef: "o-5"})
	assert.ErrorIs(t, err, shared.ErrAlreadySettled)

	balance, err := f.actors.BalanceFor(ctx, client, time.Time{})
	require.NoError(t, err)
	assert.True(t, balance.Closing.IsZero())
	f.requireInSync(t)
}

func TestLifecycle_CashoutUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.cash.ClientCashout(context.Background(), ClientCashoutRequest{ClientID: "c", OrderRef: "missing"})
	requireCode(t, err, shared.CodeNotFound)

	deliver(t, f, "o-6", cashbox.OrderEcommerce, cashbox.Client{ID: "c"}.Ref(), "10", "1")
	_, err = f.cash.ClientCashout(context.Background(), ClientCashoutRequest{ClientID: "c", OrderRef: "o-6"})
	requireCode(t, err, shared.CodeValidation)
}

func TestLifecycle_CancellationHasNoCashEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100", "0")
	client := cashbox.Client{ID: "c-7"}.Ref()

	_, err := f.lifecycle.ApplyTransition(ctx, notification("o-7", cashbox.OrderGoToMarket, client, nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), amounts("25", "0"), valueobject.ZeroAmounts()))
	require.NoError(t, err)
	res, err := f.lifecycle.ApplyTransition(ctx, notification("o-7", "", cashbox.NoActor, nil,
		state(cashbox.StatusCancelled, cashbox.PaymentUnpaid), valueobject.ZeroAmounts(), valueobject.ZeroAmounts()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	requireAmounts(t, "75", "0", f.balance(t).Balance)
}

func TestLifecycle_InvalidNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lifecycle.ApplyTransition(ctx, notification("", cashbox.OrderEcommerce, cashbox.NoActor, nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), valueobject.ZeroAmounts(), valueobject.ZeroAmounts()))
	requireCode(t, err, shared.CodeValidation)

	_, err = f.lifecycle.ApplyTransition(ctx, notification("o-8", "pickup", cashbox.NoActor, nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), valueobject.ZeroAmounts(), valueobject.ZeroAmounts()))
	requireCode(t, err, shared.CodeValidation)

	_, err = f.lifecycle.ApplyTransition(ctx, notification("o-8", cashbox.OrderEcommerce, cashbox.Driver{ID: "d"}.Ref(), nil,
		state(cashbox.StatusPending, cashbox.PaymentUnpaid), valueobject.ZeroAmounts(), valueobject.ZeroAmounts()))
	requireCode(t, err, shared.CodeValidation)
}

func TestDecodeTransitionNotification(t *testing.T) {
	n, err := DecodeTransitionNotification([]byte(`{
		"order_id": "o-9",
		"order_type": "ecommerce",
		"actor_ref": {"type": "client", "id": "c-9"},
		"previous_state": {"status": "in_transit", "payment_status": "unpaid"},
		"new_state": {"status": "delivered", "payment_status": "paid"},
		"amounts": {"total": {"usd": "50", "lbp": "0"}, "delivery_fee": {"usd": 5, "lbp": 0}}
	}`))
	require.NoError(t, err)
	tr := n.ToTransition()
	require.NoError(t, tr.Validate())
	require.NotNil(t, tr.From)
	assert.Equal(t, cashbox.StatusInTransit, tr.From.Status)
	assert.Equal(t, cashbox.Client{ID: "c-9"}.Ref(), tr.Client)
	requireAmounts(t, "5", "0", tr.Amounts.DeliveryFee)

	_, err = DecodeTransitionNotification([]byte(`{"order_id":`))
	requireCode(t, err, shared.CodeValidation)
}
