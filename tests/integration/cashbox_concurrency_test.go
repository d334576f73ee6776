package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	appcashbox "github.com/delivery/backend/internal/application/cashbox"
	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/event"
	"github.com/delivery/backend/internal/infrastructure/persistence"
	"github.com/delivery/backend/tests/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const workers = 20

type suite struct {
	db         *TestDB
	bus        *event.AsyncEventBus
	events     *testutil.RecordingHandler
	cash       *appcashbox.CashService
	lifecycle  *appcashbox.LifecycleService
	actors     *appcashbox.ActorBalanceService
	ledger     *appcashbox.LedgerQueryService
	reconciler *appcashbox.ReconciliationService
}

func newSuite(t *testing.T) *suite {
	t.Helper()
	db := NewTestDB(t)

	events := testutil.NewRecordingHandler(cashbox.EventTypeLedgerEntryAppended)
	bus := event.NewAsyncEventBus(zap.NewNop(), 1024)
	bus.Subscribe(events, events.EventTypes()...)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})

	uow := persistence.NewGormUnitOfWork(db.Database)
	opts := []appcashbox.Option{
		appcashbox.WithEventPublisher(bus),
		appcashbox.WithRetryPolicy(appcashbox.RetryPolicy{
			MaxRetries:      10,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
		}),
	}
	rates := appcashbox.NewRateService(uow, opts...)
	_, err := rates.SetRate(context.Background(), decimal.NewFromInt(89500), time.Now().UTC().Add(-time.Hour), "test")
	require.NoError(t, err)

	return &suite{
		db:         db,
		bus:        bus,
		events:     events,
		cash:       appcashbox.NewCashService(uow, opts...),
		lifecycle:  appcashbox.NewLifecycleService(uow, opts...),
		actors:     appcashbox.NewActorBalanceService(uow, opts...),
		ledger:     appcashbox.NewLedgerQueryService(uow, opts...),
		reconciler: appcashbox.NewReconciliationService(uow, opts...),
	}
}

func (s *suite) requireInSync(t *testing.T) *cashbox.ReconciliationReport {
	t.Helper()
	report, err := s.reconciler.Reconcile(context.Background(), false)
	require.NoError(t, err)
	require.True(t, report.InSync, "drift usd=%s lbp=%s", report.Drift.USD, report.Drift.LBP)
	return report
}

// parallel runs fn once per worker and collects the errors
func parallel(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func usd(v string) appcashbox.Amount {
	return appcashbox.USDAmount(decimal.RequireFromString(v))
}

func TestConcurrentIncome(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	errs := parallel(workers, func(i int) error {
		_, err := s.cash.Income(ctx, appcashbox.CashRequest{
			Amount:      appcashbox.BothAmounts(decimal.NewFromInt(1), decimal.NewFromInt(1000)),
			Description: fmt.Sprintf("till %d", i),
		})
		return err
	})
	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	balance, err := s.cash.Balance(ctx)
	require.NoError(t, err)
	testutil.RequireAmounts(t, "20", "20000", balance.Balance)

	report := s.requireInSync(t)
	assert.EqualValues(t, workers, report.Entries)

	testutil.RequireEventually(t, func() bool {
		return len(s.events.Appended()) == workers
	}, 5*time.Second, 10*time.Millisecond, "every committed entry is published")
}

func TestConcurrentExpensesNeverOverdraw(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	_, err := s.cash.Income(ctx, appcashbox.CashRequest{Amount: appcashbox.BothAmounts(decimal.NewFromInt(10), decimal.Zero)})
	require.NoError(t, err)

	errs := parallel(workers, func(int) error {
		_, err := s.cash.Expense(ctx, appcashbox.CashRequest{Amount: appcashbox.BothAmounts(decimal.NewFromInt(1), decimal.Zero)})
		return err
	})

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, shared.CodeInsufficientBalance, shared.CodeOf(err), "error: %v", err)
	}
	assert.Equal(t, 10, succeeded)

	balance, err := s.cash.Balance(ctx)
	require.NoError(t, err)
	testutil.RequireAmounts(t, "0", "0", balance.Balance)
	s.requireInSync(t)
}

func TestConcurrentDriverOperations(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	_, err := s.cash.Income(ctx, appcashbox.CashRequest{Amount: appcashbox.BothAmounts(decimal.NewFromInt(500), decimal.Zero)})
	require.NoError(t, err)

	errs := parallel(workers, func(i int) error {
		req := appcashbox.ActorCashRequest{ActorID: "d-1", CashRequest: appcashbox.CashRequest{Amount: usd("5")}}
		if i%2 == 0 {
			_, err := s.cash.DriverAdvance(ctx, req)
			return err
		}
		_, err := s.cash.DriverReturn(ctx, req)
		return err
	})
	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	balance, err := s.cash.Balance(ctx)
	require.NoError(t, err)
	testutil.RequireAmounts(t, "500", "0", balance.Balance)
	s.requireInSync(t)

	driver := cashbox.ActorRef{Type: cashbox.ActorDriver, ID: "d-1"}
	computed, err := s.actors.BalanceFor(ctx, driver, time.Time{})
	require.NoError(t, err)
	stored, err := s.actors.Recalculate(ctx, driver)
	require.NoError(t, err)
	assert.True(t, computed.SameFigures(*stored))
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()
	client := cashbox.ActorRef{Type: cashbox.ActorClient, ID: "c-1"}
	amounts := cashbox.OrderAmounts{
		Total:       valueobject.NewAmounts(decimal.NewFromInt(50), decimal.Zero),
		DeliveryFee: valueobject.NewAmounts(decimal.NewFromInt(5), decimal.Zero),
	}

	_, err := s.lifecycle.ApplyTransition(ctx, appcashbox.TransitionNotification{
		OrderID:   "o-1",
		OrderType: cashbox.OrderEcommerce,
		ActorRef:  client,
		NewState:  cashbox.OrderState{Status: cashbox.StatusPending, PaymentStatus: cashbox.PaymentUnpaid},
		Amounts:   amounts,
	})
	require.NoError(t, err)

	delivered := appcashbox.TransitionNotification{
		OrderID:       "o-1",
		OrderType:     cashbox.OrderEcommerce,
		ActorRef:      client,
		PreviousState: &cashbox.OrderState{Status: cashbox.StatusInTransit, PaymentStatus: cashbox.PaymentUnpaid},
		NewState:      cashbox.OrderState{Status: cashbox.StatusDelivered, PaymentStatus: cashbox.PaymentPaid},
		Amounts:       amounts,
	}
	errs := parallel(workers, func(int) error {
		_, err := s.lifecycle.ApplyTransition(ctx, delivered)
		return err
	})
	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	totals, err := s.ledger.Totals(ctx, cashbox.LedgerFilter{OrderRef: "o-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, totals.Count, "the delivery fee is recorded once")

	balance, err := s.cash.Balance(ctx)
	require.NoError(t, err)
	testutil.RequireAmounts(t, "5", "0", balance.Balance)
	s.requireInSync(t)
}

func TestConcurrentReversal(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	res, err := s.cash.Income(ctx, appcashbox.CashRequest{Amount: usd("40")})
	require.NoError(t, err)

	errs := parallel(workers, func(int) error {
		_, err := s.cash.ReverseEntry(ctx, appcashbox.ReverseEntryRequest{EntryID: res.Entry.ID, CreatedBy: "ops"})
		return err
	})
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Contains(t, []string{shared.CodeAlreadySettled, shared.CodeConcurrencyConflict}, shared.CodeOf(err), "error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	balance, err := s.cash.Balance(ctx)
	require.NoError(t, err)
	testutil.RequireAmounts(t, "0", "0", balance.Balance)
	s.requireInSync(t)
}

func TestDriverMemosStayOutOfTheCashbox(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	_, err := s.cash.Income(ctx, appcashbox.CashRequest{Amount: usd("100")})
	require.NoError(t, err)

	errs := parallel(workers, func(i int) error {
		req := appcashbox.ActorCashRequest{ActorID: fmt.Sprintf("d-%d", i%4), CashRequest: appcashbox.CashRequest{Amount: usd("1")}}
		_, err := s.cash.DriverAdvance(ctx, req)
		return err
	})
	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	res, err := s.cash.DriverExpense(ctx, appcashbox.ActorCashRequest{ActorID: "d-0", CashRequest: appcashbox.CashRequest{Amount: usd("5")}})
	require.NoError(t, err)
	require.NotNil(t, res.Memo)

	stored, err := s.ledger.Get(ctx, res.Memo.ID)
	require.NoError(t, err)
	assert.False(t, stored.AffectsCashbox)

	report, err := s.reconciler.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.InSync)
	assert.False(t, report.Repaired)
	testutil.RequireAmounts(t, "75", "0", report.Cached)

	balance, err := s.cash.AdminDeleteEntry(ctx, res.Memo.ID, "ops")
	require.NoError(t, err)
	testutil.RequireAmounts(t, "75", "0", balance.Balance)
	s.requireInSync(t)
}
