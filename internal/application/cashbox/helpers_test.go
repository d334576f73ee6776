package cashbox

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/persistence"
	"github.com/delivery/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testRate = 89500

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) appended() []*cashbox.LedgerEntryAppended {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*cashbox.LedgerEntryAppended
	for _, e := range p.events {
		if a, ok := e.(*cashbox.LedgerEntryAppended); ok {
			out = append(out, a)
		}
	}
	return out
}

type fixture struct {
	uow        *persistence.GormUnitOfWork
	publisher  *recordingPublisher
	cash       *CashService
	lifecycle  *LifecycleService
	actors     *ActorBalanceService
	ledger     *LedgerQueryService
	rates      *RateService
	reconciler *ReconciliationService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "cash.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := persistence.NewSQLiteDatabase(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, db.DB.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = db.Close() })

	uow := persistence.NewGormUnitOfWork(db)
	pub := &recordingPublisher{}
	opts = append([]Option{WithEventPublisher(pub)}, opts...)
	return &fixture{
		uow:        uow,
		publisher:  pub,
		cash:       NewCashService(uow, opts...),
		lifecycle:  NewLifecycleService(uow, opts...),
		actors:     NewActorBalanceService(uow, opts...),
		ledger:     NewLedgerQueryService(uow, opts...),
		rates:      NewRateService(uow, opts...),
		reconciler: NewReconciliationService(uow, opts...),
	}
}

// withRate seeds a rate effective an hour ago
func (f *fixture) withRate(t *testing.T) *fixture {
	t.Helper()
	_, err := f.rates.SetRate(context.Background(), decimal.NewFromInt(testRate), time.Now().UTC().Add(-time.Hour), "test")
	require.NoError(t, err)
	return f
}

// fund credits the cashbox with both currencies
func (f *fixture) fund(t *testing.T, usd, lbp string) {
	t.Helper()
	_, err := f.cash.Income(context.Background(), CashRequest{
		Amount:      BothAmounts(decimal.RequireFromString(usd), decimal.RequireFromString(lbp)),
		Description: "float",
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T) *cashbox.CashboxBalance {
	t.Helper()
	b, err := f.cash.Balance(context.Background())
	require.NoError(t, err)
	return b
}

// requireInSync asserts the cached balance equals initial plus the ledger sum
func (f *fixture) requireInSync(t *testing.T) {
	t.Helper()
	report, err := f.reconciler.Reconcile(context.Background(), false)
	require.NoError(t, err)
	require.True(t, report.InSync, "drift usd=%s lbp=%s", report.Drift.USD, report.Drift.LBP)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, shared.CodeOf(err), "error: %v", err)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmounts(t *testing.T, usd, lbp string, got valueobject.Amounts) {
	t.Helper()
	require.True(t, dec(usd).Equal(got.USD), "usd: want %s, got %s", usd, got.USD)
	require.True(t, dec(lbp).Equal(got.LBP), "lbp: want %s, got %s", lbp, got.LBP)
}
