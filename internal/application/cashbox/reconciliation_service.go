package cashbox

import (
	"context"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ReconciliationService compares the cached cashbox balance against the ledger
type ReconciliationService struct {
	*core
}

// NewReconciliationService creates the service
func NewReconciliationService(uow cashbox.UnitOfWork, opts ...Option) *ReconciliationService {
	return &ReconciliationService{core: newCore(uow, opts...)}
}

// Reconcile recomputes initial + credits - debits with the balance row locked.
// With repair a drifted cache is overwritten by the computed value in the same transaction.
func (s *ReconciliationService) Reconcile(ctx context.Context, repair bool) (report *cashbox.ReconciliationReport, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "reconcile")
	defer span.End()
	telemetry.SetAttributes(span, "reconcile.repair", repair)
	started := time.Now()
	defer func() { s.finish(ctx, "reconcile", started, err) }()

	telemetry.WithProfilingLabels(ctx, telemetry.RegionLabels("reconcile"), func(ctx context.Context) {
		err = s.transact(ctx, "reconcile", func(ctx context.Context, repos cashbox.Repositories) error {
			cached, err := repos.Balance.GetForUpdate(ctx)
			if err != nil {
				return err
			}
			totals, err := repos.Ledger.Totals(ctx, cashbox.LedgerFilter{})
			if err != nil {
				return err
			}
			r := cashbox.Reconcile(cached, totals)
			if repair && !r.InSync {
				if err := repos.Balance.Overwrite(ctx, r.Computed); err != nil {
					return err
				}
				r.Repaired = true
			}
			report = &r
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.metrics.RecordDrift(ctx, report.Drift.USD, report.Drift.LBP)
	if !report.InSync {
		s.log(ctx).Warn("Cashbox balance drifted from ledger",
			zap.String("drift_usd", report.Drift.USD.StringFixed(2)),
			zap.String("drift_lbp", report.Drift.LBP.StringFixed(0)),
			zap.Int64("entries", report.Entries),
			zap.Bool("repaired", report.Repaired),
		)
	}
	telemetry.SetAttributes(span, "reconcile.in_sync", report.InSync)
	telemetry.SetOK(span)
	return report, nil
}
