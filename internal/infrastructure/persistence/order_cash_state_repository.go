package persistence

import (
	"context"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderCashStateRepository implements cashbox.OrderCashStateRepository using GORM
type GormOrderCashStateRepository struct {
	db *gorm.DB
}

// NewGormOrderCashStateRepository creates a new GormOrderCashStateRepository
func NewGormOrderCashStateRepository(db *gorm.DB) *GormOrderCashStateRepository {
	return &GormOrderCashStateRepository{db: db}
}

// Find returns the state or ErrOrderNotFound
func (r *GormOrderCashStateRepository) Find(ctx context.Context, orderID string) (*cashbox.OrderCashState, error) {
	return r.find(r.db.WithContext(ctx), orderID)
}

// FindForUpdate returns the state locked for update or ErrOrderNotFound
func (r *GormOrderCashStateRepository) FindForUpdate(ctx context.Context, orderID string) (*cashbox.OrderCashState, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orderID)
}

func (r *GormOrderCashStateRepository) find(q *gorm.DB, orderID string) (*cashbox.OrderCashState, error) {
	var row models.OrderCashStateModel
	if err := q.First(&row, "order_id = ?", orderID).Error; err != nil {
		return nil, notFound(err, cashbox.ErrOrderNotFound)
	}
	return row.ToDomain(), nil
}

// Create inserts a new state. A concurrent insert of the same order surfaces as CONCURRENCY_CONFLICT.
func (r *GormOrderCashStateRepository) Create(ctx context.Context, state *cashbox.OrderCashState) error {
	var row models.OrderCashStateModel
	row.FromDomain(state)
	return translateError(r.db.WithContext(ctx).Create(&row).Error)
}

// SaveWithLock updates the state if its version is unchanged and bumps the version
func (r *GormOrderCashStateRepository) SaveWithLock(ctx context.Context, state *cashbox.OrderCashState) error {
	var row models.OrderCashStateModel
	row.FromDomain(state)
	result := r.db.WithContext(ctx).
		Model(&models.OrderCashStateModel{}).
		Where("order_id = ? AND version = ?", state.OrderID, state.Version).
		Updates(map[string]any{
			"status":                row.Status,
			"payment_status":        row.PaymentStatus,
			"client_type":           row.ClientType,
			"client_id":             row.ClientID,
			"total_usd":             row.TotalUSD,
			"total_lbp":             row.TotalLBP,
			"delivery_fee_usd":      row.DeliveryFeeUSD,
			"delivery_fee_lbp":      row.DeliveryFeeLBP,
			"prepaid_float_applied": row.PrepaidFloatApplied,
			"prepaid_recovered":     row.PrepaidRecovered,
			"gtm_float_applied":     row.GTMFloatApplied,
			"gtm_recovered":         row.GTMRecovered,
			"revenue_applied":       row.RevenueApplied,
			"obligation_usd":        row.ObligationUSD,
			"obligation_lbp":        row.ObligationLBP,
			"obligation_at":         row.ObligationAt,
			"version":               state.Version + 1,
			"updated_at":            time.Now().UTC(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError(shared.CodeConcurrencyConflict, "Order cash state was modified by another transaction")
	}
	state.IncrementVersion()
	return nil
}

// ObligationsFor returns the goods obligations owed to a client up to asOf, oldest first
func (r *GormOrderCashStateRepository) ObligationsFor(ctx context.Context, client cashbox.ActorRef, asOf time.Time) ([]cashbox.Obligation, error) {
	var rows []models.OrderCashStateModel
	err := r.db.WithContext(ctx).
		Where("client_type = ? AND client_id = ?", client.Type, client.ID).
		Where("obligation_at IS NOT NULL AND obligation_at <= ?", asOf.UTC()).
		Where("obligation_usd <> 0 OR obligation_lbp <> 0").
		Order("obligation_at ASC").
		Order("order_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}

	obligations := make([]cashbox.Obligation, len(rows))
	for i, row := range rows {
		obligations[i] = cashbox.Obligation{
			OrderRef: row.OrderID,
			Amounts:  valueobject.AmountsFromMinor(row.ObligationUSD, row.ObligationLBP),
			At:       row.ObligationAt.UTC(),
		}
	}
	return obligations, nil
}

var _ cashbox.OrderCashStateRepository = (*GormOrderCashStateRepository)(nil)
