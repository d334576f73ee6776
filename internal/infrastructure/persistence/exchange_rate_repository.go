package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormExchangeRateRepository implements cashbox.ExchangeRateRepository using GORM
type GormExchangeRateRepository struct {
	db *gorm.DB
}

// NewGormExchangeRateRepository creates a new GormExchangeRateRepository
func NewGormExchangeRateRepository(db *gorm.DB) *GormExchangeRateRepository {
	return &GormExchangeRateRepository{db: db}
}

// LatestAt returns the rate with the greatest effective_at not after at
func (r *GormExchangeRateRepository) LatestAt(ctx context.Context, at time.Time) (*cashbox.ExchangeRate, error) {
	if at.IsZero() {
		at = time.Now()
	}
	var row models.ExchangeRateModel
	err := r.db.WithContext(ctx).
		Where("effective_at <= ?", at.UTC()).
		Order("effective_at DESC").
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, cashbox.ErrNoRate(at)
		}
		return nil, translateError(err)
	}
	return row.ToDomain(), nil
}

// Append adds a rate to the history
func (r *GormExchangeRateRepository) Append(ctx context.Context, rate *cashbox.ExchangeRate) error {
	if rate.ID == uuid.Nil {
		rate.ID = uuid.New()
	}
	var row models.ExchangeRateModel
	row.FromDomain(rate)
	return translateError(r.db.WithContext(ctx).Create(&row).Error)
}

// List returns rate history, newest first
func (r *GormExchangeRateRepository) List(ctx context.Context, filter cashbox.RateFilter) ([]cashbox.ExchangeRate, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.ExchangeRateModel{})
		if filter.From != nil {
			query = query.Where("effective_at >= ?", filter.From.UTC())
		}
		if filter.To != nil {
			query = query.Where("effective_at <= ?", filter.To.UTC())
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	page := filter.Page.Normalize()
	var rows []models.ExchangeRateModel
	if err := scoped().Order("effective_at DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&rows).Error; err != nil {
		return nil, 0, translateError(err)
	}

	rates := make([]cashbox.ExchangeRate, len(rows))
	for i := range rows {
		rates[i] = *rows[i].ToDomain()
	}
	return rates, total, nil
}

var _ cashbox.ExchangeRateRepository = (*GormExchangeRateRepository)(nil)
