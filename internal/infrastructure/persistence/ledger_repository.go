package persistence

import (
	"context"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormLedgerRepository implements cashbox.LedgerRepository using GORM
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// Append persists a new entry
func (r *GormLedgerRepository) Append(ctx context.Context, entry *cashbox.LedgerEntry) error {
	if entry == nil {
		return shared.NewDomainError(shared.CodeValidation, "entry is required")
	}
	if entry.Amounts.AnyNegative() {
		return shared.NewDomainError(shared.CodeValidation, "entry amounts must not be negative")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var row models.LedgerEntryModel
	row.FromDomain(entry)
	return translateError(r.db.WithContext(ctx).Create(&row).Error)
}

// FindByID returns an entry or ErrEntryNotFound
func (r *GormLedgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*cashbox.LedgerEntry, error) {
	var row models.LedgerEntryModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, cashbox.ErrEntryNotFound)
	}
	return row.ToDomain(), nil
}

// FindReversalOf returns the entry offsetting id, or ErrEntryNotFound
func (r *GormLedgerRepository) FindReversalOf(ctx context.Context, id uuid.UUID) (*cashbox.LedgerEntry, error) {
	var row models.LedgerEntryModel
	if err := r.db.WithContext(ctx).First(&row, "reverses_entry_id = ?", id).Error; err != nil {
		return nil, notFound(err, cashbox.ErrEntryNotFound)
	}
	return row.ToDomain(), nil
}

// List returns a page of entries and the total count matching the filter
func (r *GormLedgerRepository) List(ctx context.Context, filter cashbox.LedgerFilter) ([]cashbox.LedgerEntry, int64, error) {
	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.LedgerEntryModel{}), filter).
		Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	page := filter.Page.Normalize()
	var rows []models.LedgerEntryModel
	err := r.applyOrder(r.applyFilter(r.db.WithContext(ctx), filter), filter.Descending).
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&rows).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return toDomainEntries(rows), total, nil
}

// ListAll returns every matching entry in chronological order, ignoring pagination
func (r *GormLedgerRepository) ListAll(ctx context.Context, filter cashbox.LedgerFilter) ([]cashbox.LedgerEntry, error) {
	var rows []models.LedgerEntryModel
	if err := r.applyOrder(r.applyFilter(r.db.WithContext(ctx), filter), false).
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	return toDomainEntries(rows), nil
}

// Totals sums credits and debits of cash-affecting entries matching the filter
func (r *GormLedgerRepository) Totals(ctx context.Context, filter cashbox.LedgerFilter) (cashbox.LedgerTotals, error) {
	var sums struct {
		CreditUSD int64
		CreditLBP int64
		DebitUSD  int64
		DebitLBP  int64
		Entries   int64
	}
	filter.CashOnly = true
	err := r.applyFilter(r.db.WithContext(ctx).Model(&models.LedgerEntryModel{}), filter).
		Select(
			"COALESCE(SUM(CASE WHEN direction = ? THEN amount_usd ELSE 0 END), 0) AS credit_usd, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN amount_lbp ELSE 0 END), 0) AS credit_lbp, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN amount_usd ELSE 0 END), 0) AS debit_usd, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN amount_lbp ELSE 0 END), 0) AS debit_lbp, "+
				"COUNT(*) AS entries",
			cashbox.Credit, cashbox.Credit, cashbox.Debit, cashbox.Debit,
		).
		Scan(&sums).Error
	if err != nil {
		return cashbox.LedgerTotals{}, translateError(err)
	}
	return cashbox.LedgerTotals{
		Credits: valueobject.AmountsFromMinor(sums.CreditUSD, sums.CreditLBP),
		Debits:  valueobject.AmountsFromMinor(sums.DebitUSD, sums.DebitLBP),
		Count:   sums.Entries,
	}, nil
}

// Delete removes an entry. Administrative correction only.
func (r *GormLedgerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.LedgerEntryModel{}, "id = ?", id)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return cashbox.ErrEntryNotFound
	}
	return nil
}

// applyFilter applies filter options without pagination
func (r *GormLedgerRepository) applyFilter(query *gorm.DB, filter cashbox.LedgerFilter) *gorm.DB {
	if filter.ActorType != "" {
		query = query.Where("actor_type = ?", filter.ActorType)
		if filter.ActorID != "" {
			query = query.Where("actor_id = ?", filter.ActorID)
		}
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		query = query.Where("kind IN ?", kinds)
	}
	if filter.OrderRef != "" {
		query = query.Where("order_ref = ?", filter.OrderRef)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", filter.To.UTC())
	}
	if filter.CashOnly {
		query = query.Where("affects_cashbox = ?", true)
	}
	return query
}

func (r *GormLedgerRepository) applyOrder(query *gorm.DB, descending bool) *gorm.DB {
	if descending {
		return query.Order("created_at DESC").Order("id DESC")
	}
	return query.Order("created_at ASC").Order("id ASC")
}

func toDomainEntries(rows []models.LedgerEntryModel) []cashbox.LedgerEntry {
	entries := make([]cashbox.LedgerEntry, len(rows))
	for i := range rows {
		entries[i] = *rows[i].ToDomain()
	}
	return entries
}

// Ensure GormLedgerRepository implements LedgerRepository
var _ cashbox.LedgerRepository = (*GormLedgerRepository)(nil)
