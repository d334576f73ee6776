package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBalanceStore implements cashbox.BalanceStore on the singleton cashbox_balances row
type GormBalanceStore struct {
	db *gorm.DB
}

// NewGormBalanceStore creates a new GormBalanceStore
func NewGormBalanceStore(db *gorm.DB) *GormBalanceStore {
	return &GormBalanceStore{db: db}
}

// ensure creates the zeroed row if it does not exist yet
func (s *GormBalanceStore) ensure(ctx context.Context) error {
	row := models.CashboxBalanceModel{ID: cashbox.CashboxID, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&row).Error
	return translateError(err)
}

func (s *GormBalanceStore) find(ctx context.Context, lock bool) (*models.CashboxBalanceModel, error) {
	var row models.CashboxBalanceModel
	q := s.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&row, "id = ?", cashbox.CashboxID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormBalanceStore) load(ctx context.Context, lock bool) (*cashbox.CashboxBalance, error) {
	row, err := s.find(ctx, lock)
	if err == nil {
		return row.ToDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translateError(err)
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	if row, err = s.find(ctx, lock); err != nil {
		return nil, translateError(err)
	}
	return row.ToDomain(), nil
}

// Get returns the balance, creating a zeroed row on first access
func (s *GormBalanceStore) Get(ctx context.Context) (*cashbox.CashboxBalance, error) {
	return s.load(ctx, false)
}

// GetForUpdate returns the balance with the row locked for the rest of the transaction
func (s *GormBalanceStore) GetForUpdate(ctx context.Context) (*cashbox.CashboxBalance, error) {
	return s.load(ctx, true)
}

// ApplyDelta is the single write path of the cached balance.
// A debit is guarded in the WHERE clause so the row is never observed below zero.
func (s *GormBalanceStore) ApplyDelta(ctx context.Context, direction cashbox.Direction, amounts valueobject.Amounts) (*cashbox.CashboxBalance, error) {
	if !direction.IsValid() {
		return nil, shared.NewDomainError(shared.CodeValidation, "direction must be credit or debit")
	}
	if amounts.AnyNegative() {
		return nil, shared.NewDomainError(shared.CodeValidation, "balance delta must not be negative")
	}

	affected, err := s.update(ctx, direction, amounts)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// either the row does not exist yet or the debit guard failed
		current, err := s.Get(ctx)
		if err != nil {
			return nil, err
		}
		if direction == cashbox.Debit {
			if err := current.CheckDebit(amounts); err != nil {
				return nil, err
			}
		}
		if affected, err = s.update(ctx, direction, amounts); err != nil {
			return nil, err
		}
		if affected == 0 {
			if direction == cashbox.Debit {
				return nil, shared.ErrInsufficientBalance
			}
			return nil, shared.ErrConcurrencyConflict
		}
	}
	return s.Get(ctx)
}

func (s *GormBalanceStore) update(ctx context.Context, direction cashbox.Direction, amounts valueobject.Amounts) (int64, error) {
	usd, lbp := amounts.USDCents(), amounts.LBPUnits()
	q := s.db.WithContext(ctx).Model(&models.CashboxBalanceModel{})
	op := "+"
	if direction == cashbox.Debit {
		op = "-"
		q = q.Where("id = ? AND balance_usd >= ? AND balance_lbp >= ?", cashbox.CashboxID, usd, lbp)
	} else {
		q = q.Where("id = ?", cashbox.CashboxID)
	}
	result := q.Updates(map[string]any{
		"balance_usd": gorm.Expr("balance_usd "+op+" ?", usd),
		"balance_lbp": gorm.Expr("balance_lbp "+op+" ?", lbp),
		"updated_at":  time.Now().UTC(),
	})
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

// SetInitial sets the opening and current balance
func (s *GormBalanceStore) SetInitial(ctx context.Context, initial valueobject.Amounts) (*cashbox.CashboxBalance, error) {
	if initial.AnyNegative() {
		return nil, shared.NewDomainError(shared.CodeValidation, "initial balance must not be negative")
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	usd, lbp := initial.USDCents(), initial.LBPUnits()
	err := s.db.WithContext(ctx).Model(&models.CashboxBalanceModel{}).
		Where("id = ?", cashbox.CashboxID).
		Updates(map[string]any{
			"initial_usd": usd,
			"initial_lbp": lbp,
			"balance_usd": usd,
			"balance_lbp": lbp,
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, translateError(err)
	}
	return s.Get(ctx)
}

// Overwrite replaces the cached balance. Reconciliation repair only.
func (s *GormBalanceStore) Overwrite(ctx context.Context, balance valueobject.Amounts) error {
	if balance.AnyNegative() {
		return shared.NewDomainError(shared.CodeInsufficientBalance,
			"computed balance is negative: "+balance.String())
	}
	result := s.db.WithContext(ctx).Model(&models.CashboxBalanceModel{}).
		Where("id = ?", cashbox.CashboxID).
		Updates(map[string]any{
			"balance_usd": balance.USDCents(),
			"balance_lbp": balance.LBPUnits(),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ cashbox.BalanceStore = (*GormBalanceStore)(nil)
