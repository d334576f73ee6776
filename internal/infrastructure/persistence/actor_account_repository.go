package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormActorAccountRepository implements cashbox.ActorAccountRepository using GORM
type GormActorAccountRepository struct {
	db *gorm.DB
}

// NewGormActorAccountRepository creates a new GormActorAccountRepository
func NewGormActorAccountRepository(db *gorm.DB) *GormActorAccountRepository {
	return &GormActorAccountRepository{db: db}
}

// ResolveActor validates the reference. Accounts are created lazily, so an actor
// without an account still resolves.
func (r *GormActorAccountRepository) ResolveActor(ctx context.Context, ref cashbox.ActorRef) (cashbox.Actor, error) {
	return ref.Resolve()
}

// Find returns the account or ErrActorNotFound
func (r *GormActorAccountRepository) Find(ctx context.Context, ref cashbox.ActorRef) (*cashbox.ActorAccount, error) {
	return r.find(ctx, ref, false)
}

func (r *GormActorAccountRepository) find(ctx context.Context, ref cashbox.ActorRef, lock bool) (*cashbox.ActorAccount, error) {
	var row models.ActorAccountModel
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("actor_type = ? AND actor_id = ?", ref.Type, ref.ID).First(&row).Error
	if err != nil {
		return nil, notFound(err, cashbox.ErrActorNotFound)
	}
	return row.ToDomain(), nil
}

// LockOrCreate returns the account locked for update, creating it with a zero opening if needed
func (r *GormActorAccountRepository) LockOrCreate(ctx context.Context, ref cashbox.ActorRef) (*cashbox.ActorAccount, error) {
	account, err := r.find(ctx, ref, true)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, cashbox.ErrActorNotFound) {
		return nil, err
	}

	account, err = cashbox.NewActorAccount(ref, "")
	if err != nil {
		return nil, err
	}
	var row models.ActorAccountModel
	row.FromDomain(account)
	// ON CONFLICT covers a concurrent creator; the locked read below sees its row
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_type"}, {Name: "actor_id"}},
			DoNothing: true,
		}).
		Create(&row).Error; err != nil {
		return nil, translateError(err)
	}
	return r.find(ctx, ref, true)
}

// Create inserts a new account
func (r *GormActorAccountRepository) Create(ctx context.Context, account *cashbox.ActorAccount) error {
	var row models.ActorAccountModel
	row.FromDomain(account)
	return translateError(r.db.WithContext(ctx).Create(&row).Error)
}

// SaveWithLock updates the account if its version is unchanged and bumps the version
func (r *GormActorAccountRepository) SaveWithLock(ctx context.Context, account *cashbox.ActorAccount) error {
	var row models.ActorAccountModel
	row.FromDomain(account)
	updates := map[string]any{
		"display_name": row.DisplayName,
		"opening_usd":  row.OpeningUSD,
		"opening_lbp":  row.OpeningLBP,
		"snapshot":     row.Snapshot,
		"version":      account.Version + 1,
		"updated_at":   time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).
		Model(&models.ActorAccountModel{}).
		Where("actor_type = ? AND actor_id = ? AND version = ?", row.ActorType, row.ActorID, account.Version).
		Updates(updates)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError(shared.CodeConcurrencyConflict, "Actor account was modified by another transaction")
	}
	account.IncrementVersion()
	return nil
}

// List returns accounts of a type, ordered by id
func (r *GormActorAccountRepository) List(ctx context.Context, actorType cashbox.ActorType, page shared.Page) ([]cashbox.ActorAccount, int64, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.ActorAccountModel{})
		if actorType != "" {
			q = q.Where("actor_type = ?", actorType)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	page = page.Normalize()
	var rows []models.ActorAccountModel
	if err := scoped().Order("actor_type").Order("actor_id").
		Offset(page.Offset()).Limit(page.Size).
		Find(&rows).Error; err != nil {
		return nil, 0, translateError(err)
	}

	accounts := make([]cashbox.ActorAccount, len(rows))
	for i := range rows {
		accounts[i] = *rows[i].ToDomain()
	}
	return accounts, total, nil
}

var _ cashbox.ActorAccountRepository = (*GormActorAccountRepository)(nil)
