package persistence

import (
	"context"
	"fmt"

	"github.com/delivery/backend/internal/domain/cashbox"
	"gorm.io/gorm"
)

// GormUnitOfWork implements cashbox.UnitOfWork over gorm transactions
type GormUnitOfWork struct {
	db          *gorm.DB
	lockTimeout string
}

// NewGormUnitOfWork creates a unit of work bound to the database
func NewGormUnitOfWork(database *Database) *GormUnitOfWork {
	uow := &GormUnitOfWork{db: database.DB}
	if database.LockTimeout > 0 && database.IsPostgres() {
		uow.lockTimeout = fmt.Sprintf("%dms", database.LockTimeout.Milliseconds())
	}
	return uow
}

// Do runs fn in one transaction with every store bound to it.
// A returned error or a cancelled context rolls the transaction back.
func (u *GormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos cashbox.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if u.lockTimeout != "" {
			// a lock wait past the timeout fails with 55P03 and is retried
			if err := tx.Exec("SET LOCAL lock_timeout = '" + u.lockTimeout + "'").Error; err != nil {
				return translateError(err)
			}
		}
		if err := fn(ctx, bind(tx)); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return translateError(err)
	}
	return nil
}

// Repositories returns stores bound to no transaction, for reads
func (u *GormUnitOfWork) Repositories() cashbox.Repositories {
	return bind(u.db)
}

func bind(db *gorm.DB) cashbox.Repositories {
	return cashbox.Repositories{
		Ledger:  NewGormLedgerRepository(db),
		Balance: NewGormBalanceStore(db),
		Rates:   NewGormExchangeRateRepository(db),
		Actors:  NewGormActorAccountRepository(db),
		Orders:  NewGormOrderCashStateRepository(db),
	}
}

var _ cashbox.UnitOfWork = (*GormUnitOfWork)(nil)
