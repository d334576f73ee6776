package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func amounts(usd string, lbp int64) valueobject.Amounts {
	return valueobject.NewAmounts(decimal.RequireFromString(usd), decimal.NewFromInt(lbp))
}

var balanceColumns = []string{"id", "balance_usd", "balance_lbp", "initial_usd", "initial_lbp", "updated_at"}

func TestGormBalanceStore_ApplyDelta_SQL(t *testing.T) {
	t.Run("debit is a single guarded update", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		store := NewGormBalanceStore(db.DB)

		mock.ExpectExec(`UPDATE "cashbox_balances" SET "balance_lbp"=balance_lbp - \$1,"balance_usd"=balance_usd - \$2,"updated_at"=\$3 WHERE id = \$4 AND balance_usd >= \$5 AND balance_lbp >= \$6`).
			WithArgs(int64(150000), int64(1250), sqlmock.AnyArg(), cashbox.CashboxID, int64(1250), int64(150000)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT \* FROM "cashbox_balances" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows(balanceColumns).AddRow(1, 8750, 850000, 0, 0, time.Now()))

		b, err := store.ApplyDelta(context.Background(), cashbox.Debit, amounts("12.50", 150000))
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(amounts("87.50", 850000)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit has no guard", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		store := NewGormBalanceStore(db.DB)

		mock.ExpectExec(`UPDATE "cashbox_balances" SET "balance_lbp"=balance_lbp \+ \$1,"balance_usd"=balance_usd \+ \$2,"updated_at"=\$3 WHERE id = \$4$`).
			WithArgs(int64(0), int64(100), sqlmock.AnyArg(), cashbox.CashboxID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT \* FROM "cashbox_balances"`).
			WillReturnRows(sqlmock.NewRows(balanceColumns).AddRow(1, 100, 0, 0, 0, time.Now()))

		_, err := store.ApplyDelta(context.Background(), cashbox.Credit, amounts("1.00", 0))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed guard reports insufficient balance without a second write", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		store := NewGormBalanceStore(db.DB)

		mock.ExpectExec(`UPDATE "cashbox_balances"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT \* FROM "cashbox_balances"`).
			WillReturnRows(sqlmock.NewRows(balanceColumns).AddRow(1, 500, 0, 0, 0, time.Now()))

		_, err := store.ApplyDelta(context.Background(), cashbox.Debit, amounts("10.00", 0))
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInsufficientBalance))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects negative delta before touching the database", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		store := NewGormBalanceStore(db.DB)

		_, err := store.ApplyDelta(context.Background(), cashbox.Credit, amounts("-1.00", 0))
		assert.True(t, errors.Is(err, shared.ErrValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver failure is a persistence failure", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		store := NewGormBalanceStore(db.DB)

		mock.ExpectExec(`UPDATE "cashbox_balances"`).WillReturnError(assert.AnError)

		_, err := store.ApplyDelta(context.Background(), cashbox.Credit, amounts("1.00", 0))
		assert.True(t, errors.Is(err, shared.ErrPersistenceFailure))
	})
}

func TestGormBalanceStore_SQLite(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDatabase(t)
	store := NewGormBalanceStore(db.DB)

	t.Run("get creates a zeroed row", func(t *testing.T) {
		b, err := store.Get(ctx)
		require.NoError(t, err)
		assert.True(t, b.Balance.IsZero())
		assert.True(t, b.Initial.IsZero())

		again, err := store.GetForUpdate(ctx)
		require.NoError(t, err)
		assert.True(t, again.Balance.IsZero())
	})

	t.Run("set initial then apply deltas", func(t *testing.T) {
		b, err := store.SetInitial(ctx, amounts("100.00", 1000000))
		require.NoError(t, err)
		assert.True(t, b.Initial.Equal(amounts("100.00", 1000000)))
		assert.True(t, b.Balance.Equal(b.Initial))

		b, err = store.ApplyDelta(ctx, cashbox.Credit, amounts("0.55", 5000))
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(amounts("100.55", 1005000)))

		b, err = store.ApplyDelta(ctx, cashbox.Debit, amounts("100.55", 0))
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(amounts("0", 1005000)))
	})

	t.Run("overdraft leaves the row untouched", func(t *testing.T) {
		_, err := store.ApplyDelta(ctx, cashbox.Debit, amounts("0.01", 0))
		assert.True(t, errors.Is(err, shared.ErrInsufficientBalance))

		b, err := store.Get(ctx)
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(amounts("0", 1005000)))
	})

	t.Run("overwrite replaces the cached balance", func(t *testing.T) {
		require.NoError(t, store.Overwrite(ctx, amounts("7.00", 7)))
		b, err := store.Get(ctx)
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(amounts("7.00", 7)))
		assert.True(t, b.Initial.Equal(amounts("100.00", 1000000)))

		assert.True(t, errors.Is(store.Overwrite(ctx, amounts("-1.00", 0)), shared.ErrInsufficientBalance))
	})
}

func TestGormBalanceStore_GetForUpdateOnFreshDatabase(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDatabase(t)
	store := NewGormBalanceStore(db.DB)

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		b, err := NewGormBalanceStore(tx).GetForUpdate(ctx)
		if err != nil {
			return err
		}
		assert.True(t, b.Balance.IsZero())
		return nil
	})
	require.NoError(t, err)

	b, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, b.Initial.IsZero())
}
