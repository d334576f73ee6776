package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func nowUTC() time.Time { return time.Now().UTC() }

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, shared.ErrConcurrencyConflict},
		{"deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), shared.ErrConcurrencyConflict},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, shared.ErrConcurrencyConflict},
		{"unique violation", &pgconn.PgError{Code: "23505"}, shared.ErrConcurrencyConflict},
		{"check violation", &pgconn.PgError{Code: "23514"}, shared.ErrInsufficientBalance},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, shared.ErrPersistenceFailure},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, shared.ErrConcurrencyConflict},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, shared.ErrConcurrencyConflict},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, shared.ErrConcurrencyConflict},
		{"sqlite check", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}, shared.ErrInsufficientBalance},
		{"gorm duplicate", gorm.ErrDuplicatedKey, shared.ErrConcurrencyConflict},
		{"unknown", errors.New("connection refused"), shared.ErrPersistenceFailure},
		{"domain error passes through", shared.ErrNotFound, shared.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
			if !errors.Is(tt.want, shared.ErrNotFound) {
				assert.True(t, errors.Is(got, tt.in), "cause must be preserved")
			}
		})
	}

	assert.Nil(t, translateError(nil))
	assert.Equal(t, context.Canceled, translateError(context.Canceled))
}

func TestTranslateError_Transient(t *testing.T) {
	assert.True(t, shared.IsTransient(translateError(&pgconn.PgError{Code: "40001"})))
	assert.False(t, shared.IsTransient(translateError(&pgconn.PgError{Code: "23514"})))
}

func TestIsContention(t *testing.T) {
	assert.True(t, isContention(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, isContention(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isContention(&pgconn.PgError{Code: "23514"}))
	assert.False(t, isContention(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isContention(errors.New("connection refused")))
}
