package persistence

import (
	"context"
	"errors"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// PostgreSQL SQLSTATE codes the engine reacts to
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// translateError maps driver errors onto domain error codes.
// Lock contention and unique races become CONCURRENCY_CONFLICT so the caller retries
// and re-reads; a violated non-negative balance check becomes INSUFFICIENT_BALANCE.
// Anything else is reported as PERSISTENCE_FAILURE.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.WrapDomainError(shared.CodeConcurrencyConflict, "concurrent insert", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgUniqueViolation:
			return shared.WrapDomainError(shared.CodeConcurrencyConflict, "transaction conflict", err)
		case pgCheckViolation:
			return shared.WrapDomainError(shared.CodeInsufficientBalance, "balance constraint violated", err)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return shared.WrapDomainError(shared.CodeConcurrencyConflict, "database locked", err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique, liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return shared.WrapDomainError(shared.CodeConcurrencyConflict, "concurrent insert", err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return shared.WrapDomainError(shared.CodeInsufficientBalance, "balance constraint violated", err)
		}
	}

	return shared.WrapDomainError(shared.CodePersistenceFailure, "persistence failure", err)
}

// isContention reports driver errors the retry loop absorbs
func isContention(err error) bool {
	switch shared.CodeOf(translateError(err)) {
	case shared.CodeConcurrencyConflict, shared.CodeInsufficientBalance:
		return true
	}
	return false
}

// notFound converts gorm.ErrRecordNotFound to the given domain error
func notFound(err error, missing error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return missing
	}
	return translateError(err)
}
