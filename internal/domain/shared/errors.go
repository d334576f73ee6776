package shared

import "errors"

// Error codes surfaced by the cash engine
const (
	CodeValidation                = "VALIDATION_ERROR"
	CodeNoRateAvailable           = "NO_RATE_AVAILABLE"
	CodeInsufficientBalance       = "INSUFFICIENT_BALANCE"
	CodeInsufficientClientBalance = "INSUFFICIENT_CLIENT_BALANCE"
	CodeConcurrencyConflict       = "CONCURRENCY_CONFLICT"
	CodePersistenceFailure        = "PERSISTENCE_FAILURE"
	CodeNotFound                  = "NOT_FOUND"
	CodeAlreadySettled            = "ALREADY_SETTLED"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a DomainError with the same code.
// This lets callers match sentinels with errors.Is regardless of message.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WrapDomainError creates a domain error that keeps the underlying cause
func WrapDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common domain errors
var (
	ErrValidation                = NewDomainError(CodeValidation, "Invalid input provided")
	ErrNoRateAvailable           = NewDomainError(CodeNoRateAvailable, "No exchange rate available")
	ErrInsufficientBalance       = NewDomainError(CodeInsufficientBalance, "Insufficient cashbox balance")
	ErrInsufficientClientBalance = NewDomainError(CodeInsufficientClientBalance, "Amount exceeds the actor balance")
	ErrConcurrencyConflict       = NewDomainError(CodeConcurrencyConflict, "Resource was modified by another process")
	ErrPersistenceFailure        = NewDomainError(CodePersistenceFailure, "Persistence store unavailable")
	ErrNotFound                  = NewDomainError(CodeNotFound, "Resource not found")
	ErrAlreadySettled            = NewDomainError(CodeAlreadySettled, "Already settled")
)

// CodeOf returns the DomainError code carried by err, or an empty string
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
