package cashbox

import (
	"fmt"

	"github.com/delivery/backend/internal/domain/shared"
)

func validationError(format string, args ...any) error {
	return shared.NewDomainError(shared.CodeValidation, fmt.Sprintf(format, args...))
}

func insufficientBalance(format string, args ...any) error {
	return shared.NewDomainError(shared.CodeInsufficientBalance, fmt.Sprintf(format, args...))
}

func insufficientActorBalance(format string, args ...any) error {
	return shared.NewDomainError(shared.CodeInsufficientClientBalance, fmt.Sprintf(format, args...))
}
