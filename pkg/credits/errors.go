package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credit service.
var (
	ErrRateLimitExceeded         = errors.New("rate limit exceeded")
	ErrInvalidActivityType       = errors.New("invalid activity type")
	ErrInsufficientCredits       = errors.New("insufficient credits")
	ErrExecutionFailed           = errors.New("activity execution failed")
	ErrTransactionExpired        = errors.New("pending transaction expired")
	ErrAccountSuspended          = errors.New("account suspended")
	ErrUnknownPendingTransaction = errors.New("unknown pending transaction")
	ErrDuplicateIdempotencyKey   = errors.New("duplicate idempotency key")
	ErrInvalidUserID             = errors.New("invalid user id")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidTransactionType    = errors.New("invalid transaction type")
	ErrInvalidCategory           = errors.New("invalid activity category")
	ErrInvalidCatalog            = errors.New("invalid activity catalog")
	ErrInvalidEstimate           = errors.New("invalid cost estimate")
	ErrInvalidListLimit          = errors.New("invalid list limit")
	ErrInvalidServiceConfig      = errors.New("invalid service config")
	ErrInvalidPendingTransaction = errors.New("invalid pending transaction")
	ErrInvalidCreditTransaction  = errors.New("invalid credit transaction")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// ErrorCode maps a service error to the stable upper-case code used by clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, ErrInvalidActivityType):
		return "INVALID_ACTIVITY_TYPE"
	case errors.Is(err, ErrInsufficientCredits):
		return "INSUFFICIENT_CREDITS"
	case errors.Is(err, ErrTransactionExpired):
		return "TRANSACTION_EXPIRED"
	case errors.Is(err, ErrAccountSuspended):
		return "ACCOUNT_SUSPENDED"
	case errors.Is(err, ErrExecutionFailed):
		return "EXECUTION_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
