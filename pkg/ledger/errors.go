package ledger

import (
	"errors"
	"fmt"
)

// Callback outcome errors surfaced to the caller of the orchestrator.
var (
	ErrDuplicateEvent         = errors.New("duplicate event")
	ErrGameNotFound           = errors.New("game not found")
	ErrGameNotEnabled         = errors.New("game not enabled")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidToken           = errors.New("invalid token")
)

// Storage and lifecycle errors.
var (
	ErrDuplicateEntry       = errors.New("duplicate ledger entry")
	ErrReferenceConflict    = errors.New("ledger reference already booked by another event")
	ErrRoundClosed          = errors.New("round closed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrBalanceNotFound      = errors.New("balance not found")
	ErrEventNotFound        = errors.New("provider event not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrWithdrawalSettled    = errors.New("withdrawal already settled")
	ErrInvalidTransfer      = errors.New("invalid transfer")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Validation errors returned by value constructors.
var (
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrInvalidGameID        = errors.New("invalid game id")
	ErrInvalidProviderID    = errors.New("invalid provider id")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidRoundID       = errors.New("invalid round id")
	ErrInvalidReference     = errors.New("invalid reference")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidOrderStatus   = errors.New("invalid order status")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidBucket        = errors.New("invalid bucket")
	ErrInvalidDetailJSON    = errors.New("invalid detail json")
)

// ErrorClass groups errors by how a caller should react to them.
type ErrorClass string

const (
	ErrorClassNone      ErrorClass = ""
	ErrorClassDuplicate ErrorClass = "duplicate"
	ErrorClassFatal     ErrorClass = "fatal"
	ErrorClassRejected  ErrorClass = "rejected"
	ErrorClassRetryable ErrorClass = "retryable"
	ErrorClassInvalid   ErrorClass = "invalid"
	ErrorClassInternal  ErrorClass = "internal"
)

var validationErrors = []error{
	ErrInvalidUserID,
	ErrInvalidCurrency,
	ErrInvalidGameID,
	ErrInvalidProviderID,
	ErrInvalidTransactionID,
	ErrInvalidRoundID,
	ErrInvalidReference,
	ErrInvalidAmountCents,
	ErrInvalidEntryKind,
	ErrInvalidOrderStatus,
	ErrInvalidDirection,
	ErrInvalidBucket,
	ErrInvalidDetailJSON,
	ErrInvalidTransfer,
}

// Classify maps an error onto the callback error taxonomy.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrDuplicateEntry):
		return ErrorClassDuplicate
	case errors.Is(err, ErrGameNotFound), errors.Is(err, ErrGameNotEnabled), errors.Is(err, ErrInvalidToken):
		return ErrorClassFatal
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrRoundClosed),
		errors.Is(err, ErrWithdrawalNotFound), errors.Is(err, ErrWithdrawalSettled):
		return ErrorClassRejected
	case errors.Is(err, ErrConcurrentModification):
		return ErrorClassRetryable
	}
	for _, validationErr := range validationErrors {
		if errors.Is(err, validationErr) {
			return ErrorClassInvalid
		}
	}
	return ErrorClassInternal
}

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
