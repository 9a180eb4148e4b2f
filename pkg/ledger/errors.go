package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrBelowMinimumDeposit     = errors.New("below minimum deposit")
	ErrExceedsBalance          = errors.New("exceeds balance")
	ErrExceedsPerWithdrawalCap = errors.New("exceeds per-withdrawal cap")
	ErrDailyLimitExceeded      = errors.New("daily limit exceeded")
	ErrCreditScoreOutOfRange   = errors.New("credit score out of range")
	ErrInsufficientLiquidity   = errors.New("insufficient liquidity")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrSystemSuspended         = errors.New("system suspended")
	ErrSystemNotSuspended      = errors.New("system not suspended")
	ErrAccountNotFound         = errors.New("account not found")
	ErrUnknownTransaction      = errors.New("unknown transaction")
	ErrInvalidIdentity         = errors.New("invalid identity")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidCapability       = errors.New("invalid capability")
	ErrInvalidRunState         = errors.New("invalid run state")
	ErrInvalidTransactionKind  = errors.New("invalid transaction kind")
	ErrInvalidTransactionIndex = errors.New("invalid transaction index")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidBankConfig       = errors.New("invalid bank config")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
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
