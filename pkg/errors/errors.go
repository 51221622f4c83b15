package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidLoan       = errors.New("invalid loan")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrLoanAlreadyExists = errors.New("loan already exists")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidLoan       = "INVALID_LOAN"
	ErrCodeInvalidPayment    = "INVALID_PAYMENT"
	ErrCodeLoanNotFound      = "LOAN_NOT_FOUND"
	ErrCodeLoanAlreadyExists = "LOAN_ALREADY_EXISTS"
	ErrCodeDatabaseError     = "DATABASE_ERROR"
	ErrCodeCacheError        = "CACHE_ERROR"
)

// Wrap common errors with business context

func WrapInvalidLoan(loanID, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidLoan,
		fmt.Sprintf("Loan %s is invalid: %s", loanID, reason),
		ErrInvalidLoan,
	)
}

func WrapInvalidPayment(loanID string, paymentID int64, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidPayment,
		fmt.Sprintf("Payment %d on loan %s is invalid: %s", paymentID, loanID, reason),
		ErrInvalidPayment,
	)
}

func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapLoanAlreadyExists(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanAlreadyExists,
		fmt.Sprintf("Loan with ID %s already exists", loanID),
		ErrLoanAlreadyExists,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"cache operation failed",
		err,
	)
}
