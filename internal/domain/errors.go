package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, client-visible classification of an engine error.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeInvalidOperation ErrorCode = "INVALID_OPERATION"
	CodePaymentError     ErrorCode = "PAYMENT_ERROR"
)

// Error is returned by every engine operation that fails for a business reason.
// Anything that is not an *Error is an infrastructure failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so errors.Is(err, ErrPoolNotFound)
// and errors.Is(err, &Error{Code: CodeNotFound}) both work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Message != "" && t.Message != e.Message {
		return false
	}
	return t.Code == e.Code
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func InvalidOperation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

// PaymentError wraps a gateway error.
func PaymentError(err error, format string, args ...interface{}) *Error {
	return &Error{Code: CodePaymentError, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" for infrastructure errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

var (
	ErrPoolNotFound         = NotFound("Pool not found")
	ErrPositionNotFound     = NotFound("Investor position not found")
	ErrDistributionNotFound = NotFound("Distribution not found")
	ErrChargeNotFound       = NotFound("Charge not found")

	ErrNotPoolManager   = Forbidden("Only the pool manager can perform this action")
	ErrNotPositionOwner = Forbidden("Only the investor or the pool manager can cancel this position")
)
