package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an error for the transport layer. The mapping of a
// code to a wire status is owned by the caller, not by this package.
type ErrorCode string

const (
	ErrCodeInvalid  ErrorCode = "INVALID"
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"
	ErrCodeDomain   ErrorCode = "DOMAIN"
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is a classified domain error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrItemNotFound      = NewError(ErrCodeNotFound, "catalog item not found")
	ErrItemAlreadyExists = NewError(ErrCodeConflict, "catalog item already exists")
	ErrInsufficientStock = NewError(ErrCodeDomain, "insufficient stock")
	ErrVersionConflict   = NewError(ErrCodeConflict, "concurrent update lost the version race")
	ErrDuplicateCommand  = NewError(ErrCodeConflict, "command with this idempotency key was already processed")
	ErrUnknownCommand    = NewError(ErrCodeInvalid, "unknown command type")
	ErrInvalidCommand    = NewError(ErrCodeInvalid, "invalid command payload")
)

// IsDomainError reports whether err carries the given classification.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}
