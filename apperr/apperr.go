// Package apperr classifies failures so callers can decide between local
// recovery, user-visible reporting, and terminal shutdown.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeDevice         Code = "DEVICE_ERROR"
	CodeNetwork        Code = "NETWORK_ERROR"
	CodeInitialization Code = "INITIALIZATION_ERROR"
	CodeConnection     Code = "CONNECTION_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodePermission     Code = "PERMISSION_DENIED"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the classification of err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
