// Package accesserr defines the error taxonomy shared by the access-control
// packages. Errors carry a stable code so callers can branch with errors.Is
// regardless of the message or wrapped cause.
package accesserr

import (
	"errors"
	"fmt"
)

// Code identifies an error class
type Code string

const (
	CodeAuthenticationRequired Code = "AUTHENTICATION_REQUIRED"
	CodeForbidden              Code = "FORBIDDEN"
	CodeRoleNotFound           Code = "ROLE_NOT_FOUND"
	CodeMalformedRule          Code = "MALFORMED_RULE"
	CodeCycleDetected          Code = "CYCLE_DETECTED"
	CodeDependencyUnavailable  Code = "DEPENDENCY_UNAVAILABLE"
	CodeDepartmentNotEmpty     Code = "DEPARTMENT_NOT_EMPTY"
	CodeDepartmentNotFound     Code = "DEPARTMENT_NOT_FOUND"
	CodeInvalidParameter       Code = "INVALID_PARAMETER"
)

// Error is a coded access-control error
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Common errors
var (
	ErrAuthenticationRequired = &Error{Code: CodeAuthenticationRequired, Message: "authentication required"}
	ErrForbidden              = &Error{Code: CodeForbidden, Message: "permission denied"}
	ErrRoleNotFound           = &Error{Code: CodeRoleNotFound, Message: "role not found"}
	ErrMalformedRule          = &Error{Code: CodeMalformedRule, Message: "malformed row permission rule"}
	ErrCycleDetected          = &Error{Code: CodeCycleDetected, Message: "department hierarchy contains a cycle"}
	ErrDependencyUnavailable  = &Error{Code: CodeDependencyUnavailable, Message: "dependency unavailable", Retryable: true}
	ErrDepartmentNotEmpty     = &Error{Code: CodeDepartmentNotEmpty, Message: "department still has children or members"}
	ErrDepartmentNotFound     = &Error{Code: CodeDepartmentNotFound, Message: "department not found"}
	ErrInvalidParameter       = &Error{Code: CodeInvalidParameter, Message: "invalid parameter"}
)

// New creates an error of the given class with a specific message
func New(base *Error, format string, args ...interface{}) *Error {
	return &Error{
		Code:      base.Code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: base.Retryable,
	}
}

// Wrap attaches a cause to an error of the given class
func Wrap(base *Error, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code:      base.Code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: base.Retryable,
		Err:       err,
	}
}

// Unavailable wraps a data-access or session-store failure
func Unavailable(err error, format string, args ...interface{}) *Error {
	return Wrap(ErrDependencyUnavailable, err, format, args...)
}

// IsRetryable reports whether err is a retryable access-control error
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf returns the code of err, or "" when err is not an *Error
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
