package interproc

import (
	"errors"
	"fmt"
)

// Error is an error returned by the driver.
//
// Errors include:
//   - Configuration: the driver or its collaborators are set up wrong
//   - Procedure failed: no body, or a malformed CFG
//
// Unresolved callees, recursion cycles and exhausted budgets are not
// errors; they are recovered inside the analysis and show up as flags and
// issues.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Proc identifies the affected procedure, if any.
	Proc string

	// Details contains additional context.
	Details map[string]string

	err error
}

// ErrorCode categorizes driver errors.
type ErrorCode string

const (
	// ErrCodeConfig indicates a malformed driver or domain setup. Fatal.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeProcFailed indicates a procedure that cannot be analyzed.
	// Callers of that procedure treat the call as unresolved.
	ErrCodeProcFailed ErrorCode = "PROC_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Proc != "" {
		return fmt.Sprintf("%s: %s (proc=%s)", e.Code, e.Message, e.Proc)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

// IsConfigError returns true if the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeConfig
	}
	return false
}

// IsProcFailed returns true if the error reports a procedure that could
// not be analyzed.
func IsProcFailed(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeProcFailed
	}
	return false
}

// NewConfigError creates a configuration error for a named setting.
func NewConfigError(setting, format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeConfig,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"setting": setting},
	}
}

func newProcFailed(proc, reason string, cause error) *Error {
	return &Error{
		Code:    ErrCodeProcFailed,
		Message: reason,
		Proc:    proc,
		err:     cause,
	}
}

// InvariantError is the panic value for a broken engine invariant. It is
// never recovered: a run that hits one would otherwise produce silently
// wrong results.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "interproc invariant violated: " + e.Message
}

func invariant(format string, args ...any) {
	panic(&InvariantError{Message: fmt.Sprintf(format, args...)})
}
