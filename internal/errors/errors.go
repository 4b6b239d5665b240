package errors

import (
	"context"
	"errors"
	"fmt"
)

type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, message=%s, error=%v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the scheduler status code from an error chain.
// Context cancellation and deadline errors classify as DeadlineExceeded
// even when a collaborator wrapped them with fmt.Errorf.
func CodeOf(err error) int {
	if err == nil {
		return Success
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrDeadlineExceeded
	}
	return ErrInternalServer
}

// IsTransient reports whether the affected unit (date, activity) should be
// skipped and the cycle continued, rather than the cycle aborted.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrTransientExternal, ErrConflictUnresolved, ErrIntegrity, ErrDegraded:
		return true
	}
	return false
}

// Common errors
var (
	ErrTemplateNotFound    = New(ErrConfig, "no workout template for discipline")
	ErrUnparseableWorkout  = New(ErrDegraded, "model response missing Option A/B sections")
	ErrCycleAlreadyRunning = New(ErrAlreadyRunning, "another cycle is already running")
)
