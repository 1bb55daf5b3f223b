package schema

import (
	"errors"
	"fmt"
)

// Error codes used across stepflow operations.
const (
	ErrCodeParse       = "PARSE_ERROR"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeConflict    = "CONFLICT"
	ErrCodePersistence = "PERSISTENCE_ERROR"
	ErrCodeStepLimit   = "STEP_LIMIT_EXCEEDED"
	ErrCodeStepFailed  = "STEP_FAILED"
	ErrCodeExecution   = "EXECUTION_ERROR"
)

// Error is the structured error type returned by all stepflow components.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	StepID  string         `json:"step_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep returns the error with the step ID attached.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause returns the error with an underlying cause attached.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails returns the error with structured details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code string) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// CodeOf extracts the error code from err, or ErrCodeExecution if err is not
// a structured stepflow error.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeExecution
}
