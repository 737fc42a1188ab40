package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine failures. Every error that crosses a
// component boundary carries one of these so callers can branch on the
// kind without string matching.
type ErrorType string

const (
	ErrTypeInput               ErrorType = "input"
	ErrTypeGenerationTimeout   ErrorType = "generation_timeout"
	ErrTypeGenerationExhausted ErrorType = "generation_exhausted"
	ErrTypeGenerationDeclined  ErrorType = "generation_declined"
	ErrTypeSyntaxInvalid       ErrorType = "syntax_invalid"
	ErrTypeWriteRejected       ErrorType = "write_rejected"
	ErrTypeUnknownReference    ErrorType = "unknown_schema_reference"
	ErrTypeUnboundedScan       ErrorType = "unbounded_scan"
	ErrTypeExecutionTimeout    ErrorType = "execution_timeout"
	ErrTypeExecution           ErrorType = "execution"
	ErrTypeRowLimit            ErrorType = "row_limit"
	ErrTypeConfig              ErrorType = "config"
	ErrTypeInternal            ErrorType = "internal"
)

// Error is a structured error with a type, an optional cause, and
// optional suggestions for resolving it.
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// IsRecoverable reports whether the error is a validation rejection that
// the orchestrator may feed back into another generation attempt rather
// than surfacing immediately.
func IsRecoverable(err error) bool {
	switch GetType(err) {
	case ErrTypeSyntaxInvalid, ErrTypeWriteRejected, ErrTypeUnknownReference, ErrTypeUnboundedScan:
		return true
	default:
		return false
	}
}
