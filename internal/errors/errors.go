// Package errors provides a lightweight structured error type (QuotadError)
// for category-based classification and retry semantics across the agent.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a quotad error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Run-level preconditions (abort the whole run, zero writes)
	CategoryPrecondition ErrorCategory = "precondition"
	CategoryLock         ErrorCategory = "lock"

	// Per-group enforcement errors
	CategoryMapping ErrorCategory = "mapping"
	CategoryApply   ErrorCategory = "apply"
	CategoryRetag   ErrorCategory = "retag"

	// Runtime and infrastructure errors
	CategoryJournal  ErrorCategory = "journal"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// QuotadError is a structured error with category, retryability, and context
type QuotadError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for QuotadError
type ContextFields map[string]any

// Error implements the error interface
func (e *QuotadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *QuotadError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *QuotadError) WithContext(key string, value any) *QuotadError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new QuotadError
func New(category ErrorCategory, severity ErrorSeverity, message string) *QuotadError {
	return &QuotadError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new QuotadError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *QuotadError {
	return &QuotadError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable QuotadError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *QuotadError {
	return &QuotadError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable QuotadError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *QuotadError {
	return &QuotadError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if qe, ok := err.(*QuotadError); ok {
		return qe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if qe, ok := err.(*QuotadError); ok {
		return qe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a QuotadError
func GetCategory(err error) ErrorCategory {
	if qe, ok := err.(*QuotadError); ok {
		return qe.Category
	}
	return CategoryInternal
}
