// Package errors provides structured error types for the converter.
// Every error carries a category, code and message, plus flags that tell the
// orchestrator whether a failure aborts the run or only skips one category.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryExport   ErrorCategory = "EXPORT"
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryExtract  ErrorCategory = "EXTRACT"
	ErrCategoryEmit     ErrorCategory = "EMIT"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Export codes
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidExport      = "INVALID_EXPORT"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"

	// Schema codes
	CodeTableMissing   = "TABLE_MISSING"
	CodeColumnsMissing = "COLUMNS_MISSING"
	CodeTypeMismatch   = "TYPE_MISMATCH"

	// Extract codes
	CodeExtractFailed = "EXTRACT_FAILED"

	// Emit codes
	CodeWriteFailed  = "WRITE_FAILED"
	CodeEncodeFailed = "ENCODE_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ConvError is the structured error type used throughout the converter.
type ConvError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Fatal     bool
	Retryable bool
}

// Error returns a formatted error string.
func (e *ConvError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ConvError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ConvError) Is(target error) bool {
	var t *ConvError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ConvError.
func New(category ErrorCategory, code, message string) *ConvError {
	return &ConvError{
		Category:  category,
		Code:      code,
		Message:   message,
		Fatal:     isFatal(category, code),
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ConvError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ConvError {
	e := New(category, code, message)
	e.Cause = cause
	return e
}

// WithDetails returns a copy of the error with additional details.
func (e *ConvError) WithDetails(details map[string]interface{}) *ConvError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal checks whether an error aborts the whole conversion. Errors that
// are not ConvErrors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConvError
	if errors.As(err, &ce) {
		return ce.Fatal
	}
	return true
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *ConvError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ConvError.
func GetCategory(err error) ErrorCategory {
	var ce *ConvError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ConvError.
func GetCode(err error) string {
	var ce *ConvError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func isFatal(category ErrorCategory, code string) bool {
	switch category {
	case ErrCategoryExport, ErrCategoryEmit, ErrCategoryConfig, ErrCategoryInternal:
		return true
	default:
		return false
	}
}

func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryStorage && code == CodeUploadFailed
}

// Convenience constructors for common errors.

func NewExportError(code, message string, cause error) *ConvError {
	return Wrap(ErrCategoryExport, code, message, cause)
}

func NewSchemaError(code, message string) *ConvError {
	return New(ErrCategorySchema, code, message)
}

func NewExtractError(message string, cause error) *ConvError {
	return Wrap(ErrCategoryExtract, CodeExtractFailed, message, cause)
}

func NewEmitError(code, message string, cause error) *ConvError {
	return Wrap(ErrCategoryEmit, code, message, cause)
}

func NewStorageError(code, message string, cause error) *ConvError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *ConvError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *ConvError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
