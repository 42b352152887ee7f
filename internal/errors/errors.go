// Package errors provides structured error types for the Lakeline pipeline.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across stages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline concern.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryQuality    ErrorCategory = "QUALITY"
	ErrCategoryCheckpoint ErrorCategory = "CHECKPOINT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryReplay     ErrorCategory = "REPLAY"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidEvent  = "INVALID_EVENT"
	CodeDecodeFailed  = "DECODE_FAILED"
	CodeInvalidConfig = "INVALID_CONFIG"

	// Quality codes
	CodeGateFailure = "GATE_FAILURE"
	CodeUnknownRule = "UNKNOWN_RULE"

	// Checkpoint codes
	CodeCommitFailed       = "COMMIT_FAILED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"

	// Storage codes
	CodeAppendFailed   = "APPEND_FAILED"
	CodeCorruptSegment = "CORRUPT_SEGMENT"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Replay codes
	CodeDatasetCorrupt = "DATASET_CORRUPT"
	CodeBadMultiplier  = "BAD_MULTIPLIER"

	// Catalog codes
	CodeRegisterFailed = "REGISTER_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Checkpoint commits and
// object storage transfers are the only operations worth re-attempting in
// place; everything else fails the run.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryCheckpoint && code == CodeCommitFailed:
		return true
	case category == ErrCategoryCheckpoint && code == CodeBackendUnavailable:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *PipelineError {
	return New(ErrCategoryValidation, code, message)
}

func NewQualityError(code, message string) *PipelineError {
	return New(ErrCategoryQuality, code, message)
}

func NewCheckpointError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryCheckpoint, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewReplayError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryReplay, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
