package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the pdf2md pipeline
 *
 * Per-region and per-page failures are converted into skips or visible
 * markers by the processor; only ErrorConfigInvalid is fatal.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorRasterizeFailed   ErrorCode = "RASTERIZE_FAILED"
	ErrorDetectionFailed   ErrorCode = "DETECTION_FAILED"
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorOverCapacity      ErrorCode = "OVER_CAPACITY"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorCleanupFailed     ErrorCode = "CLEANUP_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Startup errors
	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorAPICallFailed ErrorCode = "API_CALL_FAILED"
)

// Sentinels for errors.Is matching. A ProcessingError matches a sentinel
// when their codes are equal.
var (
	ErrDetection    = &ProcessingError{Code: ErrorDetectionFailed, Message: "layout detection failed"}
	ErrDecode       = &ProcessingError{Code: ErrorDecodeFailed, Message: "reading order could not be decoded"}
	ErrOverCapacity = &ProcessingError{Code: ErrorOverCapacity, Message: "too many regions for reading order model"}
	ErrOCR          = &ProcessingError{Code: ErrorOCRFailed, Message: "OCR failed"}
	ErrCleanup      = &ProcessingError{Code: ErrorCleanupFailed, Message: "text cleanup failed"}
	ErrConfig       = &ProcessingError{Code: ErrorConfigInvalid, Message: "invalid configuration"}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Is and As mirror the standard library so callers importing this package
// as "errors" keep access to them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }

// CodeOf returns the code of the first ProcessingError in err's chain.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewRasterizeError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRasterizeFailed,
		Message:   "Failed to rasterize PDF",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDetectionError(page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDetectionFailed,
		Message:   fmt.Sprintf("Layout detection failed on page %d", page),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

func NewDecodeError(reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecodeFailed,
		Message:   reason,
		Timestamp: time.Now(),
	}
}

func NewOverCapacityError(n, max int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOverCapacity,
		Message:   fmt.Sprintf("%d regions exceeds maximum of %d", n, max),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"regions":     n,
			"max_regions": max,
		},
	}
}

func NewOCRFailedError(page, region int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed on page %d region %d", page, region),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page":   page,
			"region": region,
		},
		Cause: cause,
	}
}

func NewCleanupError(regionType string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCleanupFailed,
		Message:   fmt.Sprintf("Text cleanup failed for %s region", regionType),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"region_type": regionType,
		},
		Cause: cause,
	}
}

func NewConfigError(format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfigInvalid,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
