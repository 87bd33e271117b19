package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

/**
 * Structured job errors for the layout worker
 *
 * Every failure that ends a page job is reported as a ProcessingError so the
 * job row carries a stable code next to the human message.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInvalidGeometry   ErrorCode = "INVALID_GEOMETRY"
	ErrorInvalidPageWidth  ErrorCode = "INVALID_PAGE_WIDTH"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorInvalidDetections ErrorCode = "INVALID_DETECTIONS"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorDetectionFailed   ErrorCode = "DETECTION_FAILED"
	ErrorRenderFailed      ErrorCode = "RENDER_FAILED"
	ErrorCaptionFailed     ErrorCode = "CAPTION_FAILED"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrorAPICallFailed  ErrorCode = "API_CALL_FAILED"
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

func newError(code ErrorCode, jobID, message string, details map[string]interface{}, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      code,
		Message:   message,
		JobID:     jobID,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return newError(ErrorProcessingTimeout, jobID,
		fmt.Sprintf("Processing timed out after %v", duration),
		map[string]interface{}{"timeout_duration": duration.String()}, cause)
}

func NewInvalidGeometryError(jobID string, index int, label string, cause error) *ProcessingError {
	return newError(ErrorInvalidGeometry, jobID,
		fmt.Sprintf("Box %d (%s) has malformed coordinates", index, label),
		map[string]interface{}{"box_index": index, "label": label}, cause)
}

func NewInvalidPageWidthError(jobID string, page int, width float64) *ProcessingError {
	return newError(ErrorInvalidPageWidth, jobID,
		fmt.Sprintf("Page %d has no usable width (got %v)", page, width),
		map[string]interface{}{"page": page, "page_width": width}, layout.ErrInvalidPageWidth)
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return newError(ErrorUnsupportedFormat, jobID,
		fmt.Sprintf("Unsupported file format: %s", mimeType),
		map[string]interface{}{"mime_type": mimeType}, nil)
}

func NewInvalidDetectionsError(jobID string, page int, cause error) *ProcessingError {
	return newError(ErrorInvalidDetections, jobID,
		fmt.Sprintf("Detections for page %d could not be decoded", page),
		map[string]interface{}{"page": page}, cause)
}

func NewDetectionFailedError(jobID string, page int, cause error) *ProcessingError {
	return newError(ErrorDetectionFailed, jobID,
		fmt.Sprintf("Layout detection failed for page %d", page),
		map[string]interface{}{"page": page}, cause)
}

func NewRenderFailedError(jobID string, page int, cause error) *ProcessingError {
	return newError(ErrorRenderFailed, jobID,
		fmt.Sprintf("Failed to render page %d", page),
		map[string]interface{}{"page": page}, cause)
}

func NewCaptionFailedError(jobID string, figure int, cause error) *ProcessingError {
	return newError(ErrorCaptionFailed, jobID,
		fmt.Sprintf("Failed to caption figure %d", figure),
		map[string]interface{}{"figure_index": figure}, cause)
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return newError(ErrorStorageFailed, jobID, "Failed to store page layout", nil, cause)
}

// FromLayoutError maps errors raised by the reconstruction core to a
// ProcessingError, or returns nil if err is not one of them
func FromLayoutError(jobID string, page int, width float64, err error) *ProcessingError {
	var gerr *layout.GeometryError
	switch {
	case stderrors.As(err, &gerr):
		return NewInvalidGeometryError(jobID, gerr.Index, gerr.Label, err)
	case stderrors.Is(err, layout.ErrInvalidPageWidth):
		return NewInvalidPageWidthError(jobID, page, width)
	}
	return nil
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

// Retryable reports whether running the job again could succeed. Bad input
// fails the same way every time.
func (e *ProcessingError) Retryable() bool {
	switch e.Code {
	case ErrorInvalidGeometry, ErrorInvalidPageWidth, ErrorUnsupportedFormat, ErrorInvalidDetections:
		return false
	}
	return true
}

// IsRetryable reports whether err, or a ProcessingError it wraps, may be retried.
// Errors that are not ProcessingErrors are retryable.
func IsRetryable(err error) bool {
	var perr *ProcessingError
	if stderrors.As(err, &perr) {
		return perr.Retryable()
	}
	return true
}
