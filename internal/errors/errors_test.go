package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

func TestProcessingErrorUnwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewDetectionFailedError("job-1", 4, cause)

	if !stderrors.Is(err, cause) {
		t.Error("ProcessingError does not unwrap to its cause")
	}
	if err.Code != ErrorDetectionFailed || err.JobID != "job-1" {
		t.Errorf("unexpected error: %+v", err)
	}
	want := "DETECTION_FAILED: Layout detection failed for page 4 (caused by: connection reset)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestToMap(t *testing.T) {
	err := NewProcessingTimeoutError("job-2", 90*time.Second, nil)
	m := err.ToMap()

	if m["error_code"] != "PROCESSING_TIMEOUT" || m["timeout_duration"] != "1m30s" {
		t.Errorf("ToMap = %v", m)
	}
	if _, ok := m["cause"]; ok {
		t.Error("cause present without a cause")
	}
}

func TestFromLayoutError(t *testing.T) {
	geom := fmt.Errorf("decode: %w", &layout.GeometryError{Index: 3, Label: "image", Cause: "bad shape"})

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"geometry", geom, ErrorInvalidGeometry},
		{"width", fmt.Errorf("page 1: %w", layout.ErrInvalidPageWidth), ErrorInvalidPageWidth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromLayoutError("job", 1, 0, tt.err)
			if got == nil || got.Code != tt.want {
				t.Fatalf("FromLayoutError = %v, want code %s", got, tt.want)
			}
		})
	}

	if got := FromLayoutError("job", 1, 0, stderrors.New("other")); got != nil {
		t.Errorf("unrelated error mapped to %v", got)
	}

	got := FromLayoutError("job", 1, 0, geom)
	if got.Details["box_index"] != 3 || got.Details["label"] != "image" {
		t.Errorf("details = %v", got.Details)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", stderrors.New("boom"), true},
		{"detection", NewDetectionFailedError("j", 1, nil), true},
		{"timeout", NewProcessingTimeoutError("j", time.Second, nil), true},
		{"geometry", fmt.Errorf("wrapped: %w", NewInvalidGeometryError("j", 0, "text", nil)), false},
		{"width", NewInvalidPageWidthError("j", 1, 0), false},
		{"format", NewUnsupportedFormatError("j", "image/png"), false},
		{"detections", NewInvalidDetectionsError("j", 2, stderrors.New("eof")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}
