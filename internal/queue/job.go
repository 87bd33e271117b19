/**
 * Page job payload shared by the asynq and Redis LIST consumers
 *
 * Producers written in Node send the PDF either as a base64 string or as a
 * serialized Buffer object; both decode into PageJob.PDFBuffer.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/errors"
	"github.com/sanbuphy/SmartPaper/internal/processor"
)

// TaskTypeReconstructPage is the asynq task type for one page job
const TaskTypeReconstructPage = "layout:reconstruct-page"

// DefaultProcessingTimeout applies when no timeout is configured
const DefaultProcessingTimeout = 300000 * time.Millisecond

// PageJob is the queue payload for reconstructing one page
type PageJob struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId,omitempty"`
	DocumentID string                 `json:"documentId,omitempty"`
	PageNumber int                    `json:"pageNumber"`
	Filename   string                 `json:"filename,omitempty"`
	PDFURL     string                 `json:"pdfUrl,omitempty"`
	PDFBuffer  []byte                 `json:"pdfBuffer,omitempty"` // Set by UnmarshalJSON
	Detections json.RawMessage        `json:"detections,omitempty"`
	PageWidth  float64                `json:"pageWidth,omitempty"`
	Options    processor.PageOptions  `json:"options"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts pdfBuffer as a base64 string or a Node Buffer object
func (j *PageJob) UnmarshalJSON(data []byte) error {
	type Alias PageJob
	aux := &struct {
		PDFBuffer json.RawMessage `json:"pdfBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(j),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal PageJob: %w", err)
	}

	buf, err := decodeBuffer(aux.PDFBuffer)
	if err != nil {
		return err
	}
	j.PDFBuffer = buf
	return nil
}

// decodeBuffer decodes a base64 string or {"type":"Buffer","data":[...]}
func decodeBuffer(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 pdfBuffer: %w", err)
		}
		return decoded, nil
	}

	var obj struct {
		Type string    `json:"type"`
		Data []float64 `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("pdfBuffer must be either base64 string or Buffer object: %w", err)
	}
	if obj.Type != "Buffer" {
		return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
	}
	if obj.Data == nil {
		return nil, fmt.Errorf("Buffer object missing 'data' array")
	}

	out := make([]byte, len(obj.Data))
	for i, v := range obj.Data {
		if v < 0 || v > 255 || v != float64(int(v)) {
			return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Validate checks that the job names a page and a way to obtain its boxes
func (j *PageJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if j.PageNumber < 1 {
		return fmt.Errorf("pageNumber must be 1 or greater, got %d", j.PageNumber)
	}
	hasPDF := j.PDFURL != "" || len(j.PDFBuffer) > 0
	if !hasPDF && len(j.Detections) == 0 {
		return fmt.Errorf("job needs pdfUrl, pdfBuffer, or detections")
	}
	return nil
}

// Request converts the payload into a processor request
func (j *PageJob) Request() *processor.PageRequest {
	return &processor.PageRequest{
		JobID:      j.JobID,
		UserID:     j.UserID,
		DocumentID: j.DocumentID,
		PageNumber: j.PageNumber,
		Filename:   j.Filename,
		PDFURL:     j.PDFURL,
		PDFBuffer:  j.PDFBuffer,
		Detections: j.Detections,
		PageWidth:  j.PageWidth,
		Options:    j.Options,
	}
}

// runPageJob processes one job under a timeout and records its status
func runPageJob(ctx context.Context, proc processor.PageProcessorInterface, job *PageJob, timeout time.Duration) (*processor.PageResult, error) {
	startTime := time.Now()

	log.Printf("[Job %s] Processing page %d: filename=%s, user=%s",
		job.JobID, job.PageNumber, job.Filename, job.UserID)

	if err := proc.UpdateJobStatus(ctx, job.JobID, "processing", 0, map[string]interface{}{
		"filename": job.Filename,
		"userId":   job.UserID,
		"page":     job.PageNumber,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", job.JobID, err)
	}

	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := proc.ProcessPage(processCtx, job.Request())
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out after %v (timeout: %v)", job.JobID, duration, timeout)

			timeoutErr := errors.NewProcessingTimeoutError(job.JobID, timeout, err)
			if updateErr := proc.UpdateJobStatus(ctx, job.JobID, "failed", 100, timeoutErr.ToMap()); updateErr != nil {
				log.Printf("[Job %s] Warning: Failed to update status to failed: %v", job.JobID, updateErr)
			}

			return nil, fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		log.Printf("[Job %s] Page %d failed after %v: %v", job.JobID, job.PageNumber, duration, err)

		if updateErr := proc.UpdateJobStatus(ctx, job.JobID, "failed", 100, failureMetadata(err, duration)); updateErr != nil {
			log.Printf("[Job %s] Warning: Failed to update status to failed: %v", job.JobID, updateErr)
		}

		return nil, fmt.Errorf("page processing failed: %w", err)
	}

	log.Printf("[Job %s] Page %d completed in %v: boxes=%d, figures=%d, layoutId=%s",
		job.JobID, job.PageNumber, duration, result.BoxCount, result.FigureCount, result.LayoutID)

	if err := proc.UpdateJobStatus(ctx, job.JobID, "completed", 100, map[string]interface{}{
		"page":               result.PageNumber,
		"layoutId":           result.LayoutID,
		"boxCount":           result.BoxCount,
		"figureCount":        result.FigureCount,
		"embeddingGenerated": result.EmbeddingGenerated,
		"processingTime":     duration.Milliseconds(),
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", job.JobID, err)
	}

	return result, nil
}

// failureMetadata describes a failed run for the job row
func failureMetadata(err error, duration time.Duration) map[string]interface{} {
	var perr *errors.ProcessingError
	if stderrors.As(err, &perr) {
		meta := perr.ToMap()
		meta["processingTime"] = duration.Milliseconds()
		return meta
	}
	return map[string]interface{}{
		"error":          err.Error(),
		"processingTime": duration.Milliseconds(),
	}
}
