/**
 * Layout Detector Client
 *
 * Sends rendered page images to the layout detection service and returns
 * the raw labelled boxes. The detector owns the model; this worker only
 * post-processes what it reports.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/logging"
)

// DefaultDetectorModel is the layout model requested when none is configured
const DefaultDetectorModel = "PP-DocLayout-L"

// DetectorClient handles communication with the layout detection service
type DetectorClient struct {
	baseURL    string
	model      string
	threshold  float64
	httpClient *http.Client
	logger     *logging.Logger
}

// DetectRequest is the body of a layout detection call
type DetectRequest struct {
	Image     string  `json:"image"`  // Base64 encoded image
	Format    string  `json:"format"` // "base64"
	Model     string  `json:"model,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Page      int     `json:"page,omitempty"`
	JobID     string  `json:"jobId,omitempty"`
}

// DetectResponse is the detector's reply
type DetectResponse struct {
	Success bool       `json:"success"`
	Data    DetectData `json:"data"`
	Message string     `json:"message"`
}

// DetectData holds the detected boxes and the image size they refer to
type DetectData struct {
	Boxes          []layout.RawBox `json:"boxes"`
	Width          float64         `json:"width"`
	Height         float64         `json:"height"`
	Model          string          `json:"model"`
	ProcessingTime int64           `json:"processingTime"` // milliseconds
}

// NewDetectorClient creates a new detector client
func NewDetectorClient(baseURL, model string, threshold float64) *DetectorClient {
	if model == "" {
		model = DefaultDetectorModel
	}
	return &DetectorClient{
		baseURL:   baseURL,
		model:     model,
		threshold: threshold,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // large pages at zoom 4 take a while
		},
		logger: logging.NewLogger("DetectorClient"),
	}
}

// Detect runs layout detection on one rendered page image
func (c *DetectorClient) Detect(ctx context.Context, image []byte, pageNumber int) (*DetectData, error) {
	req := &DetectRequest{
		Image:     base64.StdEncoding.EncodeToString(image),
		Format:    "base64",
		Model:     c.model,
		Threshold: c.threshold,
		Page:      pageNumber,
	}

	c.logger.Info("Requesting layout detection",
		"page", pageNumber,
		"model", c.model,
		"imageSize", len(image))

	endpoint := fmt.Sprintf("%s/api/v1/layout/detect", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "smartpaper-layout")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("layout-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to detector failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned error status %d: %s", resp.StatusCode, string(body))
	}

	var detectResp DetectResponse
	if err := json.Unmarshal(body, &detectResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !detectResp.Success {
		return nil, fmt.Errorf("detector operation failed: %s", detectResp.Message)
	}

	c.logger.Info("Layout detection complete",
		"page", pageNumber,
		"model", detectResp.Data.Model,
		"boxes", len(detectResp.Data.Boxes),
		"width", detectResp.Data.Width,
		"processingTime", detectResp.Data.ProcessingTime)

	return &detectResp.Data, nil
}

// HealthCheck verifies the detector is available
func (c *DetectorClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
