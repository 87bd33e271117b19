/**
 * Artifact Client
 *
 * Uploads figure crops to the artifact store so rendered Markdown can link
 * to a permanent URL instead of inlining base64. Every crop is filed under
 * the reconstruction job that produced it, which lets a job's figures be
 * listed or cleaned up together.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/logging"
)

// SourceService identifies this worker to the artifact store
const SourceService = "smartpaper-layout"

// permanentTTLDays stands in for "never expires"
const permanentTTLDays = 36500

// ArtifactClient stores figure crops
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArtifactUploadRequest is one file to store
type ArtifactUploadRequest struct {
	FileBuffer []byte
	Filename   string
	MimeType   string
	SourceID   string // reconstruction job ID
	TTLDays    int    // 0 stores permanently
	Metadata   map[string]interface{}
}

// Artifact describes a stored file
type Artifact struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	MimeType       string `json:"mime_type"`
	StorageBackend string `json:"storage_backend"`
	DownloadURL    string `json:"download_url"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

// ArtifactResponse is the store's reply to upload and lookup calls
type ArtifactResponse struct {
	Success  bool     `json:"success"`
	Artifact Artifact `json:"artifact"`
	Error    string   `json:"error,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("ArtifactClient"),
	}
}

// HealthCheck verifies the artifact store is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artifact service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact service health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (r *ArtifactUploadRequest) validate() error {
	switch {
	case len(r.FileBuffer) == 0:
		return errors.New("file buffer is required: received empty buffer")
	case r.Filename == "":
		return errors.New("filename is required: received empty string")
	case r.SourceID == "":
		return errors.New("source_id is required: identifies the job that produced this figure")
	}
	return nil
}

// UploadArtifact stores a file and returns its artifact record
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*Artifact, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.FileBuffer); err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}

	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = permanentTTLDays
	}
	fields := [][2]string{
		{"source_service", SourceService},
		{"source_id", req.SourceID},
		{"ttl_days", strconv.Itoa(ttlDays)},
	}
	if req.MimeType != "" {
		fields = append(fields, [2]string{"mime_type", req.MimeType})
	}
	if len(req.Metadata) > 0 {
		metadataJSON, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
		}
		fields = append(fields, [2]string{"metadata", string(metadataJSON)})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to artifact storage failed after %v: %w", time.Since(start), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result ArtifactResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}
	if result.Artifact.ID == "" {
		return nil, errors.New("artifact upload succeeded but returned empty artifact ID")
	}

	c.logger.Info("Figure uploaded",
		"id", result.Artifact.ID,
		"filename", req.Filename,
		"size", len(req.FileBuffer),
		"storage", result.Artifact.StorageBackend,
		"duration", time.Since(start))

	return &result.Artifact, nil
}

// UploadFigure stores a JPEG figure crop and returns the URL to link it by
func (c *ArtifactClient) UploadFigure(ctx context.Context, jobID, filename string, jpeg []byte, metadata map[string]interface{}) (string, error) {
	artifact, err := c.UploadArtifact(ctx, &ArtifactUploadRequest{
		FileBuffer: jpeg,
		Filename:   filename,
		MimeType:   "image/jpeg",
		SourceID:   jobID,
		Metadata:   metadata,
	})
	if err != nil {
		return "", err
	}
	if artifact.DownloadURL == "" {
		return "", fmt.Errorf("artifact %s has no download URL", artifact.ID)
	}
	return artifact.DownloadURL, nil
}

// GetArtifactsBySourceID lists the figures stored for a job
func (c *ArtifactClient) GetArtifactsBySourceID(ctx context.Context, jobID string) ([]Artifact, error) {
	if jobID == "" {
		return nil, errors.New("job ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/files/source/%s/%s", c.baseURL, SourceService, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list artifacts request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list artifacts returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success   bool       `json:"success"`
		Artifacts []Artifact `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse artifacts list response: %w", err)
	}
	return result.Artifacts, nil
}
