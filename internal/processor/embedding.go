/**
 * Embedding Client for the SmartPaper layout worker
 *
 * Generates VoyageAI voyage-3 embeddings (1024 dimensions) of page Markdown
 * for similarity search over reconstructed pages. Pages are embedded as
 * documents and search text as queries, which Voyage projects differently.
 */

package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sanbuphy/SmartPaper/internal/logging"
)

const (
	// DefaultVoyageURL is the VoyageAI embeddings endpoint
	DefaultVoyageURL = "https://api.voyageai.com/v1/embeddings"
	// VoyageModel produces vectors matching storage.VectorDimensions
	VoyageModel = "voyage-3"

	embeddingDimensions = 1024
	maxEmbeddingChars   = 16000

	inputDocument = "document"
	inputQuery    = "query"
)

// EmbeddingClient handles VoyageAI embedding generation
type EmbeddingClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// VoyageEmbeddingRequest is the body of an embeddings call
type VoyageEmbeddingRequest struct {
	Input     string `json:"input"`
	Model     string `json:"model"`
	InputType string `json:"input_type,omitempty"`
}

// VoyageEmbeddingResponse is the embeddings reply
type VoyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// VoyageError is a non-200 reply from the embeddings API
type VoyageError struct {
	StatusCode int
	Body       string
}

func (e *VoyageError) Error() string {
	return fmt.Sprintf("VoyageAI returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the call may succeed if repeated
func (e *VoyageError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewEmbeddingClient creates a new embedding client. An empty baseURL
// uses DefaultVoyageURL.
func NewEmbeddingClient(apiKey, baseURL string) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VoyageAI API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultVoyageURL
	}

	return &EmbeddingClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.NewLogger("Embeddings"),
	}, nil
}

// truncateText cuts text to at most max bytes on a rune boundary
func truncateText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// GenerateEmbedding embeds page Markdown for storage
func (e *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, inputDocument)
}

// EmbedQuery embeds search text for lookup against stored pages
func (e *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, inputQuery)
}

func (e *EmbeddingClient) embed(ctx context.Context, text, inputType string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if len(text) > maxEmbeddingChars {
		e.logger.Warn("Truncating embedding input", "bytes", len(text), "limit", maxEmbeddingChars)
		text = truncateText(text, maxEmbeddingChars)
	}

	payload, err := json.Marshal(VoyageEmbeddingRequest{Input: text, Model: VoyageModel, InputType: inputType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &VoyageError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out VoyageEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	vec := out.Data[0].Embedding
	if len(vec) != embeddingDimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, expected %d", len(vec), embeddingDimensions)
	}

	e.logger.Debug("Embedding generated",
		"inputType", inputType,
		"tokens", out.Usage.TotalTokens,
		"duration", time.Since(start))
	return vec, nil
}
