/**
 * Vision Captioner - OpenAI-compatible chat completions
 *
 * Captions figure crops through any endpoint speaking the chat completions
 * protocol with image_url content parts (SiliconFlow, OpenRouter, vLLM).
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/figures"
	"github.com/sanbuphy/SmartPaper/internal/logging"
)

// DefaultVisionModel is the multimodal model requested when none is configured
const DefaultVisionModel = "Qwen/Qwen2.5-VL-72B-Instruct"

// VisionCaptioner captions figures with an OpenAI-compatible vision model
type VisionCaptioner struct {
	baseURL     string
	apiKey      string
	model       string
	detail      string
	temperature float64
	httpClient  *http.Client
	logger      *logging.Logger
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

// ChatCompletionRequest is the subset of the chat completions request used here
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// ChatCompletionResponse is the subset of the chat completions response used here
type ChatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewVisionCaptioner creates a captioner against baseURL (e.g. https://api.siliconflow.cn/v1)
func NewVisionCaptioner(baseURL, apiKey, model string) (*VisionCaptioner, error) {
	if baseURL == "" {
		return nil, errors.New("vision API URL is required")
	}
	if apiKey == "" {
		return nil, errors.New("vision API key is required")
	}
	if model == "" {
		model = DefaultVisionModel
	}
	return &VisionCaptioner{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		detail:      "low",
		temperature: 0.1,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Vision tasks can take time
		},
		logger: logging.NewLogger("VisionCaptioner"),
	}, nil
}

// Caption implements Captioner
func (c *VisionCaptioner) Caption(ctx context.Context, img []byte, mimeType string) (Caption, error) {
	if len(img) == 0 {
		return Caption{}, errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	req := ChatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "image_url", ImageURL: &chatImageURL{URL: figures.DataURI(img, mimeType), Detail: c.detail}},
				{Type: "text", Text: CaptionPrompt},
			},
		}},
		Temperature: c.temperature,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return Caption{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Caption{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Caption{}, fmt.Errorf("request to vision API failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Caption{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Caption{}, fmt.Errorf("vision API returned error status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return Caption{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return Caption{}, fmt.Errorf("vision API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return Caption{}, errors.New("vision API returned no choices")
	}

	caption := ParseCaption(chatResp.Choices[0].Message.Content)
	c.logger.Debug("Figure captioned",
		"model", chatResp.Model,
		"imageSize", len(img),
		"title", caption.Title)
	return caption, nil
}
