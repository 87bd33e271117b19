package clients

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/sanbuphy/SmartPaper/internal/logging"
)

// DefaultGeminiModel is the Gemini model used when none is configured
const DefaultGeminiModel = "gemini-2.5-flash"

// generator is the part of the genai client the captioner calls
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiCaptioner captions figures with Gemini's multimodal models
type GeminiCaptioner struct {
	models generator
	model  string
	logger *logging.Logger
}

// NewGeminiCaptioner creates a Gemini captioner. The key comes from configuration only.
func NewGeminiCaptioner(ctx context.Context, apiKey, model string) (*GeminiCaptioner, error) {
	if apiKey == "" {
		return nil, errors.New("missing GEMINI_API_KEY")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiCaptioner{
		models: client.Models,
		model:  model,
		logger: logging.NewLogger("GeminiCaptioner"),
	}, nil
}

// Caption implements Captioner
func (g *GeminiCaptioner) Caption(ctx context.Context, img []byte, mimeType string) (Caption, error) {
	if len(img) == 0 {
		return Caption{}, errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	prompt := &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: CaptionPrompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: img}},
		},
	}
	res, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{prompt}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Caption{}, fmt.Errorf("gemini generate content: %w", err)
	}

	caption := ParseCaption(res.Text())
	g.logger.Debug("Figure captioned", "model", g.model, "imageSize", len(img), "title", caption.Title)
	return caption, nil
}
