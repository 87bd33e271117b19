package clients

import (
	"context"
	"encoding/json"
	"strings"
)

// DefaultCaptionTitle is used when a model answers without a title
const DefaultCaptionTitle = "Figure"

// CaptionPrompt asks a vision model for a short title and a description
const CaptionPrompt = `You are looking at a figure cropped from an academic paper.
Return ONLY a JSON object, no code fences, of the form:
{"title": "<short title, at most 12 words>", "description": "<2-4 factual sentences describing what the figure shows>"}
Use the language of any text visible in the figure.`

// Caption is a model-generated figure title and description
type Caption struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Captioner describes figure crops
type Captioner interface {
	Caption(ctx context.Context, img []byte, mimeType string) (Caption, error)
}

// NoopCaptioner returns empty captions
type NoopCaptioner struct{}

// Caption implements Captioner
func (NoopCaptioner) Caption(ctx context.Context, img []byte, mimeType string) (Caption, error) {
	return Caption{}, nil
}

// ParseCaption extracts a Caption from a model reply. Code fences are
// stripped and the first balanced JSON object is decoded. A reply with no
// usable object becomes the description under DefaultCaptionTitle.
func ParseCaption(reply string) Caption {
	text := stripCodeFence(strings.TrimSpace(reply))

	if obj := firstJSONObject(text); obj != "" {
		var c Caption
		if err := json.Unmarshal([]byte(obj), &c); err == nil && (c.Title != "" || c.Description != "") {
			c.Title = strings.TrimSpace(c.Title)
			c.Description = strings.TrimSpace(c.Description)
			if c.Title == "" {
				c.Title = DefaultCaptionTitle
			}
			return c
		}
	}

	if text == "" {
		return Caption{}
	}
	return Caption{Title: DefaultCaptionTitle, Description: text}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstJSONObject returns the first brace-balanced object in s, honoring
// string literals and escapes, or "" when there is none
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
