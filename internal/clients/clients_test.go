package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/sanbuphy/SmartPaper/internal/logging"
)

func TestDetectorClientDetect(t *testing.T) {
	image := []byte("fake png bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/layout/detect" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req DetectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Format != "base64" || req.Image != base64.StdEncoding.EncodeToString(image) {
			t.Errorf("unexpected request image: %+v", req)
		}
		if req.Model != DefaultDetectorModel || req.Page != 2 {
			t.Errorf("model = %q, page = %d", req.Model, req.Page)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"success": true,
			"data": {
				"boxes": [
					{"label": "text", "coordinate": [10, 20, 300, 80], "score": 0.97},
					{"cls_id": 8, "coordinate": [[0, 100], [500, 400]], "score": 0.91}
				],
				"width": 2448, "height": 3168, "model": "PP-DocLayout-L", "processingTime": 412
			}
		}`)
	}))
	defer server.Close()

	client := NewDetectorClient(server.URL, "", 0.5)
	data, err := client.Detect(context.Background(), image, 2)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if data.Width != 2448 || len(data.Boxes) != 2 {
		t.Fatalf("width = %v, boxes = %d", data.Width, len(data.Boxes))
	}
	if data.Boxes[1].ClsID == nil || *data.Boxes[1].ClsID != 8 {
		t.Errorf("cls_id not decoded: %+v", data.Boxes[1])
	}
}

func TestDetectorClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"http error", http.StatusInternalServerError, "model crashed", "status 500"},
		{"failure flag", http.StatusOK, `{"success": false, "message": "image too large"}`, "image too large"},
		{"bad json", http.StatusOK, `{"success": tru`, "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := NewDetectorClient(server.URL, "m", 0).Detect(context.Background(), []byte("x"), 1)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want containing %q", err, tt.wantSub)
			}
		})
	}
}

func TestDetectorHealthCheck(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := NewDetectorClient(server.URL, "", 0)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	healthy = false
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected unhealthy detector to fail")
	}
}

func TestParseCaption(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Caption
	}{
		{
			"plain json",
			`{"title": "Training loss", "description": "Loss falls over 10 epochs."}`,
			Caption{Title: "Training loss", Description: "Loss falls over 10 epochs."},
		},
		{
			"fenced json",
			"```json\n{\"title\": \"Architecture\", \"description\": \"Encoder and decoder.\"}\n```",
			Caption{Title: "Architecture", Description: "Encoder and decoder."},
		},
		{
			"json after preamble with braces in strings",
			`Sure! {"title": "Set {A}", "description": "Shows \"x}\" values"} hope this helps`,
			Caption{Title: "Set {A}", Description: `Shows "x}" values`},
		},
		{
			"missing title",
			`{"description": "A bar chart."}`,
			Caption{Title: DefaultCaptionTitle, Description: "A bar chart."},
		},
		{
			"plain text",
			"A scatter plot of accuracy against model size.",
			Caption{Title: DefaultCaptionTitle, Description: "A scatter plot of accuracy against model size."},
		},
		{"empty", "   ", Caption{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCaption(tt.reply); got != tt.want {
				t.Errorf("ParseCaption = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVisionCaptioner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		parts := req.Messages[0].Content
		if parts[0].Type != "image_url" || !strings.HasPrefix(parts[0].ImageURL.URL, "data:image/jpeg;base64,") {
			t.Errorf("first part = %+v", parts[0])
		}
		io.WriteString(w, `{"model": "qwen", "choices": [{"message": {"content": "{\"title\": \"Pipeline\", \"description\": \"Three stages.\"}"}}]}`)
	}))
	defer server.Close()

	captioner, err := NewVisionCaptioner(server.URL+"/v1/", "test-key", "")
	if err != nil {
		t.Fatalf("NewVisionCaptioner: %v", err)
	}
	got, err := captioner.Caption(context.Background(), []byte{0xff, 0xd8}, "")
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if got.Title != "Pipeline" || got.Description != "Three stages." {
		t.Errorf("Caption = %+v", got)
	}
}

func TestVisionCaptionerRequiresConfig(t *testing.T) {
	if _, err := NewVisionCaptioner("", "k", ""); err == nil {
		t.Error("expected error without URL")
	}
	if _, err := NewVisionCaptioner("http://x", "", ""); err == nil {
		t.Error("expected error without key")
	}
}

type fakeGenerator struct {
	reply    string
	err      error
	mimeType string
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mimeType = contents[0].Parts[1].InlineData.MIMEType
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func TestGeminiCaptioner(t *testing.T) {
	gen := &fakeGenerator{reply: `{"title": "Attention map", "description": "Heatmap over tokens."}`}
	g := &GeminiCaptioner{models: gen, model: DefaultGeminiModel, logger: logging.NewLogger("GeminiCaptionerTest")}

	got, err := g.Caption(context.Background(), []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if got.Title != "Attention map" || gen.mimeType != "image/png" {
		t.Errorf("Caption = %+v, mime = %s", got, gen.mimeType)
	}

	gen.err = errors.New("quota exceeded")
	if _, err := g.Caption(context.Background(), []byte{1}, ""); err == nil {
		t.Error("expected error from failing model")
	}
	if _, err := NewGeminiCaptioner(context.Background(), "", ""); err == nil {
		t.Error("expected error without API key")
	}
}

func TestArtifactClientUploadFigure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/upload" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("source_service") != SourceService || r.FormValue("source_id") != "job-7" {
			t.Errorf("fields = %v", r.MultipartForm.Value)
		}
		if r.FormValue("ttl_days") != "36500" {
			t.Errorf("ttl_days = %q", r.FormValue("ttl_days"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "abc.jpg" || string(data) != "jpegdata" {
			t.Errorf("file = %s %q", header.Filename, data)
		}
		io.WriteString(w, `{"success": true, "artifact": {"id": "a1", "download_url": "https://files.example/a1"}}`)
	}))
	defer server.Close()

	client := NewArtifactClient(server.URL)
	link, err := client.UploadFigure(context.Background(), "job-7", "abc.jpg", []byte("jpegdata"), map[string]interface{}{"page": 1})
	if err != nil {
		t.Fatalf("UploadFigure: %v", err)
	}
	if link != "https://files.example/a1" {
		t.Errorf("link = %q", link)
	}
}

func TestArtifactClientValidation(t *testing.T) {
	client := NewArtifactClient("http://unused")
	tests := []ArtifactUploadRequest{
		{Filename: "a.jpg", SourceID: "j"},
		{FileBuffer: []byte("x"), SourceID: "j"},
		{FileBuffer: []byte("x"), Filename: "a.jpg"},
	}
	for i, req := range tests {
		req := req
		if _, err := client.UploadArtifact(context.Background(), &req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestArtifactClientListBySource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/source/smartpaper-layout/job-7" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"success": true, "artifacts": [{"id": "a1"}, {"id": "a2"}]}`)
	}))
	defer server.Close()

	got, err := NewArtifactClient(server.URL).GetArtifactsBySourceID(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("GetArtifactsBySourceID: %v", err)
	}
	if len(got) != 2 || got[1].ID != "a2" {
		t.Errorf("artifacts = %+v", got)
	}
}

func TestNoopCaptioner(t *testing.T) {
	got, err := NoopCaptioner{}.Caption(context.Background(), []byte("x"), "image/jpeg")
	if err != nil || got != (Caption{}) {
		t.Errorf("NoopCaptioner = %+v, %v", got, err)
	}
}
