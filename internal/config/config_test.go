package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"REDIS_URL", "CAPTION_PROVIDER", "QUEUE_MODE", "RENDER_ZOOM", "FILTER_LABELS", "WORKER_CONCURRENCY"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RenderZoom != 4.0 || cfg.FigureConcurrency != 4 || cfg.QueueMode != QueueModeAsynq {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.CaptionProvider != CaptionNone || cfg.FilterLabels != nil {
		t.Errorf("caption=%q filter=%v", cfg.CaptionProvider, cfg.FilterLabels)
	}
	if cfg.Timeout() != 5*time.Minute {
		t.Errorf("Timeout = %v", cfg.Timeout())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("FILTER_LABELS", "header, footer")
	t.Setenv("CONTAINMENT_TIE_BREAK", "smallest")
	t.Setenv("GEOMETRY_POLICY", "drop")
	t.Setenv("STRIP_REFERENCES", "true")
	t.Setenv("RENDER_ZOOM", "2.5")
	t.Setenv("CAPTION_PROVIDER", "none")
	t.Setenv("QUEUE_MODE", "list")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.StripReferences || cfg.RenderZoom != 2.5 || cfg.QueueMode != QueueModeList {
		t.Errorf("unexpected config: %+v", cfg)
	}

	opts := cfg.LayoutOptions()
	if !reflect.DeepEqual(opts.Labels.FilterLabels, []string{"header", "footer"}) {
		t.Errorf("FilterLabels = %v", opts.Labels.FilterLabels)
	}
	if opts.TieBreak != layout.TieBreakSmallestArea || cfg.Geometry() != layout.PolicyDrop {
		t.Errorf("tie=%v geometry=%v", opts.TieBreak, cfg.Geometry())
	}
}

func validConfig() Config {
	return Config{
		RedisURL:            "redis://localhost:6379",
		WorkerConcurrency:   4,
		FigureConcurrency:   4,
		ProcessingTimeout:   60000,
		RenderZoom:          4,
		QueueMode:           QueueModeAsynq,
		CaptionProvider:     CaptionNone,
		ContainmentTieBreak: "first",
		GeometryPolicy:      "placeholder",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no redis", func(c *Config) { c.RedisURL = "" }, "REDIS_URL"},
		{"concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, "WORKER_CONCURRENCY"},
		{"figure concurrency", func(c *Config) { c.FigureConcurrency = 100 }, "FIGURE_CONCURRENCY"},
		{"zoom", func(c *Config) { c.RenderZoom = 0 }, "RENDER_ZOOM"},
		{"queue mode", func(c *Config) { c.QueueMode = "kafka" }, "QUEUE_MODE"},
		{"gemini without key", func(c *Config) { c.CaptionProvider = CaptionGemini }, "GEMINI_API_KEY"},
		{"gemini with key", func(c *Config) { c.CaptionProvider = CaptionGemini; c.GeminiAPIKey = "k" }, ""},
		{"openai without key", func(c *Config) { c.CaptionProvider = CaptionOpenAI; c.VisionAPIURL = "http://x" }, "VISION_API_KEY"},
		{"unknown provider", func(c *Config) { c.CaptionProvider = "claude" }, "CAPTION_PROVIDER"},
		{"tie break", func(c *Config) { c.ContainmentTieBreak = "largest" }, "CONTAINMENT_TIE_BREAK"},
		{"geometry", func(c *Config) { c.GeometryPolicy = "lenient" }, "GEOMETRY_POLICY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env.test")
	if err := os.WriteFile(path, []byte("SMARTPAPER_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SMARTPAPER_DOTENV_PROBE", "")
	os.Unsetenv("SMARTPAPER_DOTENV_PROBE")

	if got := LoadDotEnv(filepath.Join(dir, "missing"), path); got != path {
		t.Errorf("LoadDotEnv = %q, want %q", got, path)
	}
	if os.Getenv("SMARTPAPER_DOTENV_PROBE") != "loaded" {
		t.Error("variable from env file not set")
	}
}
