/**
 * Configuration for the SmartPaper layout worker
 *
 * Loads configuration from the environment, after merging any .env file,
 * and derives the reconstruction options the pipeline runs with.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

// Caption providers
const (
	CaptionGemini = "gemini"
	CaptionOpenAI = "openai"
	CaptionNone   = "none"
)

// Queue modes
const (
	QueueModeAsynq = "asynq"
	QueueModeList  = "list"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// API keys. Never defaulted.
	VoyageAPIKey string
	GeminiAPIKey string
	VisionAPIKey string

	// Service URLs
	DetectorURL       string
	DetectorModel     string
	DetectorThreshold float64
	VisionAPIURL      string
	VisionModel       string
	GeminiModel       string
	CaptionProvider   string
	ArtifactAPIURL    string

	// Worker configuration
	WorkerConcurrency int
	FigureConcurrency int
	ProcessingTimeout int // milliseconds
	QueueName         string
	QueueMode         string

	// Rendering
	RenderZoom float64

	// Figure caption cache
	CacheTTLHours int

	// Layout policy
	FilterLabels        []string
	ContainmentTieBreak string
	GeometryPolicy      string
	StripReferences     bool

	LogLevel string
}

// LoadDotEnv merges the first readable env file into the environment.
// Variables already set win. It returns the file used, or "".
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:           getEnvOrDefault("QDRANT_URL", "localhost:6334"),
		QdrantCollection:    getEnvOrDefault("QDRANT_COLLECTION", "smartpaper_pages"),
		VoyageAPIKey:        os.Getenv("VOYAGE_API_KEY"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		VisionAPIKey:        os.Getenv("VISION_API_KEY"),
		DetectorURL:         getEnvOrDefault("DETECTOR_URL", "http://localhost:8866"),
		DetectorModel:       getEnvOrDefault("DETECTOR_MODEL", ""),
		DetectorThreshold:   getEnvAsFloatOrDefault("DETECTOR_THRESHOLD", 0.5),
		VisionAPIURL:        getEnvOrDefault("VISION_API_URL", "https://api.siliconflow.cn/v1"),
		VisionModel:         getEnvOrDefault("VISION_MODEL", ""),
		GeminiModel:         getEnvOrDefault("GEMINI_MODEL", ""),
		CaptionProvider:     strings.ToLower(getEnvOrDefault("CAPTION_PROVIDER", CaptionNone)),
		ArtifactAPIURL:      getEnvOrDefault("ARTIFACT_API_URL", ""),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		FigureConcurrency:   getEnvAsIntOrDefault("FIGURE_CONCURRENCY", 4),
		ProcessingTimeout:   getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		QueueName:           getEnvOrDefault("QUEUE_NAME", "smartpaper:layout"),
		QueueMode:           strings.ToLower(getEnvOrDefault("QUEUE_MODE", QueueModeAsynq)),
		RenderZoom:          getEnvAsFloatOrDefault("RENDER_ZOOM", 4.0),
		CacheTTLHours:       getEnvAsIntOrDefault("CACHE_TTL_HOURS", 24*7),
		FilterLabels:        layout.ParseLabelList(os.Getenv("FILTER_LABELS")),
		ContainmentTieBreak: getEnvOrDefault("CONTAINMENT_TIE_BREAK", "first"),
		GeometryPolicy:      getEnvOrDefault("GEOMETRY_POLICY", "placeholder"),
		StripReferences:     getEnvAsBoolOrDefault("STRIP_REFERENCES", false),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.FigureConcurrency < 1 || c.FigureConcurrency > 32 {
		return fmt.Errorf("FIGURE_CONCURRENCY must be between 1 and 32, got %d", c.FigureConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.RenderZoom <= 0 || c.RenderZoom > 10 {
		return fmt.Errorf("RENDER_ZOOM must be in (0, 10], got %v", c.RenderZoom)
	}

	switch c.QueueMode {
	case QueueModeAsynq, QueueModeList:
	default:
		return fmt.Errorf("QUEUE_MODE must be asynq or list, got %q", c.QueueMode)
	}

	switch c.CaptionProvider {
	case CaptionNone:
	case CaptionGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when CAPTION_PROVIDER=gemini")
		}
	case CaptionOpenAI:
		if c.VisionAPIKey == "" || c.VisionAPIURL == "" {
			return fmt.Errorf("VISION_API_KEY and VISION_API_URL are required when CAPTION_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("CAPTION_PROVIDER must be gemini, openai or none, got %q", c.CaptionProvider)
	}

	switch strings.ToLower(c.ContainmentTieBreak) {
	case "first", "smallest", "smallest_area", "smallest-area":
	default:
		return fmt.Errorf("CONTAINMENT_TIE_BREAK must be first or smallest, got %q", c.ContainmentTieBreak)
	}

	if _, err := layout.ParseGeometryPolicy(c.GeometryPolicy); err != nil {
		return fmt.Errorf("GEOMETRY_POLICY: %w", err)
	}

	return nil
}

// LayoutOptions builds the reconstruction options from the layout policy keys
func (c *Config) LayoutOptions() layout.Options {
	opts := layout.DefaultOptions()
	opts.Labels.FilterLabels = c.FilterLabels
	opts.TieBreak = layout.ParseTieBreak(c.ContainmentTieBreak)
	return opts
}

// Geometry returns the parsed geometry policy
func (c *Config) Geometry() layout.GeometryPolicy {
	p, err := layout.ParseGeometryPolicy(c.GeometryPolicy)
	if err != nil {
		return layout.PolicyPlaceholder
	}
	return p
}

// Timeout returns the per-job processing timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// CacheTTL returns how long figure captions stay cached
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
