/**
 * Page Processor for the SmartPaper layout worker
 *
 * Turns one PDF page into an ordered, captioned layout:
 * - Loads the PDF from the job buffer or URL
 * - Obtains layout boxes from inline detections or the layout detector
 * - Reconstructs nesting, formula numbers, captions and reading order
 * - Fills text from the PDF text layer and captions figures
 * - Renders Markdown, embeds it and stores the page in PostgreSQL + Qdrant
 */

package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sanbuphy/SmartPaper/internal/clients"
	"github.com/sanbuphy/SmartPaper/internal/errors"
	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/render"
	"github.com/sanbuphy/SmartPaper/internal/storage"
)

const (
	// DefaultRenderZoom renders pages at 288 DPI
	DefaultRenderZoom = 4.0
	// DefaultFigureConcurrency bounds concurrent figure captioning per page
	DefaultFigureConcurrency = 4
	// DefaultMaxFileSize caps downloaded PDFs
	DefaultMaxFileSize = 512 * 1024 * 1024
)

// PageProcessorInterface defines the interface for page processing
type PageProcessorInterface interface {
	ProcessPage(ctx context.Context, req *PageRequest) (*PageResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// PageStore persists reconstructed pages and job status
type PageStore interface {
	StorePageLayout(ctx context.Context, input *storage.PageLayoutInput) (*storage.PageLayoutOutput, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// Embedder turns page Markdown into a vector
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	StorageManager PageStore
	Detector       Detector         // optional when every job carries detections
	Captioner      clients.Captioner // nil captions nothing
	Artifacts      FigureUploader   // nil embeds figures as data URIs
	FigureCache    FigureCache      // nil disables caption caching
	Embedder       Embedder         // nil skips embeddings

	Layout            *layout.Options // nil uses layout.DefaultOptions()
	Geometry          layout.GeometryPolicy
	StripReferences   bool
	RenderZoom        float64
	FigureConcurrency int
	MaxFileSize       int64
	HTTPClient        *http.Client // used for PDF downloads
}

// PageOptions are per-job overrides of the worker's layout settings
type PageOptions struct {
	FilterLabels    []string `json:"filterLabels,omitempty"`
	NoFilter        bool     `json:"noFilter,omitempty"`
	TieBreak        string   `json:"tieBreak,omitempty"`
	GeometryPolicy  string   `json:"geometryPolicy,omitempty"`
	StripReferences *bool    `json:"stripReferences,omitempty"`
	SkipFigures     bool     `json:"skipFigures,omitempty"`
}

// PageRequest represents one page to reconstruct
type PageRequest struct {
	JobID      string
	UserID     string
	DocumentID string
	PageNumber int // 1-based
	Filename   string
	PDFURL     string
	PDFBuffer  []byte
	Detections json.RawMessage // detector output, skips detection when set
	PageWidth  float64         // pixel width the detections refer to
	Options    PageOptions
}

// PageResult represents the processing result
type PageResult struct {
	LayoutID           string       `json:"layoutId"`
	PageNumber         int          `json:"pageNumber"`
	PageWidth          float64      `json:"pageWidth"`
	BoxCount           int          `json:"boxCount"`
	FigureCount        int          `json:"figureCount"`
	TextFilled         int          `json:"textFilled"`
	Stats              layout.Stats `json:"stats"`
	Boxes              []layout.Box `json:"boxes"`
	Markdown           string       `json:"markdown"`
	Truncated          bool         `json:"truncated,omitempty"`
	EmbeddingGenerated bool         `json:"embeddingGenerated"`
	ProcessingTimeMs   int64        `json:"processingTimeMs"`
}

// PageProcessor handles page processing
type PageProcessor struct {
	config          *ProcessorConfig
	storage         PageStore
	analyzer        *LayoutAnalyzer
	captioner       clients.Captioner
	artifacts       FigureUploader
	cache           FigureCache
	embedder        Embedder
	layoutOpts      layout.Options
	httpClient      *http.Client
	downloadBackoff time.Duration
}

// NewPageProcessor creates a new page processor
func NewPageProcessor(cfg *ProcessorConfig) (*PageProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.StorageManager == nil {
		return nil, fmt.Errorf("storage manager is required")
	}

	if cfg.RenderZoom <= 0 {
		cfg.RenderZoom = DefaultRenderZoom
	}
	if cfg.FigureConcurrency <= 0 {
		cfg.FigureConcurrency = DefaultFigureConcurrency
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	opts := layout.DefaultOptions()
	if cfg.Layout != nil {
		opts = *cfg.Layout
	}

	captioner := cfg.Captioner
	if captioner == nil {
		captioner = clients.NoopCaptioner{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}

	if cfg.Detector == nil {
		log.Printf("WARNING: No layout detector configured. Only jobs carrying detections can be processed.")
	}
	if cfg.Embedder == nil {
		log.Printf("WARNING: Embeddings disabled. Pages will not be searchable by similarity.")
	}

	return &PageProcessor{
		config:          cfg,
		storage:         cfg.StorageManager,
		analyzer:        NewLayoutAnalyzer(cfg.Detector),
		captioner:       captioner,
		artifacts:       cfg.Artifacts,
		cache:           cfg.FigureCache,
		embedder:        cfg.Embedder,
		layoutOpts:      opts,
		httpClient:      httpClient,
		downloadBackoff: time.Second,
	}, nil
}

// pageSettings are the worker defaults with a job's overrides applied
type pageSettings struct {
	layout          layout.Options
	geometry        layout.GeometryPolicy
	stripReferences bool
	skipFigures     bool
}

func (p *PageProcessor) settings(jobID string, o PageOptions) pageSettings {
	s := pageSettings{
		layout:          p.layoutOpts,
		geometry:        p.config.Geometry,
		stripReferences: p.config.StripReferences,
		skipFigures:     o.SkipFigures,
	}
	if o.FilterLabels != nil {
		s.layout.Labels.FilterLabels = o.FilterLabels
	}
	if o.NoFilter {
		s.layout.Labels.Enabled = false
	}
	if o.TieBreak != "" {
		s.layout.TieBreak = layout.ParseTieBreak(o.TieBreak)
	}
	if o.GeometryPolicy != "" {
		if g, err := layout.ParseGeometryPolicy(o.GeometryPolicy); err == nil {
			s.geometry = g
		} else {
			log.Printf("[Job %s] Ignoring geometry policy override: %v", jobID, err)
		}
	}
	if o.StripReferences != nil {
		s.stripReferences = *o.StripReferences
	}
	return s
}

// ProcessPage runs one page through the complete pipeline
func (p *PageProcessor) ProcessPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	startTime := time.Now()
	log.Printf("[Job %s] Starting layout pipeline for page %d", req.JobID, req.PageNumber)

	if req.PageNumber < 1 {
		return nil, fmt.Errorf("page number must be 1 or greater, got %d", req.PageNumber)
	}
	settings := p.settings(req.JobID, req.Options)

	// Step 1: Load the PDF
	pdfData, err := p.loadPDF(ctx, req)
	if err != nil {
		return nil, err
	}
	src := &pageSource{jobID: req.JobID, pdf: pdfData, page: req.PageNumber, zoom: p.config.RenderZoom}

	// Steps 2-3: Obtain boxes and the width they are measured against
	log.Printf("[Job %s] Step 2: Obtaining layout boxes", req.JobID)
	analyzed, err := p.analyzer.Analyze(ctx, req, src, settings.geometry)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Layout obtained: boxes=%d, invalid=%d, dropped=%d, width=%.0f (%s), model=%s",
		req.JobID, len(analyzed.Boxes), analyzed.Invalid, analyzed.Dropped,
		analyzed.Width, analyzed.WidthSource, analyzed.Model)

	// Step 4: Reconstruct
	log.Printf("[Job %s] Step 4: Reconstructing layout", req.JobID)
	rec, err := layout.NewReconstructor(settings.layout).Reconstruct(layout.Page{
		Number: req.PageNumber,
		Width:  analyzed.Width,
		Boxes:  analyzed.Boxes,
	})
	if err != nil {
		if perr := errors.FromLayoutError(req.JobID, req.PageNumber, analyzed.Width, err); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("layout reconstruction failed: %w", err)
	}
	boxes := rec.Page.Boxes
	log.Printf("[Job %s] Reconstruction complete: in=%d, filtered=%d, nested=%d, formulaNumbers=%d, captions=%d, out=%d",
		req.JobID, rec.Stats.Input, rec.Stats.Filtered, rec.Stats.Nested,
		rec.Stats.FormulaNumbersMerged, rec.Stats.CaptionsMerged, rec.Stats.Output)

	// Step 5: Text layer
	filled := p.fillText(req, src, boxes)

	// Step 6: Figures
	var figs map[int]render.Figure
	if !settings.skipFigures && src.hasPDF() && countFigures(boxes) > 0 {
		log.Printf("[Job %s] Step 6: Processing %d figures", req.JobID, countFigures(boxes))
		img, err := src.image()
		if err != nil {
			log.Printf("[Job %s] WARNING: %v. Figures will be rendered from caption text.", req.JobID, err)
		} else {
			figs = p.processFigures(ctx, req, img, boxes)
		}
	}

	// Step 7: Markdown
	out := render.Page(boxes, figs, render.Options{StripReferences: settings.stripReferences})
	if out.Truncated {
		log.Printf("[Job %s] Markdown truncated at references heading", req.JobID)
	}

	// Step 8: Embed and store
	var embedding []float32
	if p.embedder != nil && out.Markdown != "" {
		log.Printf("[Job %s] Step 8: Generating semantic embedding", req.JobID)
		embedding, err = p.embedder.GenerateEmbedding(ctx, out.Markdown)
		if err != nil {
			log.Printf("[Job %s] WARNING: Embedding generation failed: %v. Page stored without a vector.", req.JobID, err)
			embedding = nil
		}
	}

	stored, err := p.storage.StorePageLayout(ctx, &storage.PageLayoutInput{
		JobID:      req.JobID,
		PageNumber: req.PageNumber,
		PageWidth:  analyzed.Width,
		Boxes:      boxes,
		Markdown:   out.Markdown,
		Embedding:  embedding,
	})
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}
	log.Printf("[Job %s] Page layout stored: layoutId=%s, qdrantPointId=%s",
		req.JobID, stored.ID, stored.QdrantPointID)

	result := &PageResult{
		LayoutID:           stored.ID,
		PageNumber:         req.PageNumber,
		PageWidth:          analyzed.Width,
		BoxCount:           len(boxes),
		FigureCount:        len(figs),
		TextFilled:         filled,
		Stats:              rec.Stats,
		Boxes:              boxes,
		Markdown:           out.Markdown,
		Truncated:          out.Truncated,
		EmbeddingGenerated: embedding != nil,
		ProcessingTimeMs:   time.Since(startTime).Milliseconds(),
	}

	log.Printf("[Job %s] Page %d pipeline complete: layoutId=%s, boxes=%d, figures=%d",
		req.JobID, req.PageNumber, result.LayoutID, result.BoxCount, result.FigureCount)

	return result, nil
}

// fillText copies text-layer content into text-like boxes. A PDF without a
// usable text layer leaves the boxes untouched.
func (p *PageProcessor) fillText(req *PageRequest, src *pageSource, boxes []layout.Box) int {
	if !src.hasPDF() {
		return 0
	}
	doc, err := src.document()
	if err != nil {
		log.Printf("[Job %s] WARNING: Text layer unavailable: %v", req.JobID, err)
		return 0
	}
	textLayer, err := doc.Layer(req.PageNumber, src.zoom)
	if err != nil {
		log.Printf("[Job %s] WARNING: Text layer unavailable: %v", req.JobID, err)
		return 0
	}
	filled := textLayer.FillText(boxes)
	log.Printf("[Job %s] Step 5: Text filled for %d boxes", req.JobID, filled)
	return filled
}

// UpdateJobStatus updates job status in database
func (p *PageProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if layoutID, ok := metadata["layoutId"].(string); ok {
			update.LayoutID = layoutID
		}
		if boxCount, ok := metadata["boxCount"].(int); ok {
			update.BoxCount = boxCount
		}
		if page, ok := metadata["page"].(int); ok && status == "completed" {
			update.PagesDone = page
		}
		if code, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = code
			update.ErrorMessage, _ = metadata["message"].(string)
		} else if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			update.ErrorMessage = errorMsg
		}
	}

	return p.storage.UpdateJobStatus(ctx, update)
}

// loadPDF loads the PDF from buffer or URL. Jobs that carry detections may
// come without a PDF, in which case nil is returned.
func (p *PageProcessor) loadPDF(ctx context.Context, req *PageRequest) ([]byte, error) {
	var data []byte

	switch {
	case len(req.PDFBuffer) > 0:
		log.Printf("[Job %s] Step 1: Using PDF buffer (%d bytes)", req.JobID, len(req.PDFBuffer))
		data = req.PDFBuffer
	case req.PDFURL != "":
		log.Printf("[Job %s] Step 1: Downloading PDF from URL: %s", req.JobID, req.PDFURL)
		downloaded, err := p.downloadFileFromURL(ctx, req.JobID, req.PDFURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download PDF: %w", err)
		}
		data = downloaded
	case len(req.Detections) > 0:
		log.Printf("[Job %s] Step 1: No PDF supplied, using inline detections only", req.JobID)
		return nil, nil
	default:
		return nil, fmt.Errorf("no PDF source provided (buffer or URL)")
	}

	if !bytes.HasPrefix(data, []byte("%PDF")) {
		mimeType := detectMimeTypeFromMagicBytes(data)
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return nil, errors.NewUnsupportedFormatError(req.JobID, mimeType)
	}
	return data, nil
}

// downloadFileFromURL downloads a file with retry and exponential backoff
func (p *PageProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	const (
		maxRetries = 5
		maxBackoff = 32 * time.Second
	)

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			backoff := p.downloadBackoff << (attempt - 2)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			log.Printf("[Job %s] Retrying in %v...", jobID, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		log.Printf("[Job %s] Download attempt %d/%d from: %s", jobID, attempt, maxRetries, fileURL)

		data, err := p.fetch(ctx, fileURL)
		if err == nil {
			log.Printf("[Job %s] Download successful on attempt %d: %d bytes", jobID, attempt, len(data))
			return data, nil
		}

		lastErr = err
		log.Printf("[Job %s] Download attempt %d failed: %v", jobID, attempt, err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr)
}

func (p *PageProcessor) fetch(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > p.config.MaxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, p.config.MaxFileSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > p.config.MaxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum of %d bytes", p.config.MaxFileSize)
	}
	return data, nil
}

// detectMimeTypeFromMagicBytes names what a non-PDF payload actually is
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		// EPUB stores "mimetype" uncompressed as its first entry
		if bytes.Contains(data[:min(100, len(data))], []byte("mimetypeapplication/epub+zip")) {
			return "application/epub+zip"
		}
		return "application/zip"
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}):
		return "application/msword"
	}
	return ""
}
