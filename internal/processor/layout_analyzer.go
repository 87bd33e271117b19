/**
 * Layout Analyzer for the SmartPaper layout worker
 *
 * Obtains a page's layout boxes and the pixel width they are measured in.
 * Boxes come from detections carried by the job or from the layout detector
 * run over the rendered page.
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/sanbuphy/SmartPaper/internal/clients"
	"github.com/sanbuphy/SmartPaper/internal/errors"
	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/pdfpage"
	"github.com/sanbuphy/SmartPaper/internal/raster"
)

// Detector runs layout detection on a rendered page
type Detector interface {
	Detect(ctx context.Context, image []byte, pageNumber int) (*clients.DetectData, error)
}

// Width sources, in the order they are consulted
const (
	WidthExplicit   = "explicit"
	WidthDetections = "detections"
	WidthImage      = "image"
	WidthMediaBox   = "mediabox"
	WidthUnknown    = "unknown"
)

// pageSource is one PDF page. The rendered image and parsed document are
// loaded on first use and shared by the later pipeline steps.
type pageSource struct {
	jobID string
	pdf   []byte
	page  int // 1-based
	zoom  float64

	img image.Image
	doc *pdfpage.Document
}

func (s *pageSource) hasPDF() bool {
	return len(s.pdf) > 0
}

func (s *pageSource) image() (image.Image, error) {
	if s.img != nil {
		return s.img, nil
	}
	if !s.hasPDF() {
		return nil, fmt.Errorf("no PDF to render page %d from", s.page)
	}
	img, err := raster.RenderPage(s.pdf, s.page-1, s.zoom)
	if err != nil {
		return nil, errors.NewRenderFailedError(s.jobID, s.page, err)
	}
	s.img = img
	return img, nil
}

func (s *pageSource) document() (*pdfpage.Document, error) {
	if s.doc != nil {
		return s.doc, nil
	}
	doc, err := pdfpage.Open(s.pdf)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return doc, nil
}

// AnalyzedPage is a page's validated boxes in pixel space
type AnalyzedPage struct {
	Boxes       []layout.Box
	Width       float64
	WidthSource string
	Invalid     int // malformed coordinates replaced or dropped
	Dropped     int
	Model       string
}

// LayoutAnalyzer obtains page layouts
type LayoutAnalyzer struct {
	detector Detector
}

// NewLayoutAnalyzer creates a new layout analyzer. detector may be nil when
// every job carries its own detections.
func NewLayoutAnalyzer(detector Detector) *LayoutAnalyzer {
	return &LayoutAnalyzer{detector: detector}
}

// Analyze decodes or detects the page's boxes and resolves the page width
func (l *LayoutAnalyzer) Analyze(ctx context.Context, req *PageRequest, src *pageSource, policy layout.GeometryPolicy) (*AnalyzedPage, error) {
	var (
		raw           []layout.RawBox
		detectedWidth float64
		model         string
	)

	if len(req.Detections) > 0 {
		det, err := layout.DecodeDetections(req.Detections)
		if err != nil {
			return nil, errors.NewInvalidDetectionsError(req.JobID, req.PageNumber, err)
		}
		raw, detectedWidth, model = det.Boxes, det.Width, "inline"
	} else {
		data, err := l.detect(ctx, req, src)
		if err != nil {
			return nil, err
		}
		raw, detectedWidth, model = data.Boxes, data.Width, data.Model
	}

	decoded, err := layout.ToBoxes(raw, policy)
	if err != nil {
		if perr := errors.FromLayoutError(req.JobID, req.PageNumber, 0, err); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("failed to decode boxes: %w", err)
	}
	for _, gerr := range decoded.Invalid {
		log.Printf("[Job %s] Page %d: %v (policy=%s)", req.JobID, req.PageNumber, gerr, policy)
	}

	// An unknown width is left at zero. Reconstruction only needs it when
	// boxes survive label filtering.
	width, source := l.resolveWidth(req, src, detectedWidth)

	// Inline detections may refer to a different render size than the
	// configured zoom. Later crops and text lookups follow the boxes.
	if width > 0 && src.img == nil && src.hasPDF() {
		if doc, err := src.document(); err == nil {
			if points, _, err := doc.PageSize(req.PageNumber); err == nil && points > 0 {
				src.zoom = width / points
			}
		}
	}

	return &AnalyzedPage{
		Boxes:       decoded.Boxes,
		Width:       width,
		WidthSource: source,
		Invalid:     len(decoded.Invalid),
		Dropped:     decoded.Dropped,
		Model:       model,
	}, nil
}

// detect renders the page and sends it to the layout detector
func (l *LayoutAnalyzer) detect(ctx context.Context, req *PageRequest, src *pageSource) (*clients.DetectData, error) {
	if l.detector == nil {
		return nil, errors.NewDetectionFailedError(req.JobID, req.PageNumber,
			fmt.Errorf("no layout detector configured and the job carries no detections"))
	}

	img, err := src.image()
	if err != nil {
		return nil, err
	}
	png, err := raster.EncodePNG(img)
	if err != nil {
		return nil, errors.NewRenderFailedError(req.JobID, req.PageNumber, err)
	}

	log.Printf("[Job %s] Sending page %d to layout detector (%d bytes)", req.JobID, req.PageNumber, len(png))
	data, err := l.detector.Detect(ctx, png, req.PageNumber)
	if err != nil {
		return nil, errors.NewDetectionFailedError(req.JobID, req.PageNumber, err)
	}
	return data, nil
}

// resolveWidth picks the first positive width from the job, the detector,
// the rendered image and finally the MediaBox scaled by the render zoom.
// It returns 0 and WidthUnknown when none is available.
func (l *LayoutAnalyzer) resolveWidth(req *PageRequest, src *pageSource, detected float64) (float64, string) {
	if req.PageWidth > 0 {
		return req.PageWidth, WidthExplicit
	}
	if detected > 0 {
		return detected, WidthDetections
	}
	if src.img != nil {
		if w := src.img.Bounds().Dx(); w > 0 {
			return float64(w), WidthImage
		}
	}
	if src.hasPDF() {
		doc, err := src.document()
		if err == nil {
			if w, err := doc.PixelWidth(req.PageNumber, src.zoom); err == nil && w > 0 {
				return w, WidthMediaBox
			}
		}
	}
	return 0, WidthUnknown
}
