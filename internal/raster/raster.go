/**
 * Page rasterizer
 *
 * Renders PDF pages to images with MuPDF so the layout detector and the
 * figure cropper see the page at the same zoom the text layer is projected to.
 */

package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// BaseDPI is the PDF user-space resolution, one point per pixel at zoom 1
const BaseDPI = 72.0

// DefaultZoom matches the detector's training resolution
const DefaultZoom = 4.0

// ErrInvalidZoom is returned for non-positive zoom factors
var ErrInvalidZoom = errors.New("zoom must be positive")

// RenderPage rasterizes page pageIndex (0-based) of the PDF at 72*zoom DPI
func RenderPage(pdfBytes []byte, pageIndex int, zoom float64) (image.Image, error) {
	if zoom <= 0 {
		return nil, ErrInvalidZoom
	}

	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF for rendering: %w", err)
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return nil, fmt.Errorf("page index %d out of range (document has %d pages)", pageIndex, doc.NumPage())
	}

	img, err := doc.ImageDPI(pageIndex, BaseDPI*zoom)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", pageIndex+1, err)
	}
	return img, nil
}

// PageCount returns the number of pages MuPDF sees in the document
func PageCount(pdfBytes []byte) (int, error) {
	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// EncodePNG encodes an image as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes any registered image format
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// ImageWidth reads the pixel width from an image header without decoding pixels
func ImageWidth(data []byte) (int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 {
		return 0, fmt.Errorf("image reports width %d", cfg.Width)
	}
	return cfg.Width, nil
}
