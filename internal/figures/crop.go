/**
 * Figure cropping
 *
 * Cuts image, chart and table regions out of a rendered page and encodes
 * them for captioning and artifact upload.
 */

package figures

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

// JPEGQuality is the encoder quality used for figure crops
const JPEGQuality = 90

// ErrEmptyCrop is returned when a rectangle has no overlap with the image
var ErrEmptyCrop = errors.New("crop rectangle does not overlap the image")

// Crop copies the part of img covered by r, clamped to the image bounds
func Crop(img image.Image, r layout.Rect) (image.Image, error) {
	bounds := img.Bounds()
	rect := image.Rect(
		bounds.Min.X+int(math.Floor(r.X1)),
		bounds.Min.Y+int(math.Floor(r.Y1)),
		bounds.Min.X+int(math.Ceil(r.X2)),
		bounds.Min.Y+int(math.Ceil(r.Y2)),
	).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %s within %v", ErrEmptyCrop, r, bounds)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// Scale resizes img so its longer side is at most maxSide pixels
func Scale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if maxSide <= 0 || longest <= maxSide {
		return img
	}
	ratio := float64(maxSide) / float64(longest)
	w := int(math.Max(1, math.Round(float64(b.Dx())*ratio)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*ratio)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodeJPEG encodes img as a JPEG at JPEGQuality
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps data in a base64 data URI
func DataURI(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// NewFilename returns a random name for a figure crop
func NewFilename() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "") + ".jpg"
}
