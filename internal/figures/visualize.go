package figures

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

// VisualizeOptions controls the overlay drawn by Visualize
type VisualizeOptions struct {
	ShowOrder  bool
	ShowLabel  bool
	LineWidth  int
	TagPadding int
}

// DefaultVisualizeOptions draws order, label and score with 2px outlines
func DefaultVisualizeOptions() VisualizeOptions {
	return VisualizeOptions{ShowOrder: true, ShowLabel: true, LineWidth: 2, TagPadding: 4}
}

var tagText = color.RGBA{255, 255, 255, 255}

// Tag is the annotation drawn above the i-th box (0-based) in reading order
func Tag(i int, b layout.Box, opts VisualizeOptions) string {
	tag := ""
	if opts.ShowOrder {
		tag = fmt.Sprintf("#%d", i+1)
	}
	if opts.ShowLabel {
		if tag != "" {
			tag += " "
		}
		tag += b.Label
		if b.Score > 0 {
			tag += fmt.Sprintf(" %.2f", b.Score)
		}
	}
	return tag
}

// Visualize draws every box over a copy of img in its label's color
func Visualize(img image.Image, boxes []layout.Box, opts VisualizeOptions) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	for i, b := range boxes {
		c := b.Kind().Info().Color
		r := image.Rect(int(b.Coordinate.X1), int(b.Coordinate.Y1), int(b.Coordinate.X2), int(b.Coordinate.Y2)).Add(bounds.Min)
		outline(canvas, r, c, opts.LineWidth)

		tag := Tag(i, b, opts)
		if tag == "" {
			continue
		}
		width := font.MeasureString(face, tag).Ceil()
		height := face.Metrics().Height.Ceil()
		pad := opts.TagPadding
		bg := image.Rect(r.Min.X, r.Min.Y-height-2*pad, r.Min.X+width+2*pad, r.Min.Y)
		draw.Draw(canvas, bg.Intersect(bounds), image.NewUniform(c), image.Point{}, draw.Src)

		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(tagText),
			Face: face,
			Dot:  fixed.P(bg.Min.X+pad, bg.Max.Y-pad-face.Metrics().Descent.Ceil()),
		}
		d.DrawString(tag)
	}
	return canvas
}

func outline(dst *image.RGBA, r image.Rectangle, c color.RGBA, width int) {
	if width < 1 {
		width = 1
	}
	src := image.NewUniform(c)
	clip := dst.Bounds()
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(clip), src, image.Point{}, draw.Src)
	}
}
