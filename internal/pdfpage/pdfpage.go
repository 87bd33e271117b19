/**
 * PDF page metadata and text layer
 *
 * Reads page geometry and positioned glyphs from a PDF held in memory.
 * Coordinates handed in and out are in rendered-page pixels: PDF points
 * scaled by the render zoom with the y axis flipped to grow downward.
 */

package pdfpage

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"rsc.io/pdf"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

// ErrPageOutOfRange is returned for page numbers outside 1..NumPage
var ErrPageOutOfRange = errors.New("page number out of range")

// letter is the fallback page size when no MediaBox is present
var letter = [4]float64{0, 0, 612, 792}

// Document is an opened PDF
type Document struct {
	reader *pdf.Reader
}

// Glyph is one positioned string from the text layer, in PDF points
type Glyph struct {
	X        float64
	Y        float64
	W        float64
	FontSize float64
	S        string
}

// Open parses a PDF from memory
func Open(data []byte) (doc *Document, err error) {
	if len(data) == 0 {
		return nil, errors.New("empty PDF buffer")
	}
	// rsc.io/pdf panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return &Document{reader: reader}, nil
}

// NumPage returns the number of pages
func (d *Document) NumPage() int {
	return d.reader.NumPage()
}

func (d *Document) page(n int) (pdf.Page, error) {
	if n < 1 || n > d.reader.NumPage() {
		return pdf.Page{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, d.reader.NumPage())
	}
	p := d.reader.Page(n)
	if p.V.IsNull() {
		return pdf.Page{}, fmt.Errorf("%w: page %d has no object", ErrPageOutOfRange, n)
	}
	return p, nil
}

// mediaBox resolves the page's MediaBox, walking up the page tree when it is inherited
func mediaBox(p pdf.Page) [4]float64 {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		var out [4]float64
		for i := 0; i < 4; i++ {
			out[i] = box.Index(i).Float64()
		}
		return [4]float64{
			math.Min(out[0], out[2]), math.Min(out[1], out[3]),
			math.Max(out[0], out[2]), math.Max(out[1], out[3]),
		}
	}
	return letter
}

// PageSize returns the page width and height in points
func (d *Document) PageSize(n int) (width, height float64, err error) {
	p, err := d.page(n)
	if err != nil {
		return 0, 0, err
	}
	mb := mediaBox(p)
	return mb[2] - mb[0], mb[3] - mb[1], nil
}

// PixelWidth returns the width of page n rendered at zoom
func (d *Document) PixelWidth(n int, zoom float64) (float64, error) {
	w, _, err := d.PageSize(n)
	if err != nil {
		return 0, err
	}
	return w * zoom, nil
}

// Glyphs returns the text layer of page n
func (d *Document) Glyphs(n int) (glyphs []Glyph, err error) {
	p, err := d.page(n)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			glyphs, err = nil, fmt.Errorf("failed to read text layer of page %d: %v", n, r)
		}
	}()

	content := p.Content()
	glyphs = make([]Glyph, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		glyphs = append(glyphs, Glyph{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	return glyphs, nil
}

// TextLayer is the glyphs of one page projected into pixel space
type TextLayer struct {
	zoom   float64
	origin [2]float64
	top    float64
	glyphs []Glyph
}

// Layer loads page n's text layer for lookups at the given zoom
func (d *Document) Layer(n int, zoom float64) (*TextLayer, error) {
	p, err := d.page(n)
	if err != nil {
		return nil, err
	}
	glyphs, err := d.Glyphs(n)
	if err != nil {
		return nil, err
	}
	mb := mediaBox(p)
	return &TextLayer{
		zoom:   zoom,
		origin: [2]float64{mb[0], mb[1]},
		top:    mb[3],
		glyphs: glyphs,
	}, nil
}

// pixel maps a glyph's visual center into rendered-page pixels
func (l *TextLayer) pixel(g Glyph) (x, y float64) {
	cx := g.X + g.W/2
	// Baseline sits near the bottom of the glyph box.
	cy := g.Y + g.FontSize*0.35
	return (cx - l.origin[0]) * l.zoom, (l.top - cy) * l.zoom
}

// TextIn returns the text whose glyph centers fall inside r and outside every
// excluded rectangle, assembled into lines top to bottom and left to right
func (l *TextLayer) TextIn(r layout.Rect, exclude ...layout.Rect) string {
	type placed struct {
		x, y, size float64
		s          string
	}

	var hits []placed
	for _, g := range l.glyphs {
		x, y := l.pixel(g)
		if !inside(r, x, y) || excluded(exclude, x, y) {
			continue
		}
		hits = append(hits, placed{x: x, y: y, size: g.FontSize * l.zoom, s: g.S})
	}
	if len(hits) == 0 {
		return ""
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].y < hits[j].y })

	var lines [][]placed
	for _, h := range hits {
		n := len(lines)
		tolerance := math.Max(h.size*0.5, 1)
		if n > 0 && math.Abs(lines[n-1][0].y-h.y) <= tolerance {
			lines[n-1] = append(lines[n-1], h)
			continue
		}
		lines = append(lines, []placed{h})
	}

	var sb strings.Builder
	for i, line := range lines {
		sort.SliceStable(line, func(a, b int) bool { return line[a].x < line[b].x })
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, h := range line {
			sb.WriteString(h.s)
		}
	}
	return strings.TrimSpace(sb.String())
}

func inside(r layout.Rect, x, y float64) bool {
	return x >= r.X1 && x <= r.X2 && y >= r.Y1 && y <= r.Y2
}

func excluded(rects []layout.Rect, x, y float64) bool {
	for _, r := range rects {
		if inside(r, x, y) {
			return true
		}
	}
	return false
}

// TextIn is a convenience wrapper that loads page n's layer and queries one rectangle
func (d *Document) TextIn(n int, r layout.Rect, zoom float64) (string, error) {
	layer, err := d.Layer(n, zoom)
	if err != nil {
		return "", err
	}
	return layer.TextIn(r), nil
}

// textual labels receive their content from the text layer
var textual = map[layout.Label]bool{
	layout.LabelParagraphTitle: true,
	layout.LabelText:           true,
	layout.LabelAbstract:       true,
	layout.LabelContent:        true,
	layout.LabelFigureTitle:    true,
	layout.LabelFormula:        true,
	layout.LabelTable:          true,
	layout.LabelTableTitle:     true,
	layout.LabelDocTitle:       true,
	layout.LabelAlgorithm:      true,
	layout.LabelChartTitle:     true,
	layout.LabelFormulaNumber:  true,
}

// FillText sets Text on every text-like box, nested children and formula
// numbers included, that does not already carry text. It returns the number
// of boxes filled.
func (l *TextLayer) FillText(boxes []layout.Box) int {
	filled := 0
	for i := range boxes {
		b := &boxes[i]
		if b.Text == "" && textual[b.Kind()] {
			var numbers []layout.Rect
			for _, fn := range b.FormulaNumbers {
				numbers = append(numbers, fn.Coordinate)
			}
			if text := l.TextIn(b.Coordinate, numbers...); text != "" {
				b.Text = text
				filled++
			}
		}
		for k := range b.FormulaNumbers {
			fn := &b.FormulaNumbers[k]
			if fn.Text == "" {
				if text := l.TextIn(fn.Coordinate); text != "" {
					fn.Text = text
					filled++
				}
			}
		}
		filled += l.FillText(b.Children)
	}
	return filled
}
