/**
 * Detected box model and detector output decoding
 *
 * A Box owns its absorbed children and merged formula numbers outright.
 * Stages never share a Box between two parents.
 */

package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGeometry is returned for a coordinate that cannot be reduced to a rectangle
var ErrInvalidGeometry = errors.New("invalid geometry")

// PlaceholderRect replaces a malformed coordinate under PolicyPlaceholder
var PlaceholderRect = Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}

// pointBoxSize is the side of the box built around a single [x, y] point
const pointBoxSize = 100

// GeometryError describes a malformed coordinate on one detected box
type GeometryError struct {
	Index int
	Label string
	Raw   string
	Cause string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("box %d (%s): %s: %s", e.Index, e.Label, e.Cause, e.Raw)
}

func (e *GeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

// GeometryPolicy selects how malformed coordinates are handled during decoding
type GeometryPolicy int

const (
	// PolicyPlaceholder substitutes PlaceholderRect and keeps the box
	PolicyPlaceholder GeometryPolicy = iota
	// PolicyDrop removes the box
	PolicyDrop
	// PolicyStrict fails the whole page
	PolicyStrict
)

// ParseGeometryPolicy accepts "placeholder", "drop" or "strict"
func ParseGeometryPolicy(s string) (GeometryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "placeholder":
		return PolicyPlaceholder, nil
	case "drop":
		return PolicyDrop, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyPlaceholder, fmt.Errorf("unknown geometry policy %q", s)
}

func (p GeometryPolicy) String() string {
	switch p {
	case PolicyDrop:
		return "drop"
	case PolicyStrict:
		return "strict"
	}
	return "placeholder"
}

// FormulaNumber is an equation-number fragment merged into a formula box
type FormulaNumber struct {
	Coordinate Rect    `json:"coordinate"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// Box is one detected layout element
type Box struct {
	Label          string          `json:"label"`
	Coordinate     Rect            `json:"coordinate"`
	Score          float64         `json:"score"`
	Text           string          `json:"text,omitempty"`
	Type           string          `json:"type,omitempty"`
	Children       []Box           `json:"children,omitempty"`
	FormulaNumbers []FormulaNumber `json:"formula_numbers,omitempty"`
}

// Kind returns the parsed label
func (b Box) Kind() Label {
	return ParseLabel(b.Label)
}

// Clone returns a deep copy
func (b Box) Clone() Box {
	c := b
	if b.Children != nil {
		c.Children = make([]Box, len(b.Children))
		for i, child := range b.Children {
			c.Children[i] = child.Clone()
		}
	}
	if b.FormulaNumbers != nil {
		c.FormulaNumbers = append([]FormulaNumber(nil), b.FormulaNumbers...)
	}
	return c
}

// SourceCount is the number of detector boxes represented by b,
// counting b itself, every nested child and every formula number.
func (b Box) SourceCount() int {
	n := 1 + len(b.FormulaNumbers)
	for _, child := range b.Children {
		n += child.SourceCount()
	}
	return n
}

// CloneBoxes deep-copies a box slice
func CloneBoxes(boxes []Box) []Box {
	if boxes == nil {
		return nil
	}
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Clone()
	}
	return out
}

// TotalSources sums SourceCount over a box slice
func TotalSources(boxes []Box) int {
	n := 0
	for _, b := range boxes {
		n += b.SourceCount()
	}
	return n
}

// Page is the unit of reconstruction: one rendered PDF page
type Page struct {
	Number int     `json:"page,omitempty"`
	Width  float64 `json:"width"`
	Height float64 `json:"height,omitempty"`
	Boxes  []Box   `json:"boxes"`
}

// MarshalJSON writes the rectangle as [x1, y1, x2, y2]
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Array())
}

// UnmarshalJSON accepts every coordinate shape ParseCoordinate does
func (r *Rect) UnmarshalJSON(data []byte) error {
	rect, err := ParseCoordinate(data)
	if err != nil {
		return err
	}
	*r = rect
	return nil
}

// ParseCoordinate reduces a raw detector coordinate to a rectangle.
// Accepted shapes: [x1, y1, x2, y2], [[x1, y1], [x2, y2]] and a single
// point [x, y], which becomes a 100x100 box anchored at the point.
func ParseCoordinate(raw json.RawMessage) (Rect, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Rect{}, fmt.Errorf("%w: missing coordinate", ErrInvalidGeometry)
	}

	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		switch len(flat) {
		case 4:
			return NewRect(flat[0], flat[1], flat[2], flat[3]), nil
		case 2:
			return NewRect(flat[0], flat[1], flat[0]+pointBoxSize, flat[1]+pointBoxSize), nil
		}
		return Rect{}, fmt.Errorf("%w: expected 4 values, got %d", ErrInvalidGeometry, len(flat))
	}

	var pairs [][]float64
	if err := json.Unmarshal(raw, &pairs); err == nil {
		if len(pairs) == 2 && len(pairs[0]) == 2 && len(pairs[1]) == 2 {
			return NewRect(pairs[0][0], pairs[0][1], pairs[1][0], pairs[1][1]), nil
		}
		return Rect{}, fmt.Errorf("%w: expected two [x, y] corners", ErrInvalidGeometry)
	}

	return Rect{}, fmt.Errorf("%w: unrecognized coordinate shape", ErrInvalidGeometry)
}

// RawBox is a detector record before geometry validation
type RawBox struct {
	ClsID      *int            `json:"cls_id,omitempty"`
	Label      string          `json:"label"`
	Coordinate json.RawMessage `json:"coordinate"`
	Score      float64         `json:"score"`
	Text       string          `json:"text,omitempty"`
	Type       string          `json:"type,omitempty"`
}

// Detections is a detector result for one page
type Detections struct {
	Page   int      `json:"page,omitempty"`
	Width  float64  `json:"width,omitempty"`
	Height float64  `json:"height,omitempty"`
	Boxes  []RawBox `json:"boxes"`
}

// DecodeDetections parses either {"boxes": [...]} or a bare array of records
func DecodeDetections(data []byte) (*Detections, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &Detections{}, nil
	}

	if data[0] == '[' {
		var boxes []RawBox
		if err := json.Unmarshal(data, &boxes); err != nil {
			return nil, fmt.Errorf("failed to decode detection array: %w", err)
		}
		return &Detections{Boxes: boxes}, nil
	}

	var det Detections
	if err := json.Unmarshal(data, &det); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return &det, nil
}

// DecodeResult reports the geometry problems found while converting raw boxes
type DecodeResult struct {
	Boxes   []Box
	Invalid []*GeometryError
	Dropped int
}

// ToBoxes validates raw detector records under the given policy.
// Under PolicyStrict the first malformed coordinate is returned as an error.
func ToBoxes(raw []RawBox, policy GeometryPolicy) (*DecodeResult, error) {
	res := &DecodeResult{Boxes: make([]Box, 0, len(raw))}

	for i, rb := range raw {
		label := rb.Label
		if label == "" && rb.ClsID != nil {
			if l, ok := LabelByID(*rb.ClsID); ok {
				label = l.String()
			}
		}

		rect, err := ParseCoordinate(rb.Coordinate)
		if err != nil {
			gerr := &GeometryError{
				Index: i,
				Label: label,
				Raw:   string(rb.Coordinate),
				Cause: strings.TrimPrefix(err.Error(), ErrInvalidGeometry.Error()+": "),
			}
			switch policy {
			case PolicyStrict:
				return nil, gerr
			case PolicyDrop:
				res.Invalid = append(res.Invalid, gerr)
				res.Dropped++
				continue
			default:
				res.Invalid = append(res.Invalid, gerr)
				rect = PlaceholderRect
			}
		}

		res.Boxes = append(res.Boxes, Box{
			Label:      label,
			Coordinate: rect,
			Score:      rb.Score,
			Text:       rb.Text,
			Type:       rb.Type,
		})
	}

	return res, nil
}
