package layout

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned rectangle in page-pixel space with X1 <= X2 and Y1 <= Y2
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// NewRect builds a rectangle from two corners in any order
func NewRect(x1, y1, x2, y2 float64) Rect {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width returns the horizontal extent
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns the vertical extent
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Area returns width times height
func (r Rect) Area() float64 { return r.Width() * r.Height() }

// CenterX returns the horizontal midpoint
func (r Rect) CenterX() float64 { return (r.X1 + r.X2) / 2 }

// CenterY returns the vertical midpoint
func (r Rect) CenterY() float64 { return (r.Y1 + r.Y2) / 2 }

// IsEmpty reports whether the rectangle has no area
func (r Rect) IsEmpty() bool {
	return r.X1 >= r.X2 || r.Y1 >= r.Y2
}

// Union returns the smallest rectangle covering both
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
		X2: math.Max(r.X2, o.X2),
		Y2: math.Max(r.Y2, o.Y2),
	}
}

// Intersection returns the overlapping region. The result is empty
// (IsEmpty true) when the rectangles do not overlap.
func (r Rect) Intersection(o Rect) Rect {
	return Rect{
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
		X2: math.Min(r.X2, o.X2),
		Y2: math.Min(r.Y2, o.Y2),
	}
}

// Contains reports whether o lies entirely within r
func (r Rect) Contains(o Rect) bool {
	return o.X1 >= r.X1 && o.Y1 >= r.Y1 && o.X2 <= r.X2 && o.Y2 <= r.Y2
}

// OverlapRatio returns the fraction of inner's area covered by outer.
// A zero-area inner or a non-overlapping pair yields 0.
func OverlapRatio(inner, outer Rect) float64 {
	area := inner.Area()
	if area <= 0 {
		return 0
	}

	in := inner.Intersection(outer)
	if in.IsEmpty() {
		return 0
	}
	return in.Area() / area
}

// BoundaryDistance is the Euclidean gap between two rectangles, 0 when they touch or overlap
func BoundaryDistance(a, b Rect) float64 {
	var dx, dy float64
	switch {
	case a.X1 > b.X2:
		dx = a.X1 - b.X2
	case b.X1 > a.X2:
		dx = b.X1 - a.X2
	}
	switch {
	case a.Y1 > b.Y2:
		dy = a.Y1 - b.Y2
	case b.Y1 > a.Y2:
		dy = b.Y1 - a.Y2
	}
	return math.Hypot(dx, dy)
}

// HorizontalSplit returns the fraction of r's width lying left and right of x.
// A zero-width rectangle yields (0, 0).
func (r Rect) HorizontalSplit(x float64) (left, right float64) {
	w := r.Width()
	if w <= 0 {
		return 0, 0
	}
	leftPart := math.Max(0, math.Min(r.X2, x)-r.X1)
	rightPart := math.Max(0, r.X2-math.Max(r.X1, x))
	return leftPart / w, rightPart / w
}

// Array returns the rectangle as [x1, y1, x2, y2]
func (r Rect) Array() [4]float64 {
	return [4]float64{r.X1, r.Y1, r.X2, r.Y2}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g,%g,%g)", r.X1, r.Y1, r.X2, r.Y2)
}
