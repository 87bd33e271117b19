package layout

import (
	"errors"
	"math"
	"sort"
	"strings"
)

// ErrInvalidPageWidth is returned when reading order is requested without a positive page width
var ErrInvalidPageWidth = errors.New("page width must be positive")

// SorterOptions holds the reading-order thresholds
type SorterOptions struct {
	// ColumnThreshold is the share of a box's width on one side of the page
	// center that assigns it to that column
	ColumnThreshold float64
	// CrossThreshold is the share on each side above which a box straddles the center
	CrossThreshold float64
	// WideThreshold is the share of the page width above which a straddling box separates regions
	WideThreshold float64
}

// DefaultSorterOptions returns the standard thresholds
func DefaultSorterOptions() SorterOptions {
	return SorterOptions{
		ColumnThreshold: 0.9,
		CrossThreshold:  0.3,
		WideThreshold:   0.5,
	}
}

// figureTypes are detector element types that always interrupt column flow
var figureTypes = map[string]bool{
	"figure":  true,
	"image":   true,
	"picture": true,
	"图":       true,
}

// Column is the side of the page a box is read in
type Column int

const (
	ColumnLeft Column = iota
	ColumnRight
)

// IsSeparator reports whether b interrupts column flow on a page of the given width
func (o SorterOptions) IsSeparator(b Box, pageWidth float64) bool {
	if figureTypes[strings.ToLower(b.Type)] {
		return true
	}
	r := b.Coordinate
	left, right := r.HorizontalSplit(pageWidth / 2)
	return r.Width() > pageWidth*o.WideThreshold &&
		left > o.CrossThreshold && right > o.CrossThreshold
}

// ColumnOf assigns a non-separator box to the left or right column
func (o SorterOptions) ColumnOf(r Rect, pageWidth float64) Column {
	centerX := pageWidth / 2
	left, right := r.HorizontalSplit(centerX)
	switch {
	case left >= o.ColumnThreshold:
		return ColumnLeft
	case right >= o.ColumnThreshold:
		return ColumnRight
	case left > o.CrossThreshold && right > o.CrossThreshold:
		return ColumnLeft
	case r.CenterX() <= centerX:
		return ColumnLeft
	}
	return ColumnRight
}

// Region is a vertical band of the page read as one unit
type Region struct {
	Separator bool
	Boxes     []Box
}

// SplitRegions sorts boxes top to bottom and cuts them into regions at every
// separator. A separator always forms a region of its own.
func (o SorterOptions) SplitRegions(boxes []Box, pageWidth float64) []Region {
	sorted := CloneBoxes(boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Coordinate.Y1 < sorted[j].Coordinate.Y1
	})

	var regions []Region
	var current []Box
	for _, b := range sorted {
		if !o.IsSeparator(b, pageWidth) {
			current = append(current, b)
			continue
		}
		if len(current) > 0 {
			regions = append(regions, Region{Boxes: current})
			current = nil
		}
		regions = append(regions, Region{Separator: true, Boxes: []Box{b}})
	}
	if len(current) > 0 {
		regions = append(regions, Region{Boxes: current})
	}
	return regions
}

// SortReadingOrder linearizes boxes into reading order: regions top to
// bottom, and within a region the whole left column before the right one.
// Boxes whose coordinate is not a valid rectangle are discarded and counted.
// An empty input needs no page width.
func SortReadingOrder(boxes []Box, pageWidth float64, opts SorterOptions) (result []Box, discarded int, err error) {
	if len(boxes) == 0 {
		return []Box{}, 0, nil
	}
	if pageWidth <= 0 {
		return nil, 0, ErrInvalidPageWidth
	}

	valid := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if !validRect(b.Coordinate) {
			discarded++
			continue
		}
		valid = append(valid, b)
	}

	result = make([]Box, 0, len(valid))
	for _, region := range opts.SplitRegions(valid, pageWidth) {
		if region.Separator {
			result = append(result, region.Boxes...)
			continue
		}

		var left, right []Box
		for _, b := range region.Boxes {
			if opts.ColumnOf(b.Coordinate, pageWidth) == ColumnLeft {
				left = append(left, b)
			} else {
				right = append(right, b)
			}
		}
		byTop := func(col []Box) {
			sort.SliceStable(col, func(i, j int) bool {
				return col[i].Coordinate.Y1 < col[j].Coordinate.Y1
			})
		}
		byTop(left)
		byTop(right)
		result = append(result, left...)
		result = append(result, right...)
	}
	return result, discarded, nil
}

func validRect(r Rect) bool {
	for _, v := range r.Array() {
		if math.IsNaN(v) || math.Abs(v) > maxCoordinate {
			return false
		}
	}
	return r.X1 <= r.X2 && r.Y1 <= r.Y2
}

// maxCoordinate bounds plausible page-pixel values and rejects infinities
const maxCoordinate = 1e9
