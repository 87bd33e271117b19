package layout

import "math"

// MergeCaptions attaches figure_title boxes to the nearest image and
// chart_title boxes to the nearest chart. Titles whose preferred partner type
// is absent from the page fall back to the nearest image or chart of either
// kind. A merged title becomes a child of its figure and the figure's
// coordinate grows to cover it. With no image or chart boxes the input is
// returned unchanged. The input is not modified.
func MergeCaptions(boxes []Box) (result []Box, merged int) {
	var images, charts, figures, titles []int
	for i, b := range boxes {
		switch k := b.Kind(); k.Role() {
		case RoleFigure:
			figures = append(figures, i)
			if k == LabelImage {
				images = append(images, i)
			} else {
				charts = append(charts, i)
			}
		case RoleCaption:
			titles = append(titles, i)
		}
	}

	if len(figures) == 0 || len(titles) == 0 {
		return CloneBoxes(boxes), 0
	}

	out := CloneBoxes(boxes)
	consumed := make(map[int]bool, len(titles))

	attach := func(ti int, candidates []int) bool {
		target := nearestBox(out, candidates, boxes[ti].Coordinate)
		if target < 0 {
			return false
		}
		fig := &out[target]
		fig.Children = append(fig.Children, out[ti])
		fig.Coordinate = fig.Coordinate.Union(boxes[ti].Coordinate)
		consumed[ti] = true
		merged++
		return true
	}

	// Typed pass: figure titles to images, chart titles to charts.
	for _, ti := range titles {
		if boxes[ti].Kind() == LabelFigureTitle {
			attach(ti, images)
		}
	}
	for _, ti := range titles {
		if boxes[ti].Kind() == LabelChartTitle {
			attach(ti, charts)
		}
	}

	// Fallback pass over every image and chart.
	for _, ti := range titles {
		if !consumed[ti] {
			attach(ti, figures)
		}
	}

	result = make([]Box, 0, len(out)-merged)
	for i, b := range out {
		if !consumed[i] {
			result = append(result, b)
		}
	}
	return result, merged
}

// nearestBox returns the candidate with the smallest boundary distance to r,
// earliest candidate on ties, or -1 when there are no candidates.
func nearestBox(boxes []Box, candidates []int, r Rect) int {
	best := -1
	bestDist := math.Inf(1)
	for _, ci := range candidates {
		if d := BoundaryDistance(boxes[ci].Coordinate, r); d < bestDist {
			best, bestDist = ci, d
		}
	}
	return best
}
