package layout

import (
	"math"
)

const (
	// formulaVerticalTolerance scales the number's height into the alignment window
	formulaVerticalTolerance = 2.0
	// formulaOverlapAllowance lets a formula's right edge overlap this share of the number's width
	formulaOverlapAllowance = 0.2
)

// MergeFormulaNumbers folds every formula_number box into the formula box it
// annotates, growing the formula's coordinate to cover the number. Numbers sit
// to the right of their formula by convention, so a vertically aligned formula
// on the left wins over any other candidate. The input is not modified.
func MergeFormulaNumbers(boxes []Box) (result []Box, merged int) {
	var formulas, numbers []int
	for i, b := range boxes {
		switch b.Kind().Role() {
		case RoleFormula:
			formulas = append(formulas, i)
		case RoleFormulaNumber:
			numbers = append(numbers, i)
		}
	}

	if len(formulas) == 0 || len(numbers) == 0 {
		return CloneBoxes(boxes), 0
	}

	out := CloneBoxes(boxes)
	consumed := make(map[int]bool, len(numbers))
	for _, ni := range numbers {
		num := boxes[ni]
		target := nearestFormula(out, formulas, num.Coordinate)
		if target < 0 {
			continue
		}

		f := &out[target]
		f.Coordinate = f.Coordinate.Union(num.Coordinate)
		f.FormulaNumbers = append(f.FormulaNumbers, FormulaNumber{
			Coordinate: num.Coordinate,
			Score:      num.Score,
			Text:       num.Text,
		})
		// Boxes nested in the number move up so none are lost.
		f.Children = append(f.Children, out[ni].Children...)
		consumed[ni] = true
		merged++
	}

	result = make([]Box, 0, len(out)-merged)
	for i, b := range out {
		if !consumed[i] {
			result = append(result, b)
		}
	}
	return result, merged
}

// nearestFormula picks the owning formula for a number box. Candidates are
// read from the current, possibly already grown, formula coordinates.
func nearestFormula(boxes []Box, formulas []int, num Rect) int {
	numLeft := num.X1
	numCenterY := num.CenterY()
	tolerance := num.Height() * formulaVerticalTolerance

	var aligned []int
	for _, fi := range formulas {
		if math.Abs(boxes[fi].Coordinate.CenterY()-numCenterY) <= tolerance {
			aligned = append(aligned, fi)
		}
	}

	var leftSide []int
	for _, fi := range aligned {
		if boxes[fi].Coordinate.X2 <= numLeft+num.Width()*formulaOverlapAllowance {
			leftSide = append(leftSide, fi)
		}
	}

	best := -1
	bestDist := math.Inf(1)
	switch {
	case len(leftSide) > 0:
		for _, fi := range leftSide {
			if d := numLeft - boxes[fi].Coordinate.X2; d < bestDist {
				best, bestDist = fi, d
			}
		}
	case len(aligned) > 0:
		for _, fi := range aligned {
			if d := math.Abs(boxes[fi].Coordinate.CenterX() - num.CenterX()); d < bestDist {
				best, bestDist = fi, d
			}
		}
	default:
		for _, fi := range formulas {
			if d := BoundaryDistance(boxes[fi].Coordinate, num); d < bestDist {
				best, bestDist = fi, d
			}
		}
	}
	return best
}
