package layout

import "strings"

// ContainmentThreshold is the overlap ratio at which a box counts as nested
const ContainmentThreshold = 0.8

// TieBreak selects the container when a box is nested in several others
type TieBreak int

const (
	// TieBreakFirstMatch picks the first container in input order
	TieBreakFirstMatch TieBreak = iota
	// TieBreakSmallestArea picks the smallest container, ties by input order
	TieBreakSmallestArea
)

// ParseTieBreak accepts "first" or "smallest"
func ParseTieBreak(s string) TieBreak {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "smallest", "smallest_area", "smallest-area":
		return TieBreakSmallestArea
	}
	return TieBreakFirstMatch
}

func (t TieBreak) String() string {
	if t == TieBreakSmallestArea {
		return "smallest"
	}
	return "first"
}

// IsContained reports whether inner has at least ContainmentThreshold of its area inside outer
func IsContained(inner, outer Rect) bool {
	return OverlapRatio(inner, outer) >= ContainmentThreshold
}

// ResolveContainment removes boxes nested inside another box and attaches
// each to its container's Children. Containment is evaluated on the input
// geometry only, so a box absorbed into a container that is itself nested
// travels with that container. The result keeps input order and does not
// alias the input slice.
func ResolveContainment(boxes []Box, tie TieBreak) (result []Box, nested int) {
	n := len(boxes)
	if n == 0 {
		return []Box{}, 0
	}

	pick := func(i int, skip map[int]bool) int {
		inner := boxes[i].Coordinate
		best := -1
		for j := 0; j < n; j++ {
			if i == j || skip[j] || !IsContained(inner, boxes[j].Coordinate) {
				continue
			}
			if tie == TieBreakFirstMatch {
				return j
			}
			if best < 0 || boxes[j].Coordinate.Area() < boxes[best].Coordinate.Area() {
				best = j
			}
		}
		return best
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = pick(i, nil)
	}

	// Near-identical boxes contain each other. The lowest index of each
	// cycle looks for a container outside the cycle or stays top-level.
	excluded := make(map[int]map[int]bool)
	for cycle := findCycle(parent); cycle != nil; cycle = findCycle(parent) {
		lowest := cycle[0]
		for _, k := range cycle {
			if k < lowest {
				lowest = k
			}
		}
		if excluded[lowest] == nil {
			excluded[lowest] = make(map[int]bool)
		}
		for _, k := range cycle {
			excluded[lowest][k] = true
		}
		parent[lowest] = pick(lowest, excluded[lowest])
	}

	kids := make([][]int, n)
	for i, p := range parent {
		if p >= 0 {
			kids[p] = append(kids[p], i)
			nested++
		}
	}

	var build func(i int) Box
	build = func(i int) Box {
		b := boxes[i].Clone()
		for _, k := range kids[i] {
			b.Children = append(b.Children, build(k))
		}
		return b
	}

	result = make([]Box, 0, n-nested)
	for i := 0; i < n; i++ {
		if parent[i] < 0 {
			result = append(result, build(i))
		}
	}
	return result, nested
}

// findCycle returns the members of one cycle in the parent links, or nil
func findCycle(parent []int) []int {
	const (
		unseen = iota
		active
		done
	)
	state := make([]int, len(parent))
	for start := range parent {
		if state[start] != unseen {
			continue
		}
		var path []int
		i := start
		for i >= 0 && state[i] == unseen {
			state[i] = active
			path = append(path, i)
			i = parent[i]
		}
		if i >= 0 && state[i] == active {
			cycle := []int{i}
			for k := parent[i]; k != i; k = parent[k] {
				cycle = append(cycle, k)
			}
			return cycle
		}
		for _, k := range path {
			state[k] = done
		}
	}
	return nil
}
