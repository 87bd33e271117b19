package layout

import (
	"reflect"
	"testing"
)

func box(label string, x1, y1, x2, y2 float64) Box {
	return Box{Label: label, Coordinate: Rect{x1, y1, x2, y2}, Score: 0.9}
}

func labels(boxes []Box) []string {
	out := make([]string, len(boxes))
	for i, b := range boxes {
		out[i] = b.Label
	}
	return out
}

func TestResolveContainmentNestsInner(t *testing.T) {
	boxes := []Box{
		box("image", 0, 0, 100, 100),
		box("text", 10, 10, 50, 50),
	}

	got, nested := ResolveContainment(boxes, TieBreakFirstMatch)
	if nested != 1 {
		t.Errorf("nested = %d, want 1", nested)
	}
	if len(got) != 1 || got[0].Label != "image" {
		t.Fatalf("top level = %v, want [image]", labels(got))
	}
	if len(got[0].Children) != 1 || got[0].Children[0].Coordinate != (Rect{10, 10, 50, 50}) {
		t.Errorf("children = %+v", got[0].Children)
	}
	if len(boxes[0].Children) != 0 {
		t.Error("input box was modified")
	}
}

func TestResolveContainmentBelowThreshold(t *testing.T) {
	// 70% of the small box lies inside the large one.
	boxes := []Box{
		box("image", 0, 0, 100, 100),
		box("text", 30, 0, 130, 10),
	}

	got, nested := ResolveContainment(boxes, TieBreakFirstMatch)
	if nested != 0 || len(got) != 2 {
		t.Errorf("got %d top-level, %d nested; want 2, 0", len(got), nested)
	}
}

func TestResolveContainmentTieBreak(t *testing.T) {
	boxes := []Box{
		box("content", 0, 0, 500, 500),
		box("table", 0, 0, 200, 200),
		box("text", 10, 10, 50, 50),
	}

	t.Run("first match", func(t *testing.T) {
		got, _ := ResolveContainment(boxes, TieBreakFirstMatch)
		if len(got) != 1 {
			t.Fatalf("top level = %v, want [content]", labels(got))
		}
		kids := labels(got[0].Children)
		if !reflect.DeepEqual(kids, []string{"table", "text"}) {
			t.Errorf("content children = %v, want [table text]", kids)
		}
	})

	t.Run("smallest area", func(t *testing.T) {
		got, _ := ResolveContainment(boxes, TieBreakSmallestArea)
		if len(got) != 1 || len(got[0].Children) != 1 {
			t.Fatalf("unexpected tree: %+v", got)
		}
		table := got[0].Children[0]
		if table.Label != "table" || len(table.Children) != 1 || table.Children[0].Label != "text" {
			t.Errorf("text should nest in table, got %+v", table)
		}
	})
}

func TestResolveContainmentIdenticalBoxesKeepsBoth(t *testing.T) {
	boxes := []Box{
		box("text", 0, 0, 100, 100),
		box("paragraph_title", 0, 0, 100, 100),
	}

	got, nested := ResolveContainment(boxes, TieBreakFirstMatch)
	if len(got) != 1 || nested != 1 {
		t.Fatalf("got %d top-level, %d nested; want 1, 1", len(got), nested)
	}
	if got[0].Label != "text" || got[0].Children[0].Label != "paragraph_title" {
		t.Errorf("unexpected tree: %+v", got)
	}
	if TotalSources(got) != 2 {
		t.Errorf("sources = %d, want 2", TotalSources(got))
	}
}

func TestResolveContainmentCycleFindsOuterContainer(t *testing.T) {
	boxes := []Box{
		box("text", 10, 10, 50, 50),
		box("text", 10, 10, 50, 50),
		box("content", 0, 0, 100, 100),
	}

	got, nested := ResolveContainment(boxes, TieBreakSmallestArea)
	if len(got) != 1 || got[0].Label != "content" || nested != 2 {
		t.Fatalf("top level = %v, nested = %d", labels(got), nested)
	}
	if TotalSources(got) != 3 {
		t.Errorf("sources = %d, want 3", TotalSources(got))
	}
}

func TestResolveContainmentIdempotent(t *testing.T) {
	boxes := []Box{
		box("content", 0, 0, 500, 500),
		box("text", 10, 10, 50, 50),
		box("text", 10, 10, 50, 50),
		box("image", 600, 0, 900, 300),
		box("figure_title", 610, 250, 890, 290),
	}

	once, _ := ResolveContainment(boxes, TieBreakFirstMatch)
	twice, nested := ResolveContainment(once, TieBreakFirstMatch)
	if nested != 0 {
		t.Errorf("second pass nested %d boxes", nested)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second pass changed the result:\n%+v\n%+v", once, twice)
	}
}

func TestResolveContainmentKeepsInputOrder(t *testing.T) {
	boxes := []Box{
		box("text", 0, 300, 100, 400),
		box("image", 0, 0, 100, 100),
		box("text", 0, 150, 100, 250),
	}
	got, _ := ResolveContainment(boxes, TieBreakFirstMatch)
	for i := range boxes {
		if got[i].Coordinate != boxes[i].Coordinate {
			t.Errorf("position %d = %v, want %v", i, got[i].Coordinate, boxes[i].Coordinate)
		}
	}
}

func TestResolveContainmentEmpty(t *testing.T) {
	got, nested := ResolveContainment(nil, TieBreakFirstMatch)
	if got == nil || len(got) != 0 || nested != 0 {
		t.Errorf("ResolveContainment(nil) = %v, %d", got, nested)
	}
}
