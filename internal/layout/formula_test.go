package layout

import "testing"

func TestMergeFormulaNumbersAttachesToFormula(t *testing.T) {
	boxes := []Box{
		box("formula", 0, 0, 100, 100),
		{Label: "formula_number", Coordinate: Rect{102, 40, 130, 60}, Score: 0.8, Text: "(1)"},
	}

	got, merged := MergeFormulaNumbers(boxes)
	if merged != 1 || len(got) != 1 {
		t.Fatalf("merged = %d, top level = %v", merged, labels(got))
	}
	f := got[0]
	if f.Coordinate != (Rect{0, 0, 130, 100}) {
		t.Errorf("formula coordinate = %v, want [0 0 130 100]", f.Coordinate)
	}
	if len(f.FormulaNumbers) != 1 {
		t.Fatalf("formula numbers = %+v", f.FormulaNumbers)
	}
	num := f.FormulaNumbers[0]
	if num.Coordinate != (Rect{102, 40, 130, 60}) || num.Score != 0.8 || num.Text != "(1)" {
		t.Errorf("formula number = %+v", num)
	}
	if boxes[0].Coordinate != (Rect{0, 0, 100, 100}) {
		t.Error("input formula was modified")
	}
}

func TestMergeFormulaNumbersPrefersLeftSide(t *testing.T) {
	boxes := []Box{
		// Aligned but right of the number, closer by center.
		box("formula", 140, 40, 200, 60),
		// Aligned and left of the number.
		box("formula", 0, 40, 90, 60),
		box("formula_number", 100, 40, 130, 60),
	}

	got, merged := MergeFormulaNumbers(boxes)
	if merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
	if len(got[1].FormulaNumbers) != 1 || len(got[0].FormulaNumbers) != 0 {
		t.Errorf("number attached to wrong formula: %+v", got)
	}
}

func TestMergeFormulaNumbersNearestLeftEdge(t *testing.T) {
	boxes := []Box{
		box("formula", 0, 40, 50, 60),
		box("formula", 0, 40, 95, 60),
		box("formula_number", 100, 40, 130, 60),
	}

	got, _ := MergeFormulaNumbers(boxes)
	if len(got[1].FormulaNumbers) != 1 {
		t.Errorf("number should attach to the formula ending nearest its left edge: %+v", got)
	}
}

func TestMergeFormulaNumbersAlignedFallsBackToCenter(t *testing.T) {
	// Both formulas overlap the number horizontally, so neither is on its left.
	boxes := []Box{
		box("formula", 0, 40, 200, 60),
		box("formula", 90, 40, 160, 60),
		box("formula_number", 100, 40, 140, 60),
	}

	got, _ := MergeFormulaNumbers(boxes)
	if len(got[1].FormulaNumbers) != 1 {
		t.Errorf("number should attach to the formula with the nearest center: %+v", got)
	}
}

func TestMergeFormulaNumbersUnalignedUsesDistance(t *testing.T) {
	boxes := []Box{
		box("formula", 0, 0, 100, 20),
		box("formula", 0, 500, 100, 520),
		box("formula_number", 110, 200, 130, 210),
	}

	got, merged := MergeFormulaNumbers(boxes)
	if merged != 1 {
		t.Fatalf("merged = %d", merged)
	}
	if len(got[0].FormulaNumbers) != 1 {
		t.Errorf("number should attach to the nearest formula: %+v", got)
	}
}

func TestMergeFormulaNumbersPassThrough(t *testing.T) {
	tests := []struct {
		name  string
		boxes []Box
	}{
		{"no formulas", []Box{box("formula_number", 0, 0, 10, 10), box("text", 0, 20, 100, 40)}},
		{"no numbers", []Box{box("formula", 0, 0, 100, 40)}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, merged := MergeFormulaNumbers(tt.boxes)
			if merged != 0 || len(got) != len(tt.boxes) {
				t.Errorf("merged = %d, len = %d", merged, len(got))
			}
		})
	}
}

func TestMergeFormulaNumbersKeepsNestedBoxes(t *testing.T) {
	num := box("formula_number", 102, 40, 130, 60)
	num.Children = []Box{box("text", 105, 45, 125, 55)}
	boxes := []Box{box("formula", 0, 0, 100, 100), num}

	got, _ := MergeFormulaNumbers(boxes)
	if TotalSources(got) != 3 {
		t.Errorf("sources = %d, want 3", TotalSources(got))
	}
}
