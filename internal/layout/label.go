/**
 * Label taxonomy for detected layout boxes
 *
 * Closed set of labels emitted by the PP-DocLayout family of detectors,
 * with the per-label filter flag, merge role, display name and
 * visualization color.
 */

package layout

import (
	"image/color"
	"strings"
)

// Label identifies the semantic class of a detected box
type Label int

// Label IDs match the detector's class indices
const (
	LabelParagraphTitle Label = iota
	LabelImage
	LabelText
	LabelNumber
	LabelAbstract
	LabelContent
	LabelFigureTitle
	LabelFormula
	LabelTable
	LabelTableTitle
	LabelReference
	LabelDocTitle
	LabelFootnote
	LabelHeader
	LabelAlgorithm
	LabelFooter
	LabelSeal
	LabelChartTitle
	LabelChart
	LabelFormulaNumber
	LabelHeaderImage
	LabelFooterImage
	LabelAsideText

	// LabelUnknown is any label string outside the taxonomy
	LabelUnknown Label = -1
)

// Role is what the merge stages may do with a label
type Role int

const (
	// RoleBlock stands alone in reading order
	RoleBlock Role = iota
	// RoleFormula receives formula numbers
	RoleFormula
	// RoleFormulaNumber is absorbed into the nearest formula
	RoleFormulaNumber
	// RoleFigure receives captions and is cropped for captioning
	RoleFigure
	// RoleTable is cropped for captioning but takes no captions
	RoleTable
	// RoleCaption is absorbed into the nearest figure
	RoleCaption
)

func (r Role) String() string {
	switch r {
	case RoleFormula:
		return "formula"
	case RoleFormulaNumber:
		return "formula_number"
	case RoleFigure:
		return "figure"
	case RoleTable:
		return "table"
	case RoleCaption:
		return "caption"
	}
	return "block"
}

// LabelInfo is the static policy entry for one label
type LabelInfo struct {
	Name        string
	DisplayName string
	Filter      bool
	Role        Role
	Color       color.RGBA
}

// DefaultColor is used for labels without a dedicated color
var DefaultColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// labelTable is indexed by Label and must list every label in ID order
var labelTable = [...]LabelInfo{
	LabelParagraphTitle: {Name: "paragraph_title", DisplayName: "Paragraph Title", Color: rgb(255, 0, 0)},
	LabelImage:          {Name: "image", DisplayName: "Image", Role: RoleFigure, Color: rgb(0, 0, 255)},
	LabelText:           {Name: "text", DisplayName: "Text", Color: rgb(0, 255, 0)},
	LabelNumber:         {Name: "number", DisplayName: "Number", Filter: true, Color: rgb(218, 165, 32)},
	LabelAbstract:       {Name: "abstract", DisplayName: "Abstract", Color: rgb(0, 255, 191)},
	LabelContent:        {Name: "content", DisplayName: "Contents", Color: DefaultColor},
	LabelFigureTitle:    {Name: "figure_title", DisplayName: "Figure Title", Role: RoleCaption, Color: rgb(128, 0, 255)},
	LabelFormula:        {Name: "formula", DisplayName: "Formula", Role: RoleFormula, Color: rgb(255, 255, 0)},
	LabelTable:          {Name: "table", DisplayName: "Table", Role: RoleTable, Color: rgb(255, 165, 0)},
	LabelTableTitle:     {Name: "table_title", DisplayName: "Table Title", Color: rgb(255, 140, 0)},
	LabelReference:      {Name: "reference", DisplayName: "Reference", Filter: true, Color: DefaultColor},
	LabelDocTitle:       {Name: "doc_title", DisplayName: "Document Title", Color: rgb(255, 0, 128)},
	LabelFootnote:       {Name: "footnote", DisplayName: "Footnote", Filter: true, Color: rgb(144, 238, 144)},
	LabelHeader:         {Name: "header", DisplayName: "Header", Filter: true, Color: rgb(169, 169, 169)},
	LabelAlgorithm:      {Name: "algorithm", DisplayName: "Algorithm", Color: DefaultColor},
	LabelFooter:         {Name: "footer", DisplayName: "Footer", Filter: true, Color: rgb(192, 192, 192)},
	LabelSeal:           {Name: "seal", DisplayName: "Seal", Filter: true, Color: DefaultColor},
	LabelChartTitle:     {Name: "chart_title", DisplayName: "Chart Title", Role: RoleCaption, Color: rgb(0, 215, 255)},
	LabelChart:          {Name: "chart", DisplayName: "Chart", Role: RoleFigure, Color: rgb(0, 255, 255)},
	LabelFormulaNumber:  {Name: "formula_number", DisplayName: "Formula Number", Role: RoleFormulaNumber, Color: rgb(255, 215, 0)},
	LabelHeaderImage:    {Name: "header_image", DisplayName: "Header Image", Filter: true, Color: DefaultColor},
	LabelFooterImage:    {Name: "footer_image", DisplayName: "Footer Image", Filter: true, Color: DefaultColor},
	LabelAsideText:      {Name: "aside_text", DisplayName: "Aside Text", Filter: true, Color: rgb(152, 251, 152)},
}

var labelsByName = func() map[string]Label {
	m := make(map[string]Label, len(labelTable))
	for i, info := range labelTable {
		m[info.Name] = Label(i)
	}
	return m
}()

// ParseLabel maps a detector label string to the closed enum.
// Unrecognized strings yield LabelUnknown.
func ParseLabel(name string) Label {
	if l, ok := labelsByName[name]; ok {
		return l
	}
	return LabelUnknown
}

// LabelByID returns the label with the given detector class index
func LabelByID(id int) (Label, bool) {
	if id < 0 || id >= len(labelTable) {
		return LabelUnknown, false
	}
	return Label(id), true
}

// Known reports whether l is part of the taxonomy
func (l Label) Known() bool {
	return l >= 0 && int(l) < len(labelTable)
}

// Info returns the policy entry for l. Unknown labels get a zero entry
// with the default color and no filter flag.
func (l Label) Info() LabelInfo {
	if !l.Known() {
		return LabelInfo{Name: "unknown", DisplayName: "Unknown", Color: DefaultColor}
	}
	return labelTable[l]
}

// String returns the detector name of the label
func (l Label) String() string {
	return l.Info().Name
}

// Role returns the label's merge role. Unknown labels are plain blocks.
func (l Label) Role() Role {
	return l.Info().Role
}

// IsFigure reports whether boxes of this label are cropped and captioned
func (l Label) IsFigure() bool {
	r := l.Role()
	return r == RoleFigure || r == RoleTable
}

// IsCaption reports whether the label is a figure or chart caption
func (l Label) IsCaption() bool {
	return l.Role() == RoleCaption
}

// LabelPolicy decides which labels are dropped before reconstruction.
// When FilterLabels is non-nil it replaces the static filter flags.
type LabelPolicy struct {
	Enabled      bool
	FilterLabels []string
}

// DefaultLabelPolicy filters by the static taxonomy flags
func DefaultLabelPolicy() LabelPolicy {
	return LabelPolicy{Enabled: true}
}

// ShouldFilter reports whether boxes with the given label are dropped
func (p LabelPolicy) ShouldFilter(label string) bool {
	if !p.Enabled {
		return false
	}

	if p.FilterLabels != nil {
		for _, name := range p.FilterLabels {
			if name == label {
				return true
			}
		}
		return false
	}

	l := ParseLabel(label)
	if !l.Known() {
		return false
	}
	return labelTable[l].Filter
}

// Filter returns the labels from the list that survive the policy
func (p LabelPolicy) Filter(labels []string) []string {
	if len(labels) == 0 || !p.Enabled {
		return labels
	}

	kept := make([]string, 0, len(labels))
	for _, label := range labels {
		if !p.ShouldFilter(label) {
			kept = append(kept, label)
		}
	}
	return kept
}

// ParseLabelList splits a comma separated label list, dropping blanks.
// An empty input returns nil so the static flags stay in effect.
func ParseLabelList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
