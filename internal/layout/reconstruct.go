/**
 * Layout reconstruction pipeline
 *
 * Runs label filtering, containment resolution, formula-number merging,
 * caption merging and reading-order sorting over one page of detections.
 * Pure and synchronous: a Reconstructor holds only its options and may be
 * shared by any number of goroutines.
 */

package layout

import (
	"fmt"
)

// Options controls which stages run and with which policy
type Options struct {
	Labels             LabelPolicy
	EnableContainment  bool
	EnableFormulaMerge bool
	EnableCaptionMerge bool
	EnableSort         bool
	TieBreak           TieBreak
	Sorter             SorterOptions
}

// DefaultOptions enables every stage with the standard policy
func DefaultOptions() Options {
	return Options{
		Labels:             DefaultLabelPolicy(),
		EnableContainment:  true,
		EnableFormulaMerge: true,
		EnableCaptionMerge: true,
		EnableSort:         true,
		TieBreak:           TieBreakFirstMatch,
		Sorter:             DefaultSorterOptions(),
	}
}

// Stats counts what each stage did to a page
type Stats struct {
	Input                int `json:"input"`
	Filtered             int `json:"filtered"`
	Nested               int `json:"nested"`
	FormulaNumbersMerged int `json:"formulaNumbersMerged"`
	CaptionsMerged       int `json:"captionsMerged"`
	Discarded            int `json:"discarded"`
	Output               int `json:"output"`
}

// Result is the reconstructed page
type Result struct {
	Page  Page  `json:"page"`
	Stats Stats `json:"stats"`
}

// Reconstructor runs the layout pipeline
type Reconstructor struct {
	opts Options
}

// NewReconstructor creates a reconstructor with the given options
func NewReconstructor(opts Options) *Reconstructor {
	if opts.Sorter == (SorterOptions{}) {
		opts.Sorter = DefaultSorterOptions()
	}
	return &Reconstructor{opts: opts}
}

// Options returns the reconstructor's configuration
func (r *Reconstructor) Options() Options {
	return r.opts
}

// Reconstruct runs every enabled stage over the page. The input page is not
// modified. An empty page yields an empty result. Sorting needs a positive
// page width and fails with ErrInvalidPageWidth otherwise.
func (r *Reconstructor) Reconstruct(page Page) (*Result, error) {
	stats := Stats{Input: len(page.Boxes)}

	out := Page{Number: page.Number, Width: page.Width, Height: page.Height}
	if len(page.Boxes) == 0 {
		out.Boxes = []Box{}
		return &Result{Page: out, Stats: stats}, nil
	}

	boxes := make([]Box, 0, len(page.Boxes))
	for _, b := range page.Boxes {
		if r.opts.Labels.ShouldFilter(b.Label) {
			stats.Filtered++
			continue
		}
		boxes = append(boxes, b.Clone())
	}

	if r.opts.EnableContainment {
		boxes, stats.Nested = ResolveContainment(boxes, r.opts.TieBreak)
	}

	if r.opts.EnableFormulaMerge {
		boxes, stats.FormulaNumbersMerged = MergeFormulaNumbers(boxes)
	}

	if r.opts.EnableCaptionMerge {
		boxes, stats.CaptionsMerged = MergeCaptions(boxes)
	}

	if r.opts.EnableSort {
		sorted, discarded, err := SortReadingOrder(boxes, page.Width, r.opts.Sorter)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Number, err)
		}
		boxes = sorted
		stats.Discarded = discarded
	}

	out.Boxes = boxes
	stats.Output = len(boxes)
	return &Result{Page: out, Stats: stats}, nil
}
