package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/pdfpage"
	"github.com/sanbuphy/SmartPaper/internal/raster"
	"github.com/sanbuphy/SmartPaper/internal/render"
)

// layoutFlags are the pipeline switches shared by reconstruct and visualize
type layoutFlags struct {
	filterLabels   string
	noFilter       bool
	noContainment  bool
	noFormulaMerge bool
	noCaptionMerge bool
	noSort         bool
	tieBreak       string
	geometryPolicy string
}

func addLayoutFlags(cmd *cobra.Command, f *layoutFlags) {
	cmd.Flags().StringVar(&f.filterLabels, "filter-labels", "", "comma-separated labels to drop (default: header, footer, number, ...)")
	cmd.Flags().BoolVar(&f.noFilter, "no-filter", false, "keep every label")
	cmd.Flags().BoolVar(&f.noContainment, "no-containment", false, "skip nesting contained boxes")
	cmd.Flags().BoolVar(&f.noFormulaMerge, "no-formula-merge", false, "skip attaching formula numbers")
	cmd.Flags().BoolVar(&f.noCaptionMerge, "no-caption-merge", false, "skip attaching captions to figures")
	cmd.Flags().BoolVar(&f.noSort, "no-sort", false, "keep detector order")
	cmd.Flags().StringVar(&f.tieBreak, "tie-break", "first", "container choice when several qualify: first|smallest")
	cmd.Flags().StringVar(&f.geometryPolicy, "geometry-policy", "placeholder", "malformed coordinates: placeholder|drop|strict")
}

func (f *layoutFlags) options() (layout.Options, layout.GeometryPolicy, error) {
	opts := layout.DefaultOptions()

	switch strings.ToLower(f.tieBreak) {
	case "first", "smallest":
		opts.TieBreak = layout.ParseTieBreak(f.tieBreak)
	default:
		return opts, 0, fmt.Errorf("--tie-break must be first or smallest, got %q", f.tieBreak)
	}

	policy, err := layout.ParseGeometryPolicy(f.geometryPolicy)
	if err != nil {
		return opts, 0, err
	}

	opts.Labels.FilterLabels = layout.ParseLabelList(f.filterLabels)
	opts.Labels.Enabled = !f.noFilter
	opts.EnableContainment = !f.noContainment
	opts.EnableFormulaMerge = !f.noFormulaMerge
	opts.EnableCaptionMerge = !f.noCaptionMerge
	opts.EnableSort = !f.noSort
	return opts, policy, nil
}

// loadDetections reads detector JSON from a file, or stdin for "-"
func loadDetections(cmd *cobra.Command, path string) (*layout.Detections, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}
	return layout.DecodeDetections(data)
}

// decodeBoxes validates detector records, reporting what the policy replaced or dropped
func decodeBoxes(cmd *cobra.Command, det *layout.Detections, policy layout.GeometryPolicy) ([]layout.Box, error) {
	decoded, err := layout.ToBoxes(det.Boxes, policy)
	if err != nil {
		return nil, err
	}
	for _, gerr := range decoded.Invalid {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v (policy=%s)\n", gerr, policy)
	}
	return decoded.Boxes, nil
}

// pageWidth picks the first positive width from the flag, the detections,
// an image, or the PDF MediaBox scaled by zoom
func pageWidth(explicit, detected float64, imagePath, pdfPath string, page int, zoom float64) (float64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if detected > 0 {
		return detected, nil
	}
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return 0, err
		}
		w, err := raster.ImageWidth(data)
		if err != nil {
			return 0, err
		}
		return float64(w), nil
	}
	if pdfPath != "" {
		doc, err := openPDF(pdfPath)
		if err != nil {
			return 0, err
		}
		return doc.PixelWidth(page, zoom)
	}
	return 0, nil
}

func openPDF(path string) (*pdfpage.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return pdfpage.Open(data)
}

// writeOutput writes to path, or to stdout when path is empty
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func reconstructCmd() *cobra.Command {
	var lf layoutFlags
	var width float64
	var pdfPath string
	var imagePath string
	var page int
	var zoom float64
	var format string
	var output string
	var stripRefs bool

	cmd := &cobra.Command{
		Use:   "reconstruct <detections.json>",
		Short: "Order and nest detector boxes for one page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "markdown" {
				return fmt.Errorf("--format must be json or markdown, got %q", format)
			}

			opts, policy, err := lf.options()
			if err != nil {
				return err
			}

			det, err := loadDetections(cmd, args[0])
			if err != nil {
				return err
			}
			boxes, err := decodeBoxes(cmd, det, policy)
			if err != nil {
				return err
			}

			w, err := pageWidth(width, det.Width, imagePath, pdfPath, page, zoom)
			if err != nil {
				return fmt.Errorf("failed to determine page width: %w", err)
			}

			res, err := layout.NewReconstructor(opts).Reconstruct(layout.Page{
				Number: page,
				Width:  w,
				Height: det.Height,
				Boxes:  boxes,
			})
			if err != nil {
				return fmt.Errorf("%w (set --page-width, --image or --pdf)", err)
			}

			if pdfPath != "" && w > 0 {
				if err := fillFromPDF(pdfPath, page, w, res.Page.Boxes); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: text layer unavailable: %v\n", err)
				}
			}

			if format == "markdown" {
				out := render.Page(res.Page.Boxes, nil, render.Options{StripReferences: stripRefs})
				return writeOutput(cmd, output, []byte(out.Markdown))
			}

			b, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, append(b, '\n'))
		},
	}

	addLayoutFlags(cmd, &lf)
	cmd.Flags().Float64Var(&width, "page-width", 0, "pixel width the detections refer to")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "PDF to take the page width and text layer from")
	cmd.Flags().StringVar(&imagePath, "image", "", "rendered page image to take the width from")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number within --pdf")
	cmd.Flags().Float64Var(&zoom, "zoom", 4.0, "render zoom the detections were made at")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&stripRefs, "strip-references", false, "stop Markdown at a References heading")
	return cmd
}

// fillFromPDF copies text-layer content into text-like boxes
func fillFromPDF(path string, page int, width float64, boxes []layout.Box) error {
	doc, err := openPDF(path)
	if err != nil {
		return err
	}
	points, _, err := doc.PageSize(page)
	if err != nil {
		return err
	}
	textLayer, err := doc.Layer(page, width/points)
	if err != nil {
		return err
	}
	textLayer.FillText(boxes)
	return nil
}
