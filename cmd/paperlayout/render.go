package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanbuphy/SmartPaper/internal/raster"
)

func renderCmd() *cobra.Command {
	var pdfPath string
	var page int
	var zoom float64
	var out string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Rasterize one PDF page to PNG for a layout detector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pdfPath == "" || out == "" {
				return fmt.Errorf("--pdf and --out are required")
			}
			if page < 1 {
				return fmt.Errorf("--page must be 1 or greater, got %d", page)
			}

			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("failed to read PDF: %w", err)
			}
			img, err := raster.RenderPage(data, page-1, zoom)
			if err != nil {
				return err
			}
			png, err := raster.EncodePNG(img)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return err
			}

			b := img.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "Rendered page %d at zoom %.1f: %dx%d -> %s\n", page, zoom, b.Dx(), b.Dy(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&pdfPath, "pdf", "", "PDF file")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().Float64Var(&zoom, "zoom", 4.0, "render zoom (4.0 is about 288 DPI)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "PNG to write")
	return cmd
}
