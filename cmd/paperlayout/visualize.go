package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanbuphy/SmartPaper/internal/figures"
	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/raster"
)

func visualizeCmd() *cobra.Command {
	var lf layoutFlags
	var imagePath string
	var out string
	var raw bool

	cmd := &cobra.Command{
		Use:   "visualize <detections.json>",
		Short: "Draw reconstructed boxes in reading order over a page image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if imagePath == "" || out == "" {
				return fmt.Errorf("--image and --out are required")
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

			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			img, _, err := raster.Decode(data)
			if err != nil {
				return err
			}

			if !raw {
				width := det.Width
				if width <= 0 {
					width = float64(img.Bounds().Dx())
				}
				res, err := layout.NewReconstructor(opts).Reconstruct(layout.Page{Width: width, Height: det.Height, Boxes: boxes})
				if err != nil {
					return err
				}
				boxes = res.Page.Boxes
			}

			png, err := raster.EncodePNG(figures.Visualize(img, boxes, figures.DefaultVisualizeOptions()))
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d boxes to %s\n", len(boxes), out)
			return nil
		},
	}

	addLayoutFlags(cmd, &lf)
	cmd.Flags().StringVar(&imagePath, "image", "", "rendered page image")
	cmd.Flags().StringVar(&out, "out", "", "PNG to write")
	cmd.Flags().BoolVar(&raw, "raw", false, "draw detections as given, without reconstruction")
	return cmd
}
