package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sanbuphy/SmartPaper/internal/clients"
	"github.com/sanbuphy/SmartPaper/internal/config"
	"github.com/sanbuphy/SmartPaper/internal/processor"
	"github.com/sanbuphy/SmartPaper/internal/queue"
	"github.com/sanbuphy/SmartPaper/internal/raster"
	"github.com/sanbuphy/SmartPaper/internal/storage"
)

func loadConfig() (*config.Config, error) {
	config.LoadDotEnv(".env.smartpaper", ".env")
	return config.LoadConfig()
}

func openStorage(cfg *config.Config) (*storage.StorageManager, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	return storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
}

func enqueueCmd() *cobra.Command {
	var pdfURL string
	var pdfPath string
	var pages string
	var jobID string
	var userID string
	var opts processor.PageOptions
	var tieBreak string
	var geometry string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit page reconstruction jobs to the worker queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (pdfURL == "") == (pdfPath == "") {
				return fmt.Errorf("exactly one of --pdf-url or --pdf is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var buf []byte
			filename := filepath.Base(pdfURL)
			if pdfPath != "" {
				if buf, err = os.ReadFile(pdfPath); err != nil {
					return fmt.Errorf("failed to read PDF: %w", err)
				}
				filename = filepath.Base(pdfPath)
			}

			if pages == "" {
				if buf == nil {
					return fmt.Errorf("--pages is required with --pdf-url")
				}
				n, err := raster.PageCount(buf)
				if err != nil {
					return err
				}
				pages = fmt.Sprintf("1-%d", n)
			}
			pageList, err := queue.ParsePageRange(pages)
			if err != nil {
				return err
			}

			if jobID == "" {
				jobID = uuid.New().String()
			}
			opts.TieBreak = tieBreak
			opts.GeometryPolicy = geometry

			enq, err := queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, cfg.QueueMode, cfg.Timeout())
			if err != nil {
				return err
			}
			defer enq.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s: %d page(s) on %s (%s)\n", jobID, len(pageList), cfg.QueueName, cfg.QueueMode)
			for _, p := range pageList {
				id, err := enq.Enqueue(cmd.Context(), &queue.PageJob{
					JobID:      jobID,
					UserID:     userID,
					PageNumber: p,
					Filename:   filename,
					PDFURL:     pdfURL,
					PDFBuffer:  buf,
					Options:    opts,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  page %d -> %s\n", p, id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pdfURL, "pdf-url", "", "URL the worker downloads the PDF from")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "local PDF sent inline with each job")
	cmd.Flags().StringVar(&pages, "pages", "", "pages to process, e.g. 1-3,5 (default: all pages of --pdf)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job ID (default: random UUID)")
	cmd.Flags().StringVar(&userID, "user-id", "", "owner recorded on the job")
	cmd.Flags().BoolVar(&opts.NoFilter, "no-filter", false, "keep every label")
	cmd.Flags().BoolVar(&opts.SkipFigures, "skip-figures", false, "skip figure cropping and captions")
	cmd.Flags().StringVar(&tieBreak, "tie-break", "", "override the worker's containment tie-break")
	cmd.Flags().StringVar(&geometry, "geometry-policy", "", "override the worker's geometry policy")
	return cmd
}

func statusCmd() *cobra.Command {
	var showMarkdown bool
	var showFigures bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and stored pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			job, err := store.GetJobByID(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", b)

			records, err := store.ListPageLayouts(ctx, args[0])
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(out, "page %d  %s  %d boxes  [%s]\n", rec.PageNumber, rec.ID, len(rec.Boxes), strings.Join(rec.Labels, ", "))
				if showMarkdown {
					fmt.Fprintf(out, "\n%s\n", rec.Markdown)
				}
			}

			if showFigures {
				if cfg.ArtifactAPIURL == "" {
					return fmt.Errorf("ARTIFACT_API_URL is not set")
				}
				artifacts, err := clients.NewArtifactClient(cfg.ArtifactAPIURL).GetArtifactsBySourceID(ctx, args[0])
				if err != nil {
					return err
				}
				for _, a := range artifacts {
					fmt.Fprintf(out, "figure %s  %s  %d bytes  %s\n", a.ID, a.Filename, a.FileSize, a.DownloadURL)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showMarkdown, "markdown", false, "print each page's Markdown")
	cmd.Flags().BoolVar(&showFigures, "figures", false, "list the job's uploaded figures")
	return cmd
}

func searchCmd() *cobra.Command {
	var jobID string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stored pages semantically similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			embedder, err := processor.NewEmbeddingClient(cfg.VoyageAPIKey, "")
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			return runSearch(cmd.Context(), cmd, embedder, store, strings.Join(args, " "), limit, jobID)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "restrict results to one job")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	return cmd
}

type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type pageSearcher interface {
	SearchSimilarPages(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*storage.PageSearchResult, error)
}

func runSearch(ctx context.Context, cmd *cobra.Command, embedder queryEmbedder, store pageSearcher, query string, limit int, jobID string) error {
	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return err
	}
	results, err := store.SearchSimilarPages(ctx, vec, limit, jobID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No matching pages")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%.3f  job %s page %d (%s)\n", r.SimilarityScore, r.JobID, r.PageNumber, r.LayoutID)
		fmt.Fprintf(out, "       %s\n", snippet(r.Markdown, 160))
	}
	return nil
}

// snippet flattens Markdown to one line of at most n runes
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
