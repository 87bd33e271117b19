package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/raster"
	"github.com/sanbuphy/SmartPaper/internal/storage"
)

const samplePage = `{"width": 1000, "boxes": [
	{"label": "text", "coordinate": [100, 200, 900, 400], "score": 0.9, "text": "Body   text here."},
	{"label": "header", "coordinate": [100, 10, 900, 40], "score": 0.8, "text": "Running header"},
	{"label": "paragraph_title", "coordinate": [100, 100, 900, 150], "score": 0.95, "text": "Intro"}
]}`

const bareArray = `[
	{"label": "text", "coordinate": [100, 200, 900, 400], "score": 0.9, "text": "Body"},
	{"label": "paragraph_title", "coordinate": [100, 100, 900, 150], "score": 0.95, "text": "Intro"}
]`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	png, err := raster.EncodePNG(image.NewRGBA(image.Rect(0, 0, w, h)))
	if err != nil {
		t.Fatal(err)
	}
	return writeFile(t, "page.png", png)
}

func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestReconstructMarkdown(t *testing.T) {
	path := writeFile(t, "det.json", []byte(samplePage))

	out, _, err := execute(t, "", "reconstruct", path, "--format", "markdown")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if out != "## Intro\n\nBody text here.\n\n" {
		t.Errorf("markdown = %q", out)
	}
}

func TestReconstructJSON(t *testing.T) {
	path := writeFile(t, "det.json", []byte(samplePage))

	out, _, err := execute(t, "", "reconstruct", path, "--no-filter")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	var res layout.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if res.Stats.Input != 3 || res.Stats.Filtered != 0 || res.Stats.Output != 3 {
		t.Errorf("stats = %+v", res.Stats)
	}
	var labels []string
	for _, b := range res.Page.Boxes {
		labels = append(labels, b.Label)
	}
	if strings.Join(labels, ",") != "header,paragraph_title,text" {
		t.Errorf("order = %v", labels)
	}
}

func TestReconstructOutputFile(t *testing.T) {
	path := writeFile(t, "det.json", []byte(samplePage))
	dest := filepath.Join(t.TempDir(), "page.md")

	out, _, err := execute(t, "", "reconstruct", path, "--format", "markdown", "--output", dest)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
	got, err := os.ReadFile(dest)
	if err != nil || !strings.HasPrefix(string(got), "## Intro") {
		t.Errorf("file = %q, err = %v", got, err)
	}
}

func TestReconstructWidthSources(t *testing.T) {
	det := writeFile(t, "det.json", []byte(bareArray))
	img := writePNG(t, 1000, 1400)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no width", nil, "--page-width"},
		{"explicit width", []string{"--page-width", "1000"}, ""},
		{"image width", []string{"--image", img}, ""},
		{"unsorted needs no width", []string{"--no-sort"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"reconstruct", det, "--format", "markdown"}, tt.args...)
			out, _, err := execute(t, "", args...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("reconstruct: %v", err)
			}
			if !strings.Contains(out, "## Intro") || !strings.Contains(out, "Body") {
				t.Errorf("markdown = %q", out)
			}
		})
	}
}

func TestReconstructStdin(t *testing.T) {
	out, _, err := execute(t, bareArray, "reconstruct", "-", "--page-width", "1000", "--format", "markdown")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if out != "## Intro\n\nBody\n\n" {
		t.Errorf("markdown = %q", out)
	}
}

func TestReconstructGeometryPolicy(t *testing.T) {
	det := writeFile(t, "det.json", []byte(`[
		{"label": "text", "coordinate": [1, 2, 3], "text": "broken"},
		{"label": "text", "coordinate": [100, 200, 900, 400], "text": "Body"}
	]`))

	_, stderr, err := execute(t, "", "reconstruct", det, "--page-width", "1000")
	if err != nil {
		t.Fatalf("placeholder policy: %v", err)
	}
	if !strings.Contains(stderr, "warning:") {
		t.Errorf("stderr = %q, want a geometry warning", stderr)
	}

	if _, _, err := execute(t, "", "reconstruct", det, "--page-width", "1000", "--geometry-policy", "strict"); err == nil {
		t.Error("strict policy accepted a malformed coordinate")
	}

	out, _, err := execute(t, "", "reconstruct", det, "--page-width", "1000", "--geometry-policy", "drop", "--format", "markdown")
	if err != nil || out != "Body\n\n" {
		t.Errorf("drop policy: out = %q, err = %v", out, err)
	}
}

func TestReconstructFlagErrors(t *testing.T) {
	det := writeFile(t, "det.json", []byte(samplePage))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"format", []string{"--format", "html"}, "--format"},
		{"tie break", []string{"--tie-break", "largest"}, "--tie-break"},
		{"geometry", []string{"--geometry-policy", "ignore"}, "ignore"},
		{"missing file", nil, "failed to read detections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := det
			if tt.name == "missing file" {
				path = filepath.Join(t.TempDir(), "absent.json")
			}
			_, _, err := execute(t, "", append([]string{"reconstruct", path}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLayoutFlagsOptions(t *testing.T) {
	lf := layoutFlags{
		filterLabels:   "header, footer",
		noContainment:  true,
		noCaptionMerge: true,
		tieBreak:       "smallest",
		geometryPolicy: "drop",
	}
	opts, policy, err := lf.options()
	if err != nil {
		t.Fatal(err)
	}
	if policy != layout.PolicyDrop || opts.TieBreak != layout.TieBreakSmallestArea {
		t.Errorf("policy = %v, tie = %v", policy, opts.TieBreak)
	}
	if opts.EnableContainment || opts.EnableCaptionMerge || !opts.EnableFormulaMerge || !opts.EnableSort {
		t.Errorf("stages = %+v", opts)
	}
	if strings.Join(opts.Labels.FilterLabels, "|") != "header|footer" || !opts.Labels.Enabled {
		t.Errorf("labels = %+v", opts.Labels)
	}
}

func TestVisualize(t *testing.T) {
	det := writeFile(t, "det.json", []byte(samplePage))
	img := writePNG(t, 1000, 500)
	dest := filepath.Join(t.TempDir(), "vis.png")

	out, _, err := execute(t, "", "visualize", det, "--image", img, "--out", dest)
	if err != nil {
		t.Fatalf("visualize: %v", err)
	}
	if !strings.Contains(out, "Wrote 2 boxes") {
		t.Errorf("stdout = %q", out)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	vis, _, err := raster.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if vis.Bounds().Dx() != 1000 || vis.Bounds().Dy() != 500 {
		t.Errorf("bounds = %v", vis.Bounds())
	}

	if _, _, err := execute(t, "", "visualize", det, "--image", img); err == nil {
		t.Error("visualize without --out succeeded")
	}
}

func TestRenderRequiresFlags(t *testing.T) {
	if _, _, err := execute(t, "", "render", "--out", "x.png"); err == nil {
		t.Error("render without --pdf succeeded")
	}
	if _, _, err := execute(t, "", "render", "--pdf", "x.pdf", "--out", "x.png", "--page", "0"); err == nil || !strings.Contains(err.Error(), "--page") {
		t.Errorf("err = %v, want page error", err)
	}
}

func TestEnqueueRequiresSource(t *testing.T) {
	if _, _, err := execute(t, "", "enqueue", "--pages", "1"); err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("err = %v", err)
	}
}

type fakeEmbedder struct{ text string }

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.text = text
	return []float32{1, 0}, nil
}

type fakeSearcher struct {
	jobID   string
	limit   int
	results []*storage.PageSearchResult
}

func (f *fakeSearcher) SearchSimilarPages(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*storage.PageSearchResult, error) {
	f.limit, f.jobID = limit, jobID
	return f.results, nil
}

func TestRunSearch(t *testing.T) {
	embedder := &fakeEmbedder{}
	searcher := &fakeSearcher{results: []*storage.PageSearchResult{
		{LayoutID: "l1", JobID: "j1", PageNumber: 2, Markdown: "## Method\n\nWe   train a model.", SimilarityScore: 0.91},
	}}

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := runSearch(context.Background(), cmd, embedder, searcher, "training setup", 3, "j1"); err != nil {
		t.Fatal(err)
	}
	if embedder.text != "training setup" || searcher.limit != 3 || searcher.jobID != "j1" {
		t.Errorf("embedded %q, limit %d, job %q", embedder.text, searcher.limit, searcher.jobID)
	}
	if !strings.Contains(out.String(), "0.910  job j1 page 2 (l1)") || !strings.Contains(out.String(), "## Method We train a model.") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	searcher.results = nil
	if err := runSearch(context.Background(), cmd, embedder, searcher, "q", 3, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No matching pages") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("a\n\nb   c", 10); got != "a b c" {
		t.Errorf("snippet = %q", got)
	}
	if got := snippet(strings.Repeat("页", 5), 3); got != "页页页..." {
		t.Errorf("snippet = %q", got)
	}
}
