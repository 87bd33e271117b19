/**
 * Markdown rendering
 *
 * Turns a reconstructed page into Markdown in reading order. Figure boxes
 * render as image links with their model-written description quoted below.
 */

package render

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

// referencesHeading matches the heading that starts a bibliography
var referencesHeading = regexp.MustCompile(`(?i)^\s*(References|参考文献)\s*$`)

// Figure is what the pipeline learned about one figure box
type Figure struct {
	Link        string
	Title       string
	Description string
}

// Options controls rendering
type Options struct {
	// StripReferences stops rendering at a references heading
	StripReferences bool
}

// Output is a rendered page
type Output struct {
	Markdown string
	// Truncated is set when rendering stopped at a references heading
	Truncated bool
}

// Page renders boxes, already in reading order, to Markdown. figures is
// keyed by the index of the figure box in boxes.
func Page(boxes []layout.Box, figures map[int]Figure, opts Options) Output {
	var sb strings.Builder
	for i, b := range boxes {
		if opts.StripReferences && IsReferencesHeading(b) {
			return Output{Markdown: sb.String(), Truncated: true}
		}
		fig, ok := figures[i]
		writeBox(&sb, b, fig, ok)
	}
	return Output{Markdown: sb.String()}
}

// IsReferencesHeading reports whether b opens the bibliography
func IsReferencesHeading(b layout.Box) bool {
	switch b.Kind() {
	case layout.LabelParagraphTitle, layout.LabelText:
		return referencesHeading.MatchString(Clean(b.Text))
	}
	return false
}

// Clean NFC-normalizes s and collapses runs of whitespace
func Clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func writeBox(sb *strings.Builder, b layout.Box, fig Figure, hasFigure bool) {
	text := Clean(b.Text)

	switch b.Kind() {
	case layout.LabelDocTitle:
		writeBlock(sb, "# ", text)
	case layout.LabelParagraphTitle:
		writeBlock(sb, "## ", text)
	case layout.LabelFormula:
		writeFormula(sb, b)
	case layout.LabelImage, layout.LabelChart:
		writeFigure(sb, b, fig, hasFigure)
	case layout.LabelTable:
		if hasFigure {
			writeFigure(sb, b, fig, true)
			return
		}
		if text != "" {
			sb.WriteString("```\n")
			sb.WriteString(strings.TrimSpace(norm.NFC.String(b.Text)))
			sb.WriteString("\n```\n\n")
		}
	default:
		if text == "" {
			for _, child := range b.Children {
				writeBox(sb, child, Figure{}, false)
			}
			return
		}
		writeBlock(sb, "", text)
	}
}

func writeBlock(sb *strings.Builder, prefix, text string) {
	if text == "" {
		return
	}
	sb.WriteString(prefix)
	sb.WriteString(text)
	sb.WriteString("\n\n")
}

func writeFormula(sb *strings.Builder, b layout.Box) {
	body := Clean(b.Text)
	if body == "" {
		return
	}
	sb.WriteString("$$\n")
	sb.WriteString(body)
	for _, n := range b.FormulaNumbers {
		if tag := formulaTag(n.Text); tag != "" {
			fmt.Fprintf(sb, " \\tag{%s}", tag)
		}
	}
	sb.WriteString("\n$$\n\n")
}

// formulaTag strips the brackets from an equation number like "(3.1)"
func formulaTag(s string) string {
	return strings.TrimSpace(strings.Trim(Clean(s), "()[]（）"))
}

// captionText joins the text of a figure's absorbed caption boxes
func captionText(b layout.Box) string {
	var parts []string
	for _, child := range b.Children {
		if child.Kind().IsCaption() {
			if t := Clean(child.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

func writeFigure(sb *strings.Builder, b layout.Box, fig Figure, hasFigure bool) {
	caption := captionText(b)
	title := Clean(fig.Title)
	if title == "" {
		title = caption
	}

	if !hasFigure || fig.Link == "" {
		writeBlock(sb, "", caption)
		return
	}

	fmt.Fprintf(sb, "![%s](%s)\n\n", escapeAlt(title), fig.Link)
	if desc := Clean(fig.Description); desc != "" {
		sb.WriteString("> ")
		sb.WriteString(desc)
		sb.WriteString("\n\n")
	}
}

func escapeAlt(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
