// Package output formats CLI results: retrieval hits, synthesized
// answers, run listings and checklist findings.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jepras/ConstructionRAG-sub001/internal/answer"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON pretty-prints v for --json output.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// SearchResults renders retrieval hits with provenance, band and a
// content excerpt.
func (w *Writer) SearchResults(results []*search.Result) {
	if len(results) == 0 {
		w.Warning("No results above the similarity threshold.")
		return
	}
	for i, r := range results {
		if r.Chunk == nil {
			continue
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s  p.%d  [%s %.2f]\n",
			i+1, r.Chunk.Metadata.SourceFilename, r.Chunk.Metadata.PageNumber, r.Band, r.Similarity)
		if title := r.Chunk.Metadata.SectionTitle; title != "" {
			_, _ = fmt.Fprintf(w.out, "    § %s\n", title)
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n\n", Excerpt(r.Chunk.Content, 240))
	}
}

// KeywordHit pairs a keyword match with its resolved chunk.
type KeywordHit struct {
	Chunk        *store.Chunk `json:"chunk"`
	Score        float64      `json:"score"`
	MatchedTerms []string     `json:"matched_terms"`
}

// KeywordResults renders exact-match hits with their BM25 score and
// the terms that matched.
func (w *Writer) KeywordResults(hits []KeywordHit) {
	if len(hits) == 0 {
		w.Warning("No keyword matches.")
		return
	}
	for i, h := range hits {
		if h.Chunk == nil {
			continue
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s  p.%d  [bm25 %.2f]\n",
			i+1, h.Chunk.Metadata.SourceFilename, h.Chunk.Metadata.PageNumber, h.Score)
		if len(h.MatchedTerms) > 0 {
			_, _ = fmt.Fprintf(w.out, "    matched: %s\n", strings.Join(h.MatchedTerms, ", "))
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n\n", Excerpt(h.Chunk.Content, 240))
	}
}

// Answer renders a synthesized answer followed by its source list.
func (w *Writer) Answer(ans *answer.Answer) {
	_, _ = fmt.Fprintln(w.out, strings.TrimSpace(ans.Text))
	if len(ans.Sources) == 0 {
		return
	}
	w.Newline()
	for _, src := range ans.Sources {
		_, _ = fmt.Fprintf(w.out, "  [%d] %s, p.%d  (%s %.2f)\n",
			src.Number, src.Filename, src.PageNumber, src.Band, src.Similarity)
	}
}

// RunRow is one line of a run listing.
type RunRow struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Started   string `json:"started"`
	Completed string `json:"completed"`
}

// RunList renders indexing runs as an aligned table.
func (w *Writer) RunList(rows []RunRow) {
	if len(rows) == 0 {
		w.Status("", "No indexing runs yet. Drop PDFs and run 'conrag index'.")
		return
	}
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTATUS\tKIND\tDOCS\tCHUNKS\tSTARTED\tCOMPLETED")
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			ShortID(row.ID), row.Status, row.Kind, row.Documents, row.Chunks, row.Started, row.Completed)
	}
	_ = tw.Flush()
}

// ChecklistResults renders findings grouped in checklist order with a
// status icon per item. The primary source prints first with its cited
// excerpt; remaining citations follow as bare references.
func (w *Writer) ChecklistResults(results []store.ChecklistResult) {
	if len(results) == 0 {
		w.Warning("No checklist results recorded.")
		return
	}
	for _, res := range results {
		_, _ = fmt.Fprintf(w.out, "%s %s. %s  [%s, %.0f%%]\n",
			checklistIcon(res.Status), res.ItemID, res.ItemName, res.Status, res.ConfidenceScore*100)
		if res.DescriptionText != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", Excerpt(res.DescriptionText, 300))
		}
		primary := res.PrimarySource
		if primary != nil {
			_, _ = fmt.Fprintf(w.out, "    → %s, p.%d\n", primary.DocumentName, primary.PageNumber)
			if primary.Excerpt != "" {
				_, _ = fmt.Fprintf(w.out, "      %q\n", Excerpt(primary.Excerpt, 160))
			}
		}
		for _, src := range res.Sources {
			if primary != nil && src.DocumentName == primary.DocumentName && src.PageNumber == primary.PageNumber {
				continue
			}
			_, _ = fmt.Fprintf(w.out, "    → %s, p.%d\n", src.DocumentName, src.PageNumber)
		}
	}
}

// WikiPages renders a wiki run's table of contents.
func (w *Writer) WikiPages(run *store.WikiRun) {
	if run == nil || len(run.Pages) == 0 {
		w.Warning("No wiki pages generated.")
		return
	}
	for _, p := range run.Pages {
		_, _ = fmt.Fprintf(w.out, "%2d. %s  (%s)\n", p.Order, p.Title, p.Filename)
	}
}

func checklistIcon(status store.ChecklistStatus) string {
	switch status {
	case store.ChecklistFound:
		return "✅"
	case store.ChecklistMissing:
		return "❌"
	case store.ChecklistRisk:
		return "⚠️ "
	case store.ChecklistConditionsMet:
		return "✔️ "
	default:
		return "❓"
	}
}

// Excerpt collapses whitespace and truncates content rune-aware for
// single-line display.
func Excerpt(content string, maxRunes int) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	runes := []rune(collapsed)
	if len(runes) <= maxRunes {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// ShortID abbreviates a UUID for table display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
