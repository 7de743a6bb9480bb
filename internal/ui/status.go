package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo summarizes an indexing run and its storage footprint.
type StatusInfo struct {
	RunID        string     `json:"run_id"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Documents    int        `json:"documents"`
	TotalChunks  int        `json:"total_chunks"`
	Embedded     int        `json:"embedded_chunks"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	MetadataSize int64 `json:"metadata_size"`
	VectorSize   int64 `json:"vector_size"`
	KeywordSize  int64 `json:"keyword_size"`
	ObjectsSize  int64 `json:"objects_size"`
	TotalSize    int64 `json:"total_size"`

	EmbedderModel      string `json:"embedder_model,omitempty"`
	EmbedderDimensions int    `json:"embedder_dimensions,omitempty"`
	WikiRuns           int    `json:"wiki_runs"`
}

// StatusRenderer displays run status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Indexing Run "+info.RunID))

	_, _ = fmt.Fprintf(r.out, "  Status:    %s\n", r.renderStatus(info.Status))
	if info.ErrorMessage != "" {
		_, _ = fmt.Fprintf(r.out, "  Message:   %s\n", info.ErrorMessage)
	}
	_, _ = fmt.Fprintf(r.out, "  Documents: %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Chunks:    %d (%d embedded)\n", info.TotalChunks, info.Embedded)
	if !info.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Started:   %s\n", formatTime(info.StartedAt))
	}
	if info.CompletedAt != nil {
		_, _ = fmt.Fprintf(r.out, "  Completed: %s\n", formatTime(*info.CompletedAt))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata: %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors:  %s\n", FormatBytes(info.VectorSize))
	if info.KeywordSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Keyword:  %s\n", FormatBytes(info.KeywordSize))
	}
	if info.ObjectsSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Objects:  %s\n", FormatBytes(info.ObjectsSize))
	}
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))

	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Embedder: %s (%d dims)\n", info.EmbedderModel, info.EmbedderDimensions)
	}

	if info.WikiRuns > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Wiki runs: %d\n", info.WikiRuns)
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a run status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "completed":
		return r.styles.Success.Render(status)
	case "completed_with_warnings", "pending":
		return r.styles.Warning.Render(status)
	case "failed":
		return r.styles.Error.Render(status)
	case "running":
		return r.styles.Active.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to a human-readable size.
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
