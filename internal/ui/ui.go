// Package ui provides terminal progress and status rendering for
// indexing runs: a bubbletea TUI for interactive terminals and a plain
// line renderer for CI and pipes.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage identifies a display phase of an indexing run. The four
// per-document stages interleave when documents process concurrently;
// renderers treat the enum as ordered and only ever advance.
type Stage int

const (
	// StageIngest covers PDF discovery and upload to the object store.
	StageIngest Stage = iota
	// StagePartition is the document layout analysis stage.
	StagePartition
	// StageMetadata is the structural metadata stage.
	StageMetadata
	// StageEnrichment is the VLM captioning stage.
	StageEnrichment
	// StageChunking is the chunk assembly stage.
	StageChunking
	// StageEmbedding is the run-wide embedding stage.
	StageEmbedding
	// StageComplete indicates the run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageIngest:
		return "Ingest"
	case StagePartition:
		return "Partition"
	case StageMetadata:
		return "Metadata"
	case StageEnrichment:
		return "Enrichment"
	case StageChunking:
		return "Chunking"
	case StageEmbedding:
		return "Embedding"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageIngest:
		return "INGEST"
	case StagePartition:
		return "PART"
	case StageMetadata:
		return "META"
	case StageEnrichment:
		return "ENRICH"
	case StageChunking:
		return "CHUNK"
	case StageEmbedding:
		return "EMBED"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// Unit names what Current/Total count during this stage.
func (s Stage) Unit() string {
	switch s {
	case StageIngest:
		return "documents"
	case StagePartition, StageMetadata, StageEnrichment, StageChunking:
		return "tasks"
	case StageEmbedding:
		return "batches"
	default:
		return ""
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage           Stage
	Current         int
	Total           int
	CurrentDocument string
	Message         string
}

// ErrorEvent represents a problem during processing.
type ErrorEvent struct {
	Document string
	Err      error
	IsWarn   bool
}

// StageTimings tracks time spent in each pipeline stage. The four
// per-document stages are summed across documents, so they can exceed
// the wall-clock run duration.
type StageTimings struct {
	Ingest     time.Duration
	Partition  time.Duration
	Metadata   time.Duration
	Enrichment time.Duration
	Chunking   time.Duration
	Embedding  time.Duration
}

// EmbedderInfo describes the embedding backend used by the run.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats contains final run statistics.
type CompletionStats struct {
	Documents int
	Chunks    int
	Duration  time.Duration
	Errors    int
	Warnings  int
	Stages    StageTimings
	Embedder  EmbedderInfo
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	RunLabel   string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithRunLabel sets the label shown in the TUI header, typically the
// run id or the inbox directory.
func WithRunLabel(label string) ConfigOption {
	return func(c *Config) {
		c.RunLabel = label
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates an appropriate renderer based on config and
// environment. Interactive terminals get the TUI; CI environments,
// pipes and --plain get line output.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
