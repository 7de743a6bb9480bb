package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress for CI and pipes. Every
// progress event becomes one line, so interleaved events from
// concurrent document workers stay readable.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentDocument
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.Document != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Document, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents, %d chunks in %s",
		stats.Documents, stats.Chunks, round(stats.Duration))

	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	st := stats.Stages
	if st.Partition > 0 || st.Embedding > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage breakdown:")
		if st.Ingest > 0 {
			_, _ = fmt.Fprintf(r.out, "  Ingest:     %s\n", round(st.Ingest))
		}
		_, _ = fmt.Fprintf(r.out, "  Partition:  %s\n", round(st.Partition))
		_, _ = fmt.Fprintf(r.out, "  Metadata:   %s\n", round(st.Metadata))
		_, _ = fmt.Fprintf(r.out, "  Enrichment: %s\n", round(st.Enrichment))
		_, _ = fmt.Fprintf(r.out, "  Chunking:   %s\n", round(st.Chunking))
		if st.Embedding > 0 && stats.Chunks > 0 {
			perSec := float64(stats.Chunks) / st.Embedding.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Embedding:  %s (%d chunks @ %.1f/sec)\n",
				round(st.Embedding), stats.Chunks, perSec)
		} else {
			_, _ = fmt.Fprintf(r.out, "  Embedding:  %s\n", round(st.Embedding))
		}
	}

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func round(d time.Duration) time.Duration {
	return d.Round(100 * time.Millisecond)
}

var _ Renderer = (*PlainRenderer)(nil)
