package wiki

import (
	"context"
	"sort"
	"strings"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
)

// sampleChunkLimit bounds the chunk sample carried in the collection
// output. The sample drives language detection and debugging; the
// clustering stage re-reads full chunks from the store.
const sampleChunkLimit = 20

// DocumentInfo is one indexed document's identity and size.
type DocumentInfo struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	FileSize  int64  `json:"file_size"`
	PageCount int    `json:"page_count"`
}

// ChunkSample is a representative embedded chunk, content truncated.
type ChunkSample struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	SectionTitle string `json:"section_title,omitempty"`
	PageNumber   int    `json:"page_number"`
}

// CollectionOutput is the corpus snapshot the later stages build on.
type CollectionOutput struct {
	IndexingRunID    string         `json:"indexing_run_id"`
	TotalDocuments   int            `json:"total_documents"`
	TotalChunks      int            `json:"total_chunks"`
	EmbeddedChunks   int            `json:"embedded_chunks"`
	Documents        []DocumentInfo `json:"documents"`
	ChunkSample      []ChunkSample  `json:"chunks_with_embeddings"`
	SectionHeaders   map[string]int `json:"section_headers_distribution"`
	DetectedLanguage string         `json:"detected_language"`
}

// collectMetadata reads the parent run's documents and embedded chunks
// and derives the stats the overview and structure prompts need. A run
// without embedded chunks is refused: there is nothing to write about.
func (r *Runner) collectMetadata(ctx context.Context, indexingRunID string) (CollectionOutput, pipeline.Outcome, error) {
	var out CollectionOutput
	out.IndexingRunID = indexingRunID

	docs, err := r.store.ListRunDocuments(ctx, indexingRunID)
	if err != nil {
		return out, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}
	for _, d := range docs {
		out.Documents = append(out.Documents, DocumentInfo{
			ID:        d.ID,
			Filename:  d.Filename,
			FileSize:  d.FileSize,
			PageCount: d.PageCount,
		})
	}
	out.TotalDocuments = len(docs)

	total, embedded, err := r.store.ChunkStats(ctx, indexingRunID)
	if err != nil {
		return out, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}
	out.TotalChunks = total
	out.EmbeddedChunks = embedded
	if embedded == 0 {
		return out, pipeline.Outcome{}, conerrors.InvalidInput("indexing run has no embedded chunks to generate a wiki from")
	}

	chunks, err := r.store.ListRunChunks(ctx, indexingRunID, true)
	if err != nil {
		return out, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	out.SectionHeaders = make(map[string]int)
	for _, c := range chunks {
		if title := c.Metadata.SectionTitle; title != "" {
			out.SectionHeaders[title]++
		}
	}

	step := 1
	if len(chunks) > sampleChunkLimit {
		step = len(chunks) / sampleChunkLimit
	}
	for i := 0; i < len(chunks) && len(out.ChunkSample) < sampleChunkLimit; i += step {
		c := chunks[i]
		out.ChunkSample = append(out.ChunkSample, ChunkSample{
			ID:           c.ID,
			Content:      truncateRunes(c.Content, 300),
			SectionTitle: c.Metadata.SectionTitle,
			PageNumber:   c.Metadata.PageNumber,
		})
	}

	out.DetectedLanguage = detectLanguage(out.ChunkSample)

	return out, pipeline.Outcome{
		Summary: map[string]any{
			"documents":       out.TotalDocuments,
			"total_chunks":    out.TotalChunks,
			"embedded_chunks": out.EmbeddedChunks,
			"section_headers": len(out.SectionHeaders),
			"language":        out.DetectedLanguage,
		},
	}, nil
}

// detectLanguage classifies the corpus as danish or english from the
// chunk sample. Danish text reliably carries æ/ø/å and a handful of
// high-frequency function words; anything without that signal reads as
// english.
func detectLanguage(sample []ChunkSample) string {
	if len(sample) == 0 {
		return ""
	}
	danishWords := map[string]bool{
		"og": true, "af": true, "til": true, "med": true, "skal": true,
		"på": true, "ikke": true, "udføres": true, "samt": true,
	}
	var signal int
	for _, s := range sample {
		lower := strings.ToLower(s.Content)
		if strings.ContainsAny(lower, "æøå") {
			signal += 2
		}
		for _, w := range strings.Fields(lower) {
			if danishWords[strings.Trim(w, ".,;:()")] {
				signal++
			}
		}
	}
	if signal >= len(sample) {
		return "danish"
	}
	return "english"
}

// topSections returns the most common section headers, highest count
// first, capped at limit. Ties break alphabetically so the prompt text
// is stable across runs.
func topSections(headers map[string]int, limit int) []string {
	type entry struct {
		title string
		count int
	}
	entries := make([]entry, 0, len(headers))
	for title, count := range headers {
		entries = append(entries, entry{title, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].title < entries[j].title
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.title
	}
	return titles
}

// truncateRunes shortens text to at most n runes.
func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
