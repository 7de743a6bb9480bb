package index

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// chunkSep joins caption and text blocks inside one chunk and merged
// neighbours across chunks.
const chunkSep = "\n\n"

// chunkCandidate is a chunk under construction. elementID tracks the
// source element for merge provenance; sub-chunks of a split element
// share it.
type chunkCandidate struct {
	content   string
	meta      store.ChunkMetadata
	elementID string
}

// chunkDocument turns enriched elements into persisted chunks. The
// previous chunks of the document are removed first so a re-run never
// leaves duplicates or stale vectors behind.
func (r *Runner) chunkDocument(ctx context.Context, runID string, doc *store.Document, enriched EnrichmentOutput) (ChunkingOutput, pipeline.Outcome, error) {
	removed, err := r.store.DeleteDocumentChunks(ctx, runID, doc.ID)
	if err != nil {
		return ChunkingOutput{}, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}
	if len(removed) > 0 {
		if err := r.vectors.Delete(ctx, runID, removed); err != nil {
			slog.Warn("stale_vector_cleanup_failed",
				slog.String("document_id", doc.ID), slog.String("error", err.Error()))
		}
		if r.keyword != nil {
			if err := r.keyword.Delete(ctx, removed); err != nil {
				slog.Warn("stale_keyword_cleanup_failed",
					slog.String("document_id", doc.ID), slog.String("error", err.Error()))
			}
		}
	}

	cfg := r.cfg.Indexing.Chunking
	var candidates []chunkCandidate
	var splitStats SplitStats
	for _, el := range enriched.Elements {
		content := chunkContent(el)
		if content == "" {
			continue
		}
		meta := chunkMeta(el)
		if len(content) > cfg.MaxChunkSize {
			parts := r.splitter.split(content)
			splitStats.ElementsSplit++
			splitStats.SubChunks += len(parts)
			for _, p := range parts {
				candidates = append(candidates, chunkCandidate{content: p, meta: meta, elementID: el.Element.ID})
			}
			continue
		}
		candidates = append(candidates, chunkCandidate{content: content, meta: meta, elementID: el.Element.ID})
	}

	final, mergeStats := mergeSmall(candidates, cfg.MinChunkSize, cfg.MaxChunkSize)

	chunks := make([]*store.Chunk, 0, len(final))
	ids := make([]string, 0, len(final))
	totalBytes := 0
	for ord, c := range final {
		chunk := &store.Chunk{
			ID:            uuid.NewString(),
			DocumentID:    doc.ID,
			IndexingRunID: runID,
			Ordinal:       ord,
			Content:       c.content,
			Metadata:      c.meta,
		}
		chunks = append(chunks, chunk)
		ids = append(ids, chunk.ID)
		totalBytes += len(c.content)
	}
	if err := r.store.SaveChunks(ctx, chunks); err != nil {
		return ChunkingOutput{}, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	out := ChunkingOutput{
		TotalChunks: len(final),
		Splitting:   splitStats,
		Merging:     mergeStats,
		ChunkIDs:    ids,
	}
	if len(final) > 0 {
		out.AverageChunkSize = float64(totalBytes) / float64(len(final))
	}

	slog.Info("chunking_complete",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", out.TotalChunks),
		slog.Int("elements_split", splitStats.ElementsSplit),
		slog.Int("groups_merged", mergeStats.GroupsMerged))

	oc := pipeline.Outcome{
		Summary: map[string]any{
			"chunks_created":          out.TotalChunks,
			"average_chunk_size":      out.AverageChunkSize,
			"elements_split":          splitStats.ElementsSplit,
			"sub_chunks":              splitStats.SubChunks,
			"groups_merged":           mergeStats.GroupsMerged,
			"elements_merged":         mergeStats.ElementsMerged,
			"previous_chunks_removed": len(removed),
		},
	}
	if len(final) > 0 {
		oc.Samples = map[string]any{"first_chunk": sample(final[0].content, 200)}
	}
	return out, oc, nil
}

// chunkContent assembles searchable text for one element: captions
// first so table and page chunks surface on their described content,
// then the extracted text.
func chunkContent(el EnrichedElement) string {
	var parts []string
	if el.Enrichment != nil {
		for _, c := range []string{el.Enrichment.TableCaption, el.Enrichment.TableHTMLCaption, el.Enrichment.PageImageCaption} {
			if t := strings.TrimSpace(c); t != "" {
				parts = append(parts, t)
			}
		}
	}
	if t := strings.TrimSpace(el.Element.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, chunkSep)
}

func chunkMeta(el EnrichedElement) store.ChunkMetadata {
	return store.ChunkMetadata{
		PageNumber:      el.Metadata.PageNumber,
		ElementCategory: el.Metadata.ElementCategory,
		SourceFilename:  el.Metadata.SourceFilename,
		SectionTitle:    el.Metadata.SectionTitle,
		ContentType:     el.Metadata.ContentType,
		ElementID:       el.Metadata.ElementID,
		HasNumbers:      el.Metadata.HasNumbers,
		TextComplexity:  el.Metadata.TextComplexity,
		Enrichment:      el.Enrichment,
	}
}

// mergeable excludes tables and extracted pages from merging; their
// captions describe one visual and must not blend with neighbours.
func mergeable(c chunkCandidate) bool {
	return c.meta.ElementCategory != store.CategoryTable &&
		c.meta.ElementCategory != store.CategoryExtractedPage
}

// mergeSmall groups runs of adjacent under-minimum candidates that
// share a section and sit on the same or neighbouring pages. The
// minimum is a target, not a floor: a small candidate with no eligible
// neighbour passes through unchanged.
func mergeSmall(candidates []chunkCandidate, minSize, maxSize int) ([]chunkCandidate, MergeStats) {
	var out []chunkCandidate
	var stats MergeStats
	i := 0
	for i < len(candidates) {
		cur := candidates[i]
		if !mergeable(cur) || len(cur.content) >= minSize {
			out = append(out, cur)
			i++
			continue
		}

		group := []chunkCandidate{cur}
		groupLen := len(cur.content)
		j := i + 1
		for j < len(candidates) && groupLen < minSize {
			next := candidates[j]
			if !mergeable(next) || len(next.content) >= minSize {
				break
			}
			if next.meta.SectionTitle != cur.meta.SectionTitle {
				break
			}
			prev := group[len(group)-1]
			if next.meta.PageNumber-prev.meta.PageNumber > 1 {
				break
			}
			if groupLen+len(chunkSep)+len(next.content) > maxSize {
				break
			}
			group = append(group, next)
			groupLen += len(chunkSep) + len(next.content)
			j++
		}

		if len(group) == 1 {
			out = append(out, cur)
			i++
			continue
		}

		contents := make([]string, len(group))
		var mergedFrom []string
		for k, g := range group {
			contents[k] = g.content
			if n := len(mergedFrom); n > 0 && mergedFrom[n-1] == g.elementID {
				continue
			}
			mergedFrom = append(mergedFrom, g.elementID)
		}
		meta := group[0].meta
		meta.MergedFrom = mergedFrom
		out = append(out, chunkCandidate{
			content:   strings.Join(contents, chunkSep),
			meta:      meta,
			elementID: group[0].elementID,
		})
		stats.GroupsMerged++
		stats.ElementsMerged += len(group)
		i = j
	}
	return out, stats
}
