package checklist

import (
	"context"

	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
)

// ChunkRef is one retrieved evidence chunk, slimmed for the stage
// payload.
type ChunkRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// RetrievalOutput is the batch retrieval stage payload: the deduplicated
// evidence union across all checklist queries.
type RetrievalOutput struct {
	Chunks       []ChunkRef     `json:"chunks"`
	PerQueryHits map[string]int `json:"per_query_hits,omitempty"`
}

// retrieveEvidence runs every generated query in one batch and keeps
// the per-chunk best-score union as the evidence set.
func (r *Runner) retrieveEvidence(ctx context.Context, indexingRunID, language string, parsed ParseOutput) (RetrievalOutput, pipeline.Outcome, error) {
	var out RetrievalOutput

	res, err := r.retriever.BatchSearch(ctx, parsed.Queries, search.Options{
		IndexingRunID: indexingRunID,
		Language:      language,
	})
	if err != nil {
		return out, pipeline.Outcome{}, err
	}

	documents := make(map[string]bool)
	out.Chunks = make([]ChunkRef, 0, len(res.Union))
	for _, hit := range res.Union {
		out.Chunks = append(out.Chunks, ChunkRef{
			ChunkID:    hit.Chunk.ID,
			DocumentID: hit.Chunk.DocumentID,
			Filename:   hit.Chunk.Metadata.SourceFilename,
			PageNumber: hit.Chunk.Metadata.PageNumber,
			Content:    hit.Chunk.Content,
			Similarity: hit.Similarity,
		})
		documents[hit.Chunk.Metadata.SourceFilename] = true
	}
	out.PerQueryHits = make(map[string]int, len(res.PerQuery))
	for query, hits := range res.PerQuery {
		out.PerQueryHits[query] = len(hits)
	}

	outcome := pipeline.Outcome{
		Summary: map[string]any{
			"queries":         len(parsed.Queries),
			"evidence_chunks": len(out.Chunks),
			"documents":       len(documents),
		},
	}
	return out, outcome, nil
}
