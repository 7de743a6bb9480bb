package store

import (
	"context"
	"log/slog"
)

// MatchResult is one nearest-neighbor row: the full chunk joined with
// its index similarity.
type MatchResult struct {
	Chunk *Chunk
	Score float32
}

// ChunkMatcher joins the vector index with chunk rows. It is the
// nearest-neighbor entry point retrieval builds on.
type ChunkMatcher struct {
	meta MetadataStore
	vec  VectorStore
}

// NewChunkMatcher creates a matcher over the given stores.
func NewChunkMatcher(meta MetadataStore, vec VectorStore) *ChunkMatcher {
	return &ChunkMatcher{meta: meta, vec: vec}
}

// MatchChunks searches the run's vector index and returns matching
// chunks with their stored embeddings attached, ordered by descending
// index score. Rows scoring below threshold are dropped. Chunk rows
// missing from the metadata store are skipped with a warning; the index
// may briefly hold entries for chunks deleted mid-flight.
func (m *ChunkMatcher) MatchChunks(ctx context.Context, embedding []float32, threshold float32, matchCount int, runID string) ([]*MatchResult, error) {
	if matchCount <= 0 {
		return nil, nil
	}

	hits, err := m.vec.Search(ctx, runID, embedding, matchCount)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	scoreByID := make(map[string]float32, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		ids = append(ids, h.ChunkID)
		scoreByID[h.ChunkID] = h.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := m.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	chunkByID := make(map[string]*Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	results := make([]*MatchResult, 0, len(ids))
	for _, id := range ids {
		c, ok := chunkByID[id]
		if !ok {
			slog.Warn("vector index entry without chunk row", "chunk_id", id, "run_id", runID)
			continue
		}
		results = append(results, &MatchResult{Chunk: c, Score: scoreByID[id]})
	}
	return results, nil
}
