package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// BatchSearch retrieves results for many queries at once: one embedding
// call for all queries, one candidate fetch for the run, then per-query
// scoring. The union deduplicates by chunk ID keeping each chunk's best
// score. Checklist analysis and wiki page retrieval run dozens of
// queries per run; per-query round trips would dominate their runtime.
func (e *Engine) BatchSearch(ctx context.Context, queries []string, opts Options) (*BatchResults, error) {
	start := time.Now()

	if opts.IndexingRunID == "" {
		return nil, conerrors.InvalidInput("retrieval requires an indexing run id")
	}
	opts = e.applyDefaults(opts)

	cleaned := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	out := &BatchResults{PerQuery: make(map[string][]*Result, len(cleaned))}
	if len(cleaned) == 0 {
		return out, nil
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, cleaned)
	if err != nil {
		return nil, err
	}

	chunks, err := e.meta.ListRunChunks(ctx, opts.IndexingRunID, true)
	if err != nil {
		return nil, err
	}
	allowed := allowedSet(opts.DocumentIDs)

	bestByID := make(map[string]*Result)
	for qi, query := range cleaned {
		queryEmb := embeddings[qi]
		if len(queryEmb) != e.embedder.Dimensions() {
			return nil, conerrors.New(conerrors.ErrCodeDimensionMismatch,
				"query embedding dimension does not match the index", nil)
		}

		scored := make([]*Result, 0, len(chunks))
		for _, c := range chunks {
			if allowed != nil && !allowed[c.DocumentID] {
				continue
			}
			sim := cosineSimilarity(queryEmb, c.Embedding)
			scored = append(scored, &Result{Chunk: c, Similarity: sim, Source: "scan"})
		}

		perQuery := e.postProcess(scored, opts)
		out.PerQuery[query] = perQuery

		for _, r := range perQuery {
			if prev, ok := bestByID[r.Chunk.ID]; !ok || r.Similarity > prev.Similarity {
				bestByID[r.Chunk.ID] = r
			}
		}
	}

	out.Union = make([]*Result, 0, len(bestByID))
	for _, r := range bestByID {
		out.Union = append(out.Union, r)
	}
	sort.SliceStable(out.Union, func(i, j int) bool {
		if out.Union[i].Similarity != out.Union[j].Similarity {
			return out.Union[i].Similarity > out.Union[j].Similarity
		}
		return out.Union[i].Chunk.ID < out.Union[j].Chunk.ID
	})

	slog.Debug("batch search complete",
		"run_id", opts.IndexingRunID,
		"queries", len(cleaned),
		"candidates", len(chunks),
		"union", len(out.Union),
		"duration", time.Since(start).Round(time.Millisecond))
	return out, nil
}
