// Package search implements retrieval over indexed runs: embed the
// query, nearest-neighbor search against the run's vector index with a
// client-side scan fallback, then language-tuned threshold filtering,
// content deduplication and ranking.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/internal/telemetry"
)

// Matcher is the nearest-neighbor entry point the engine searches
// through. store.ChunkMatcher implements it.
type Matcher interface {
	MatchChunks(ctx context.Context, embedding []float32, threshold float32, matchCount int, runID string) ([]*store.MatchResult, error)
}

// Engine executes retrieval against one metadata store and vector
// index pair.
type Engine struct {
	matcher  Matcher
	meta     store.MetadataStore
	embedder embed.Embedder
	config   Config
	metrics  *telemetry.QueryMetrics
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMetrics sets an optional query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine. All dependencies are required.
func NewEngine(matcher Matcher, meta store.MetadataStore, embedder embed.Embedder, config Config, opts ...EngineOption) (*Engine, error) {
	if matcher == nil {
		return nil, conerrors.Internal("search engine requires a matcher", nil)
	}
	if meta == nil {
		return nil, conerrors.Internal("search engine requires a metadata store", nil)
	}
	if embedder == nil {
		return nil, conerrors.Internal("search engine requires an embedder", nil)
	}
	if config.TopK <= 0 {
		config = DefaultConfig()
	}

	e := &Engine{matcher: matcher, meta: meta, embedder: embedder, config: config}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search retrieves the chunks most similar to query within a run.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, conerrors.New(conerrors.ErrCodeEmptyQuery, "query must not be empty", nil)
	}
	if opts.IndexingRunID == "" {
		return nil, conerrors.InvalidInput("retrieval requires an indexing run id")
	}
	opts = e.applyDefaults(opts)

	queryEmb, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := e.candidates(ctx, queryEmb, opts)
	if err != nil {
		return nil, err
	}

	results := e.postProcess(candidates, opts)

	e.recordMetrics(query, opts.Language, len(results), time.Since(start), queryEmb)
	slog.Debug("search complete",
		"run_id", opts.IndexingRunID,
		"candidates", len(candidates),
		"results", len(results),
		"duration", time.Since(start).Round(time.Millisecond))
	return results, nil
}

// embedQuery embeds a single query and validates its dimension.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(emb) != e.embedder.Dimensions() {
		return nil, conerrors.New(conerrors.ErrCodeDimensionMismatch,
			"query embedding dimension does not match the index",
			&store.ErrDimensionMismatch{Expected: e.embedder.Dimensions(), Got: len(emb)})
	}
	return emb, nil
}

// candidates runs the primary index search, falling back to a full
// scan when the index returns nothing or fails.
func (e *Engine) candidates(ctx context.Context, queryEmb []float32, opts Options) ([]*Result, error) {
	fetchCount := opts.TopK * 2

	rows, err := e.matcher.MatchChunks(ctx, queryEmb, 0, fetchCount, opts.IndexingRunID)
	if err != nil {
		slog.Warn("primary vector search failed, falling back to scan",
			"run_id", opts.IndexingRunID, "error", err)
	}
	if err == nil && len(rows) > 0 {
		return e.fromIndexRows(rows, queryEmb, opts), nil
	}

	scanned, scanErr := e.scanRun(ctx, queryEmb, opts, fetchCount)
	if scanErr != nil {
		if err != nil {
			return nil, conerrors.Internal("vector search and scan fallback both failed", scanErr)
		}
		return nil, scanErr
	}
	return scanned, nil
}

// fromIndexRows converts index matches into scored results. When the
// stored embedding is present the similarity is recomputed locally;
// otherwise the rank position yields a pseudo-score.
func (e *Engine) fromIndexRows(rows []*store.MatchResult, queryEmb []float32, opts Options) []*Result {
	allowed := allowedSet(opts.DocumentIDs)
	results := make([]*Result, 0, len(rows))
	for rank, row := range rows {
		if allowed != nil && !allowed[row.Chunk.DocumentID] {
			continue
		}
		var sim float64
		if row.Chunk.Embedded() {
			sim = cosineSimilarity(queryEmb, row.Chunk.Embedding)
		} else {
			sim = pseudoScore(rank)
		}
		results = append(results, &Result{Chunk: row.Chunk, Similarity: sim, Source: "vector"})
	}
	return results
}

// scanRun computes similarities client-side over every embedded chunk
// of the run and keeps the best fetchCount.
func (e *Engine) scanRun(ctx context.Context, queryEmb []float32, opts Options, fetchCount int) ([]*Result, error) {
	chunks, err := e.meta.ListRunChunks(ctx, opts.IndexingRunID, true)
	if err != nil {
		return nil, err
	}

	allowed := allowedSet(opts.DocumentIDs)
	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		if allowed != nil && !allowed[c.DocumentID] {
			continue
		}
		sim := cosineSimilarity(queryEmb, c.Embedding)
		results = append(results, &Result{Chunk: c, Similarity: sim, Source: "scan"})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > fetchCount {
		results = results[:fetchCount]
	}
	return results, nil
}

// postProcess applies the language threshold, deduplicates by content
// prefix, sorts by similarity and truncates to TopK. Band labels come
// from the language's threshold table.
func (e *Engine) postProcess(candidates []*Result, opts Options) []*Result {
	thresholds := e.config.thresholds(opts.Language)
	minimum := thresholds.Minimum
	if opts.MinSimilarity > 0 {
		minimum = opts.MinSimilarity
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	seen := make(map[string]bool, len(candidates))
	results := make([]*Result, 0, opts.TopK)
	for _, r := range candidates {
		if r.Similarity < minimum {
			continue
		}
		key := contentKey(r.Chunk.Content)
		if seen[key] {
			continue
		}
		seen[key] = true

		r.Band = thresholds.Band(r.Similarity)
		results = append(results, r)
		if len(results) == opts.TopK {
			break
		}
	}
	return results
}

func (e *Engine) applyDefaults(opts Options) Options {
	if opts.TopK <= 0 {
		opts.TopK = e.config.TopK
	}
	if opts.Language == "" {
		opts.Language = LanguageDanish
	}
	return opts
}

func (e *Engine) recordMetrics(query, language string, resultCount int, latency time.Duration, queryEmb []float32) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryTypeSemantic,
		Language:    language,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
	if len(queryEmb) > 0 {
		e.metrics.RecordQueryEmbedding(queryEmb)
	}
}

// pseudoScore assigns rank-derived similarity to index rows whose
// stored embedding is missing. Monotone decreasing, floored so deep
// rows stay comparable rather than negative.
func pseudoScore(rank int) float64 {
	s := 1.0 - 0.05*float64(rank)
	if s < 0.1 {
		return 0.1
	}
	return s
}

func allowedSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
