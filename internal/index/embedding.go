package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// embedRun embeds every chunk of the run that does not yet carry a
// vector, then rebuilds the run's vector graph. A failed batch leaves
// its chunks null-embedded and the stage carries on; the stage itself
// fails only when no batch succeeds at all, when the store rejects the
// vectors, or on cancellation. The embedding client retries each batch
// call once internally before reporting failure.
func (r *Runner) embedRun(ctx context.Context, runID string) (EmbeddingOutput, pipeline.Outcome, error) {
	all, err := r.store.ListRunChunks(ctx, runID, false)
	if err != nil {
		return EmbeddingOutput{}, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	out := EmbeddingOutput{
		TotalChunks: len(all),
		Model:       r.embedder.ModelName(),
		Dimensions:  r.embedder.Dimensions(),
	}

	var pending []*store.Chunk
	var doneIDs []string
	var doneVecs [][]float32
	for _, c := range all {
		if c.Embedded() {
			doneIDs = append(doneIDs, c.ID)
			doneVecs = append(doneVecs, c.Embedding)
			continue
		}
		pending = append(pending, c)
	}

	batchSize := r.cfg.Indexing.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	out.BatchSize = batchSize

	var newIDs []string
	var newVecs [][]float32
	var lastErr error
	var batchSeconds float64
	attempts := 0
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
			ids[i] = c.ID
		}

		began := time.Now()
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		batchSeconds += time.Since(began).Seconds()
		attempts++
		if err != nil {
			if conerrors.IsKind(err, conerrors.KindCancelled) {
				return EmbeddingOutput{}, pipeline.Outcome{}, err
			}
			out.NullEmbedded += len(batch)
			out.FailedBatches++
			lastErr = err
			slog.Warn("embedding_batch_failed",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			continue
		}

		if err := r.store.SaveChunkEmbeddings(ctx, ids, vecs); err != nil {
			return EmbeddingOutput{}, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
		}
		newIDs = append(newIDs, ids...)
		newVecs = append(newVecs, vecs...)
		out.Embedded += len(batch)
	}
	if attempts > 0 {
		out.AvgBatchSeconds = batchSeconds / float64(attempts)
	}

	if out.Embedded == 0 && len(pending) > 0 {
		return EmbeddingOutput{}, pipeline.Outcome{}, conerrors.New(conerrors.ErrCodeEmbeddingFailed, "all embedding batches failed", lastErr)
	}

	// Rebuild graph entries for every embedded chunk. Add upserts, so
	// chunks carried over from an earlier attempt are refreshed rather
	// than duplicated.
	graphIDs := append(doneIDs, newIDs...)
	graphVecs := append(doneVecs, newVecs...)
	if len(graphIDs) > 0 {
		if err := r.vectors.Add(ctx, runID, graphIDs, graphVecs); err != nil {
			return EmbeddingOutput{}, pipeline.Outcome{}, fmt.Errorf("vector index update: %w", err)
		}
		if err := r.vectors.SaveRun(runID); err != nil {
			return EmbeddingOutput{}, pipeline.Outcome{}, fmt.Errorf("vector index save: %w", err)
		}
	}

	slog.Info("embedding_complete",
		slog.String("run_id", runID),
		slog.Int("total_chunks", out.TotalChunks),
		slog.Int("embedded", out.Embedded),
		slog.Int("null_embedded", out.NullEmbedded),
		slog.String("model", out.Model))

	oc := pipeline.Outcome{
		Summary: map[string]any{
			"total_chunks":          out.TotalChunks,
			"embeddings_generated":  out.Embedded,
			"already_embedded":      len(doneIDs),
			"null_embedded":         out.NullEmbedded,
			"failed_batches":        out.FailedBatches,
			"model":                 out.Model,
			"dimensions":            out.Dimensions,
			"batch_size":            out.BatchSize,
			"average_batch_seconds": out.AvgBatchSeconds,
		},
	}
	return out, oc, nil
}
