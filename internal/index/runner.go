package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/partition"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/internal/ui"
)

// Deps holds the collaborators an indexing Runner needs. Keyword and
// Renderer are optional; everything else is required.
type Deps struct {
	// Store is the relational store for runs, documents and chunks.
	Store store.MetadataStore
	// Vectors holds the per-run HNSW graphs.
	Vectors store.VectorStore
	// Keyword receives chunks for keyword search when enabled.
	Keyword store.KeywordIndex
	// Objects stores source PDFs and rendered images.
	Objects objstore.Store
	// Partition analyzes PDFs into structured elements.
	Partition partition.Client
	// VLM captions tables and page renders.
	VLM llm.VlmClient
	// Embedder turns chunk content into vectors.
	Embedder embed.Embedder
	// Config is the effective run configuration.
	Config *config.Config
	// Renderer displays progress. Defaults to a discard renderer.
	Renderer ui.Renderer
}

// Runner executes the indexing pipeline for one run: the per-document
// stages partition, metadata, enrichment and chunking under a worker
// pool, then the run-wide embedding stage.
type Runner struct {
	store    store.MetadataStore
	vectors  store.VectorStore
	keyword  store.KeywordIndex
	objects  objstore.Store
	parts    partition.Client
	vlm      llm.VlmClient
	embedder embed.Embedder
	cfg      *config.Config
	renderer ui.Renderer
	splitter *splitter
}

// NewRunner validates dependencies and builds a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if deps.Partition == nil {
		return nil, fmt.Errorf("partition client is required")
	}
	if deps.VLM == nil {
		return nil, fmt.Errorf("vlm client is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	}
	chunking := deps.Config.Indexing.Chunking
	sp, err := newSplitter(chunking.MaxChunkSize, chunking.Overlap)
	if err != nil {
		return nil, err
	}
	return &Runner{
		store:    deps.Store,
		vectors:  deps.Vectors,
		keyword:  deps.Keyword,
		objects:  deps.Objects,
		parts:    deps.Partition,
		vlm:      deps.VLM,
		embedder: deps.Embedder,
		cfg:      deps.Config,
		renderer: renderer,
		splitter: sp,
	}, nil
}

// Result summarizes a finished run.
type Result struct {
	RunID           string
	Status          store.RunStatus
	Documents       int
	FailedDocuments int
	Chunks          int
	EmbeddedChunks  int
	NullEmbedded    int
	Duration        time.Duration
}

// fingerprints holds the per-stage config fingerprints. Each stage
// folds its upstream fingerprint in, so changing an early stage's
// settings re-executes everything downstream of it on a rerun.
type fingerprints struct {
	partition  string
	metadata   string
	enrichment string
	chunking   string
	embedding  string
}

func (r *Runner) fingerprints() fingerprints {
	var fp fingerprints
	fp.partition = pipeline.Fingerprint(r.cfg.Indexing.Partition)
	// Metadata derives purely from partition output and has no settings
	// of its own.
	fp.metadata = fp.partition
	fp.enrichment = pipeline.Fingerprint(struct {
		Settings enrichmentSettings `json:"settings"`
		Upstream string             `json:"upstream"`
	}{r.enrichmentSettings(), fp.metadata})
	fp.chunking = pipeline.Fingerprint(struct {
		Settings config.ChunkingConfig `json:"settings"`
		Upstream string                `json:"upstream"`
	}{r.cfg.Indexing.Chunking, fp.enrichment})
	fp.embedding = pipeline.Fingerprint(struct {
		Model      string `json:"model"`
		Dimensions int    `json:"dimensions"`
		Upstream   string `json:"upstream"`
	}{r.embedder.ModelName(), r.embedder.Dimensions(), fp.chunking})
	return fp
}

// Run executes the pipeline for an existing run. Document failures are
// recorded and the remaining documents continue; the run fails outright
// on cancellation, store unavailability or a failed embedding stage.
// Completed stages from an earlier interrupted attempt are reused when
// their fingerprint still matches.
func (r *Runner) Run(ctx context.Context, runID string) (*Result, error) {
	started := time.Now()

	if _, err := r.store.GetIndexingRun(ctx, runID); err != nil {
		return nil, err
	}
	if err := r.store.UpdateIndexingRunStatus(ctx, runID, store.RunStatusRunning, ""); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	docs, err := r.store.ListRunDocuments(ctx, runID)
	if err != nil {
		return r.failRun(ctx, runID, started, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err))
	}
	if len(docs) == 0 {
		return r.failRun(ctx, runID, started, conerrors.InvalidInput("run has no documents"))
	}

	if err := r.renderer.Start(ctx); err != nil {
		slog.Warn("renderer_start_failed", slog.String("error", err.Error()))
	}
	defer func() { _ = r.renderer.Stop() }()

	rec, err := pipeline.NewRecorder(r.store, runID)
	if err != nil {
		return r.failRun(ctx, runID, started, err)
	}
	fps := r.fingerprints()

	slog.Info("index_run_started",
		slog.String("run_id", runID),
		slog.Int("documents", len(docs)))

	tracker := pipeline.NewTracker(len(docs)*4, nil)
	progress := func(stage ui.Stage, docName string) {
		tracker.Advance(docName)
		done, total := tracker.Done()
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:           stage,
			Current:         done,
			Total:           total,
			CurrentDocument: docName,
		})
	}

	var mu sync.Mutex
	failures := make(map[string]error)

	// Deliberately not errgroup.WithContext: one document's failure
	// must not cancel its siblings. Only run-fatal errors propagate.
	var g errgroup.Group
	workers := r.cfg.Performance.DocumentWorkers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, doc := range docs {
		g.Go(func() error {
			err := r.processDocument(ctx, rec, fps, doc, progress)
			if err == nil {
				return nil
			}
			if runFatal(err) {
				return err
			}
			mu.Lock()
			failures[doc.ID] = err
			mu.Unlock()
			slog.Warn("document_failed",
				slog.String("run_id", runID),
				slog.String("document", doc.Filename),
				slog.String("error", err.Error()))
			r.renderer.AddError(ui.ErrorEvent{Document: doc.Filename, Err: err})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r.failRun(ctx, runID, started, err)
	}
	if err := ctx.Err(); err != nil {
		return r.failRun(ctx, runID, started, conerrors.Cancelled(err))
	}

	if len(failures) == len(docs) {
		return r.failRun(ctx, runID, started, conerrors.New(conerrors.ErrCodeStageFailed, "all documents failed", nil))
	}

	done, total := tracker.Done()
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageEmbedding,
		Current: done,
		Total:   total,
		Message: "embedding chunks",
	})
	embOut, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageEmbedding, Fingerprint: fps.embedding},
		func(ctx context.Context) (EmbeddingOutput, pipeline.Outcome, error) {
			return r.embedRun(ctx, runID)
		})
	if err != nil {
		return r.failRun(ctx, runID, started, err)
	}

	if r.keyword != nil && r.cfg.Query.Keyword.Enabled {
		r.indexKeywords(ctx, runID)
	}

	totalChunks, embedded, err := r.store.ChunkStats(ctx, runID)
	if err != nil {
		slog.Warn("chunk_stats_unavailable",
			slog.String("run_id", runID), slog.String("error", err.Error()))
		totalChunks = embOut.TotalChunks
		embedded = embOut.TotalChunks - embOut.NullEmbedded
	}

	var messages []string
	if len(failures) > 0 {
		messages = append(messages, fmt.Sprintf("%d of %d documents failed", len(failures), len(docs)))
	}
	if totalChunks == 0 {
		messages = append(messages, "document contained no extractable content")
	}
	if embOut.NullEmbedded > 0 {
		messages = append(messages, fmt.Sprintf("%d chunks not embedded after retry", embOut.NullEmbedded))
	}

	status := store.RunStatusCompleted
	if len(messages) > 0 {
		status = store.RunStatusCompletedWithWarnings
	}
	if err := r.store.UpdateIndexingRunStatus(ctx, runID, status, strings.Join(messages, "; ")); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	duration := time.Since(started)
	r.renderer.Complete(ui.CompletionStats{
		Documents: len(docs) - len(failures),
		Chunks:    totalChunks,
		Duration:  duration,
		Errors:    len(failures),
		Warnings:  len(messages),
		Stages:    r.stageTimings(ctx, runID),
		Embedder: ui.EmbedderInfo{
			Provider:   r.cfg.Indexing.Embedding.Provider,
			Model:      embOut.Model,
			Dimensions: embOut.Dimensions,
		},
	})

	slog.Info("index_complete",
		slog.String("run_id", runID),
		slog.String("status", string(status)),
		slog.Int("documents", len(docs)),
		slog.Int("failed_documents", len(failures)),
		slog.Int("chunks", totalChunks),
		slog.Int("embedded_chunks", embedded),
		slog.Int("null_embedded", embOut.NullEmbedded),
		slog.Duration("duration", duration))

	return &Result{
		RunID:           runID,
		Status:          status,
		Documents:       len(docs),
		FailedDocuments: len(failures),
		Chunks:          totalChunks,
		EmbeddedChunks:  embedded,
		NullEmbedded:    embOut.NullEmbedded,
		Duration:        duration,
	}, nil
}

// processDocument runs the four per-document stages in order. Stage
// errors carry the stage name for the run's failure list.
func (r *Runner) processDocument(ctx context.Context, rec *pipeline.Recorder, fps fingerprints, doc *store.Document, progress func(ui.Stage, string)) error {
	runID := rec.RunID()

	part, err := pipeline.Run(ctx, rec,
		pipeline.Spec{DocumentID: doc.ID, Stage: store.StagePartition, Fingerprint: fps.partition},
		func(ctx context.Context) (PartitionOutput, pipeline.Outcome, error) {
			return r.partitionDocument(ctx, runID, doc)
		})
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	progress(ui.StagePartition, doc.Filename)

	meta, err := pipeline.Run(ctx, rec,
		pipeline.Spec{DocumentID: doc.ID, Stage: store.StageMetadata, Fingerprint: fps.metadata},
		func(ctx context.Context) (MetadataOutput, pipeline.Outcome, error) {
			out, oc := annotateElements(doc.Filename, part)
			return out, oc, nil
		})
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	progress(ui.StageMetadata, doc.Filename)

	enriched, err := pipeline.Run(ctx, rec,
		pipeline.Spec{DocumentID: doc.ID, Stage: store.StageEnrichment, Fingerprint: fps.enrichment},
		func(ctx context.Context) (EnrichmentOutput, pipeline.Outcome, error) {
			return r.enrichDocument(ctx, runID, doc, meta)
		})
	if err != nil {
		return fmt.Errorf("enrichment: %w", err)
	}
	progress(ui.StageEnrichment, doc.Filename)

	if _, err := pipeline.Run(ctx, rec,
		pipeline.Spec{DocumentID: doc.ID, Stage: store.StageChunking, Fingerprint: fps.chunking},
		func(ctx context.Context) (ChunkingOutput, pipeline.Outcome, error) {
			return r.chunkDocument(ctx, runID, doc, enriched)
		}); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	progress(ui.StageChunking, doc.Filename)

	return nil
}

// indexKeywords feeds the run's chunks to the keyword index. Failures
// degrade keyword search only, so they never fail the run.
func (r *Runner) indexKeywords(ctx context.Context, runID string) {
	chunks, err := r.store.ListRunChunks(ctx, runID, false)
	if err != nil {
		slog.Warn("keyword_index_skipped",
			slog.String("run_id", runID), slog.String("error", err.Error()))
		return
	}
	if err := r.keyword.Index(ctx, chunks); err != nil {
		slog.Warn("keyword_index_failed",
			slog.String("run_id", runID), slog.String("error", err.Error()))
	}
}

// stageTimings sums persisted stage durations for the completion view.
// Per-document stages sum across documents, so they can exceed the
// wall-clock duration.
func (r *Runner) stageTimings(ctx context.Context, runID string) ui.StageTimings {
	var timings ui.StageTimings
	results, err := r.store.ListStageResults(ctx, runID)
	if err != nil {
		return timings
	}
	for _, sr := range results {
		d := time.Duration(sr.DurationSeconds * float64(time.Second))
		switch sr.StageName {
		case store.StagePartition:
			timings.Partition += d
		case store.StageMetadata:
			timings.Metadata += d
		case store.StageEnrichment:
			timings.Enrichment += d
		case store.StageChunking:
			timings.Chunking += d
		case store.StageEmbedding:
			timings.Embedding += d
		}
	}
	return timings
}

// failRun marks the run failed and returns the cause. The status write
// uses a detached context so a cancelled run still reaches its terminal
// state.
func (r *Runner) failRun(ctx context.Context, runID string, started time.Time, cause error) (*Result, error) {
	msg := cause.Error()
	if conerrors.IsKind(cause, conerrors.KindCancelled) {
		msg = "cancelled"
	}
	base := context.WithoutCancel(ctx)
	if err := r.store.UpdateIndexingRunStatus(base, runID, store.RunStatusFailed, msg); err != nil {
		slog.Warn("run_failure_not_recorded",
			slog.String("run_id", runID), slog.String("error", err.Error()))
	}
	slog.Error("index_run_failed",
		slog.String("run_id", runID),
		slog.String("error", msg))
	return &Result{RunID: runID, Status: store.RunStatusFailed, Duration: time.Since(started)}, cause
}

// runFatal reports whether a document stage error must fail the whole
// run instead of just the document.
func runFatal(err error) bool {
	return conerrors.IsKind(err, conerrors.KindCancelled) ||
		conerrors.GetCode(err) == conerrors.ErrCodeStoreUnavailable
}
