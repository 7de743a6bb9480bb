// Package wiki generates a browsable project wiki from a completed
// indexing run. Six stages run in order: metadata collection, overview
// generation, semantic clustering, structure generation, page content
// retrieval and markdown generation. Each stage persists a result row
// under the wiki run, and generated pages land in the object store.
package wiki

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// pageChunkLimit caps the chunks kept per wiki page after the union of
// its queries.
const pageChunkLimit = 10

// Retriever is the slice of the search engine wiki generation uses.
type Retriever interface {
	BatchSearch(ctx context.Context, queries []string, opts search.Options) (*search.BatchResults, error)
}

var _ Retriever = (*search.Engine)(nil)

// Deps holds the collaborators a wiki Runner needs. All are required.
type Deps struct {
	// Store is the relational store for runs, chunks and stage rows.
	Store store.MetadataStore
	// Objects receives the generated markdown pages.
	Objects objstore.Store
	// Retriever scopes retrieval to the parent indexing run.
	Retriever Retriever
	// Chat generates overviews, cluster names, structure and pages.
	Chat llm.ChatClient
	// Config is the effective run configuration.
	Config *config.Config
}

// Runner executes the wiki pipeline for one indexing run.
type Runner struct {
	store     store.MetadataStore
	objects   objstore.Store
	retriever Retriever
	chat      llm.ChatClient
	cfg       *config.Config
}

// NewRunner validates dependencies and builds a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if deps.Chat == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &Runner{
		store:     deps.Store,
		objects:   deps.Objects,
		retriever: deps.Retriever,
		chat:      deps.Chat,
		cfg:       deps.Config,
	}, nil
}

// Result summarizes a finished wiki run.
type Result struct {
	WikiRunID     string
	IndexingRunID string
	Status        store.RunStatus
	Language      string
	Pages         []store.WikiPageMeta
	Duration      time.Duration
}

// fingerprints holds the per-stage config fingerprints, chained so a
// changed upstream setting re-executes everything after it when a
// wiki run resumes.
type fingerprints struct {
	collection string
	overview   string
	clustering string
	structure  string
	retrieval  string
	markdown   string
}

func (r *Runner) fingerprints(indexingRunID string) fingerprints {
	var fp fingerprints
	fp.collection = pipeline.Fingerprint(struct {
		IndexingRunID string `json:"indexing_run_id"`
	}{indexingRunID})
	fp.overview = pipeline.Fingerprint(struct {
		QueryCount int    `json:"query_count"`
		Model      string `json:"model"`
		Language   string `json:"language"`
		Upstream   string `json:"upstream"`
	}{r.cfg.Wiki.OverviewQueryCount, r.chatModel(), r.cfg.Wiki.Language, fp.collection})
	fp.clustering = pipeline.Fingerprint(struct {
		Settings config.SemanticClustersConfig `json:"settings"`
		Model    string                        `json:"model"`
		Upstream string                        `json:"upstream"`
	}{r.cfg.Wiki.SemanticClusters, r.chatModel(), fp.overview})
	fp.structure = pipeline.Fingerprint(struct {
		Settings config.WikiGenerationConfig `json:"settings"`
		Model    string                      `json:"model"`
		Upstream string                      `json:"upstream"`
	}{r.cfg.Wiki.Generation, r.chatModel(), fp.clustering})
	fp.retrieval = pipeline.Fingerprint(struct {
		ChunkLimit int    `json:"chunk_limit"`
		Upstream   string `json:"upstream"`
	}{pageChunkLimit, fp.structure})
	fp.markdown = pipeline.Fingerprint(struct {
		Model    string `json:"model"`
		Upstream string `json:"upstream"`
	}{r.chatModel(), fp.retrieval})
	return fp
}

// chatModel resolves the model for wiki generation calls.
func (r *Runner) chatModel() string {
	if r.cfg.Wiki.Model != "" {
		return r.cfg.Wiki.Model
	}
	return r.cfg.Services.LLM.Model
}

// language resolves the output language: an explicit wiki.language
// setting wins, then the language detected from the chunk sample, then
// the global default.
func (r *Runner) language(detected string) string {
	if r.cfg.Wiki.Language != "" {
		return r.cfg.Wiki.Language
	}
	if detected != "" {
		return detected
	}
	return r.cfg.Defaults.Language
}

// Run generates a wiki for a completed indexing run. It creates the
// wiki run row, drives the six stages and records the page metadata on
// success. The parent run must have finished with at least a warning
// level completion; anything else is refused.
func (r *Runner) Run(ctx context.Context, indexingRunID string) (*Result, error) {
	started := time.Now()

	parent, err := r.store.GetIndexingRun(ctx, indexingRunID)
	if err != nil {
		return nil, err
	}
	if !parentReady(parent.Status) {
		return nil, conerrors.InvalidInput(fmt.Sprintf(
			"indexing run %s is %s, wiki generation requires a completed run", indexingRunID, parent.Status))
	}

	run := &store.WikiRun{
		ID:            uuid.NewString(),
		IndexingRunID: indexingRunID,
		Status:        store.RunStatusPending,
		Model:         r.chatModel(),
		StartedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateWikiRun(ctx, run); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}
	if err := r.store.UpdateWikiRunStatus(ctx, run.ID, store.RunStatusRunning, ""); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	rec, err := pipeline.NewRecorder(r.store, run.ID)
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}
	fps := r.fingerprints(indexingRunID)

	slog.Info("wiki_run_started",
		slog.String("wiki_run_id", run.ID),
		slog.String("indexing_run_id", indexingRunID))

	coll, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageWikiCollection, Fingerprint: fps.collection},
		func(ctx context.Context) (CollectionOutput, pipeline.Outcome, error) {
			return r.collectMetadata(ctx, indexingRunID)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}

	language := r.language(coll.DetectedLanguage)

	overview, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageWikiOverview, Fingerprint: fps.overview},
		func(ctx context.Context) (OverviewOutput, pipeline.Outcome, error) {
			return r.generateOverview(ctx, indexingRunID, language, coll)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}

	var clusters ClusteringOutput
	if r.cfg.Wiki.SemanticClusters.Enabled {
		clusters, err = pipeline.Run(ctx, rec,
			pipeline.Spec{Stage: store.StageWikiClustering, Fingerprint: fps.clustering},
			func(ctx context.Context) (ClusteringOutput, pipeline.Outcome, error) {
				return r.clusterChunks(ctx, indexingRunID, language)
			})
		if err != nil {
			return r.failRun(ctx, run.ID, indexingRunID, started, err)
		}
	} else {
		if err := rec.MarkSkipped(ctx,
			pipeline.Spec{Stage: store.StageWikiClustering, Fingerprint: fps.clustering},
			"semantic clustering disabled"); err != nil {
			return r.failRun(ctx, run.ID, indexingRunID, started, err)
		}
	}

	structure, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageWikiStructure, Fingerprint: fps.structure},
		func(ctx context.Context) (StructureOutput, pipeline.Outcome, error) {
			return r.generateStructure(ctx, language, coll, overview, clusters)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}

	contents, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageWikiRetrieval, Fingerprint: fps.retrieval},
		func(ctx context.Context) (RetrievalOutput, pipeline.Outcome, error) {
			return r.retrievePages(ctx, indexingRunID, language, structure)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}

	rendered, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageWikiMarkdown, Fingerprint: fps.markdown},
		func(ctx context.Context) (MarkdownOutput, pipeline.Outcome, error) {
			return r.renderPages(ctx, run.ID, language, structure, contents)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}

	if err := r.store.SetWikiRunPages(ctx, run.ID, language, rendered.Pages); err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started,
			conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err))
	}
	if err := r.store.UpdateWikiRunStatus(ctx, run.ID, store.RunStatusCompleted, ""); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	duration := time.Since(started)
	slog.Info("wiki_complete",
		slog.String("wiki_run_id", run.ID),
		slog.String("indexing_run_id", indexingRunID),
		slog.String("language", language),
		slog.Int("pages", len(rendered.Pages)),
		slog.Duration("duration", duration))

	return &Result{
		WikiRunID:     run.ID,
		IndexingRunID: indexingRunID,
		Status:        store.RunStatusCompleted,
		Language:      language,
		Pages:         rendered.Pages,
		Duration:      duration,
	}, nil
}

// failRun marks the wiki run failed and returns the cause. The status
// write uses a detached context so a cancelled run still reaches its
// terminal state.
func (r *Runner) failRun(ctx context.Context, wikiRunID, indexingRunID string, started time.Time, cause error) (*Result, error) {
	msg := cause.Error()
	if conerrors.IsKind(cause, conerrors.KindCancelled) {
		msg = "cancelled"
	}
	base := context.WithoutCancel(ctx)
	if err := r.store.UpdateWikiRunStatus(base, wikiRunID, store.RunStatusFailed, msg); err != nil {
		slog.Warn("wiki_failure_not_recorded",
			slog.String("wiki_run_id", wikiRunID), slog.String("error", err.Error()))
	}
	slog.Error("wiki_run_failed",
		slog.String("wiki_run_id", wikiRunID),
		slog.String("error", msg))
	return &Result{
		WikiRunID:     wikiRunID,
		IndexingRunID: indexingRunID,
		Status:        store.RunStatusFailed,
		Duration:      time.Since(started),
	}, cause
}

// parentReady reports whether an indexing run can feed wiki generation.
func parentReady(status store.RunStatus) bool {
	return status == store.RunStatusCompleted || status == store.RunStatusCompletedWithWarnings
}
