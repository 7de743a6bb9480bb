// Package checklist analyzes a quality or tender checklist against an
// indexed document corpus. Four stages run in order: checklist parsing
// with query generation, batch retrieval, free-form analysis and
// structuring into one persisted finding per checklist item. Progress
// lands on the run row after every stage.
package checklist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// totalStages is the fixed stage count reported in run progress.
const totalStages = 4

// Retriever is the slice of the search engine checklist analysis uses.
type Retriever interface {
	BatchSearch(ctx context.Context, queries []string, opts search.Options) (*search.BatchResults, error)
}

var _ Retriever = (*search.Engine)(nil)

// Deps holds the collaborators a checklist Runner needs. All are
// required.
type Deps struct {
	Store     store.MetadataStore
	Retriever Retriever
	Chat      llm.ChatClient
	Config    *config.Config
}

// Runner executes the checklist pipeline for one indexing run.
type Runner struct {
	store     store.MetadataStore
	retriever Retriever
	chat      llm.ChatClient
	cfg       *config.Config
}

// NewRunner validates dependencies and builds a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
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
		retriever: deps.Retriever,
		chat:      deps.Chat,
		cfg:       deps.Config,
	}, nil
}

// Result summarizes a finished checklist analysis.
type Result struct {
	AnalysisRunID string
	IndexingRunID string
	Status        store.RunStatus
	Items         int
	Results       []store.ChecklistResult
	Duration      time.Duration
}

// fingerprints holds the chained per-stage config fingerprints.
type fingerprints struct {
	parsing    string
	retrieval  string
	analysis   string
	formatting string
}

func (r *Runner) fingerprints(rawChecklist string) fingerprints {
	var fp fingerprints
	fp.parsing = pipeline.Fingerprint(struct {
		Model     string `json:"model"`
		Language  string `json:"language"`
		Checklist string `json:"checklist"`
	}{r.chatModel(), r.language(), rawChecklist})
	fp.retrieval = pipeline.Fingerprint(struct {
		Upstream string `json:"upstream"`
	}{fp.parsing})
	fp.analysis = pipeline.Fingerprint(struct {
		Model    string `json:"model"`
		Language string `json:"language"`
		Upstream string `json:"upstream"`
	}{r.chatModel(), r.language(), fp.retrieval})
	fp.formatting = pipeline.Fingerprint(struct {
		Model    string `json:"model"`
		Upstream string `json:"upstream"`
	}{r.chatModel(), fp.analysis})
	return fp
}

// chatModel resolves the model for checklist calls.
func (r *Runner) chatModel() string {
	if r.cfg.Checklist.Model != "" {
		return r.cfg.Checklist.Model
	}
	return r.cfg.Services.LLM.Model
}

// language is the configured output language.
func (r *Runner) language() string {
	return r.cfg.Defaults.Language
}

// Run analyzes rawChecklist against a completed indexing run. It
// creates the analysis run row, drives the four stages with progress
// updates and persists one finding per parsed item.
func (r *Runner) Run(ctx context.Context, indexingRunID, checklistName, rawChecklist string) (*Result, error) {
	started := time.Now()

	if rawChecklist == "" {
		return nil, conerrors.InvalidInput("checklist content is empty")
	}
	parent, err := r.store.GetIndexingRun(ctx, indexingRunID)
	if err != nil {
		return nil, err
	}
	if !parentReady(parent.Status) {
		return nil, conerrors.InvalidInput(fmt.Sprintf(
			"indexing run %s is %s, checklist analysis requires a completed run", indexingRunID, parent.Status))
	}

	run := &store.ChecklistRun{
		ID:            uuid.NewString(),
		IndexingRunID: indexingRunID,
		ChecklistName: checklistName,
		ModelName:     r.chatModel(),
		Status:        store.RunStatusPending,
		ProgressTotal: totalStages,
		StartedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateChecklistRun(ctx, run); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}
	if err := r.store.UpdateChecklistRunStatus(ctx, run.ID, store.RunStatusRunning, ""); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	rec, err := pipeline.NewRecorder(r.store, run.ID)
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}
	fps := r.fingerprints(rawChecklist)
	language := r.language()

	slog.Info("checklist_run_started",
		slog.String("analysis_run_id", run.ID),
		slog.String("indexing_run_id", indexingRunID),
		slog.String("checklist", checklistName))

	parsed, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageChecklistParsing, Fingerprint: fps.parsing},
		func(ctx context.Context) (ParseOutput, pipeline.Outcome, error) {
			return r.parseChecklist(ctx, language, rawChecklist)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}
	r.advance(ctx, run.ID, 1)

	retrieved, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageChecklistRetrieval, Fingerprint: fps.retrieval},
		func(ctx context.Context) (RetrievalOutput, pipeline.Outcome, error) {
			return r.retrieveEvidence(ctx, indexingRunID, language, parsed)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}
	r.advance(ctx, run.ID, 2)

	analysis, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageChecklistAnalysis, Fingerprint: fps.analysis},
		func(ctx context.Context) (AnalysisOutput, pipeline.Outcome, error) {
			return r.analyzeEvidence(ctx, language, parsed, retrieved)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}
	r.advance(ctx, run.ID, 3)

	structured, err := pipeline.Run(ctx, rec,
		pipeline.Spec{Stage: store.StageChecklistFormatting, Fingerprint: fps.formatting},
		func(ctx context.Context) (StructuringOutput, pipeline.Outcome, error) {
			return r.structureFindings(ctx, run.ID, language, parsed, retrieved, analysis)
		})
	if err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started, err)
	}
	r.advance(ctx, run.ID, totalStages)

	if err := r.store.SetChecklistResults(ctx, run.ID, analysis.RawAnalysis, structured.Results); err != nil {
		return r.failRun(ctx, run.ID, indexingRunID, started,
			conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err))
	}
	if err := r.store.UpdateChecklistRunStatus(ctx, run.ID, store.RunStatusCompleted, ""); err != nil {
		return nil, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}

	duration := time.Since(started)
	slog.Info("checklist_complete",
		slog.String("analysis_run_id", run.ID),
		slog.String("indexing_run_id", indexingRunID),
		slog.Int("items", len(parsed.Items)),
		slog.Int("results", len(structured.Results)),
		slog.Duration("duration", duration))

	return &Result{
		AnalysisRunID: run.ID,
		IndexingRunID: indexingRunID,
		Status:        store.RunStatusCompleted,
		Items:         len(parsed.Items),
		Results:       structured.Results,
		Duration:      duration,
	}, nil
}

// advance records stage progress on the run row. Bookkeeping failures
// are logged, not fatal.
func (r *Runner) advance(ctx context.Context, runID string, done int) {
	if err := r.store.UpdateChecklistProgress(ctx, runID, done, totalStages); err != nil {
		slog.Warn("checklist_progress_not_recorded",
			slog.String("analysis_run_id", runID), slog.String("error", err.Error()))
	}
}

// failRun marks the analysis run failed and returns the cause.
func (r *Runner) failRun(ctx context.Context, runID, indexingRunID string, started time.Time, cause error) (*Result, error) {
	msg := cause.Error()
	if conerrors.IsKind(cause, conerrors.KindCancelled) {
		msg = "cancelled"
	}
	base := context.WithoutCancel(ctx)
	if err := r.store.UpdateChecklistRunStatus(base, runID, store.RunStatusFailed, msg); err != nil {
		slog.Warn("checklist_failure_not_recorded",
			slog.String("analysis_run_id", runID), slog.String("error", err.Error()))
	}
	slog.Error("checklist_run_failed",
		slog.String("analysis_run_id", runID),
		slog.String("error", msg))
	return &Result{
		AnalysisRunID: runID,
		IndexingRunID: indexingRunID,
		Status:        store.RunStatusFailed,
		Duration:      time.Since(started),
	}, cause
}

// parentReady reports whether an indexing run can feed checklist
// analysis.
func parentReady(status store.RunStatus) bool {
	return status == store.RunStatusCompleted || status == store.RunStatusCompletedWithWarnings
}
