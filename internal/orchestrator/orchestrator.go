// Package orchestrator dispatches pipeline jobs. Each job drives one
// run of the indexing, wiki or checklist pipeline under a per-run file
// lock, then notifies webhook consumers of the terminal status. Run
// chaining (auto wiki after indexing) happens here, not inside the
// pipelines.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/checklist"
	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/index"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/internal/wiki"
)

// JobKind names the pipeline a job drives.
type JobKind string

const (
	JobIndexing  JobKind = "indexing"
	JobWiki      JobKind = "wiki"
	JobChecklist JobKind = "checklist"
)

// Job is one pipeline execution request. RunID names the indexing run:
// for indexing jobs the run to drive (already created by ingest), for
// wiki and checklist jobs the parent corpus run.
type Job struct {
	Kind  JobKind
	RunID string
	// ChecklistName and Checklist feed checklist jobs and are ignored
	// otherwise.
	ChecklistName string
	Checklist     string
}

func (j Job) validate() error {
	switch j.Kind {
	case JobIndexing, JobWiki, JobChecklist:
	default:
		return conerrors.InvalidInput(fmt.Sprintf("unknown job kind %q", j.Kind))
	}
	if j.RunID == "" {
		return conerrors.InvalidInput("job requires a run id")
	}
	return nil
}

// Outcome reports a dispatched job's terminal state. RunID is the run
// the job created (wiki or analysis run) or drove (indexing run).
type Outcome struct {
	Kind     JobKind
	RunID    string
	Status   store.RunStatus
	Duration time.Duration
}

// IndexRunner drives the five-stage indexing pipeline for a run.
type IndexRunner interface {
	Run(ctx context.Context, runID string) (*index.Result, error)
}

// WikiRunner generates a wiki from a completed indexing run.
type WikiRunner interface {
	Run(ctx context.Context, indexingRunID string) (*wiki.Result, error)
}

// ChecklistRunner analyzes a checklist against a completed indexing
// run.
type ChecklistRunner interface {
	Run(ctx context.Context, indexingRunID, checklistName, rawChecklist string) (*checklist.Result, error)
}

var (
	_ IndexRunner     = (*index.Runner)(nil)
	_ WikiRunner      = (*wiki.Runner)(nil)
	_ ChecklistRunner = (*checklist.Runner)(nil)
)

// Deps holds the collaborators an Orchestrator needs. All are required.
type Deps struct {
	Index     IndexRunner
	Wiki      WikiRunner
	Checklist ChecklistRunner
	Config    *config.Config
	// LockDir holds the per-run flock files, normally
	// config.LockDir(root).
	LockDir string
}

// Orchestrator serializes and dispatches pipeline jobs.
type Orchestrator struct {
	index     IndexRunner
	wiki      WikiRunner
	checklist ChecklistRunner
	cfg       *config.Config
	locks     *lockManager
	webhooks  *Notifier
}

// NewOrchestrator validates dependencies and builds an Orchestrator.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Index == nil {
		return nil, fmt.Errorf("index runner is required")
	}
	if deps.Wiki == nil {
		return nil, fmt.Errorf("wiki runner is required")
	}
	if deps.Checklist == nil {
		return nil, fmt.Errorf("checklist runner is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.LockDir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}

	o := &Orchestrator{
		index:     deps.Index,
		wiki:      deps.Wiki,
		checklist: deps.Checklist,
		cfg:       deps.Config,
		locks:     newLockManager(deps.LockDir),
	}
	if urls := deps.Config.Orchestrator.WebhookURLs; len(urls) > 0 {
		timeout := time.Duration(deps.Config.Orchestrator.WebhookTimeoutSeconds) * time.Second
		o.webhooks = NewNotifier(urls, timeout)
	}
	return o, nil
}

// Dispatch runs one job to completion. The job's run is locked for the
// duration; a second job of the same kind on the same run conflicts.
// Webhook consumers are notified of the terminal status either way, and
// a completed indexing job chains a wiki job when auto wiki is on.
func (o *Orchestrator) Dispatch(ctx context.Context, job Job) (*Outcome, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	release, err := o.locks.acquire(job.Kind, job.RunID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	slog.Info("job_dispatched",
		slog.String("kind", string(job.Kind)),
		slog.String("run_id", job.RunID))

	runID, status, runErr := o.execute(ctx, job)
	if runID == "" {
		runID = job.RunID
	}
	if status == "" {
		status = store.RunStatusFailed
	}
	o.notify(ctx, job.Kind, runID, status)

	outcome := &Outcome{
		Kind:     job.Kind,
		RunID:    runID,
		Status:   status,
		Duration: time.Since(started),
	}
	if runErr != nil {
		return outcome, runErr
	}

	if job.Kind == JobIndexing && o.cfg.Orchestrator.AutoWiki && succeeded(status) {
		if _, err := o.Dispatch(ctx, Job{Kind: JobWiki, RunID: job.RunID}); err != nil {
			slog.Warn("auto_wiki_failed",
				slog.String("indexing_run_id", job.RunID),
				slog.String("error", err.Error()))
		}
	}
	return outcome, nil
}

func (o *Orchestrator) execute(ctx context.Context, job Job) (string, store.RunStatus, error) {
	switch job.Kind {
	case JobWiki:
		res, err := o.wiki.Run(ctx, job.RunID)
		if res != nil {
			return res.WikiRunID, res.Status, err
		}
		return "", "", err
	case JobChecklist:
		res, err := o.checklist.Run(ctx, job.RunID, job.ChecklistName, job.Checklist)
		if res != nil {
			return res.AnalysisRunID, res.Status, err
		}
		return "", "", err
	default:
		res, err := o.index.Run(ctx, job.RunID)
		if res != nil {
			return res.RunID, res.Status, err
		}
		return "", "", err
	}
}

// notify fires webhooks on a context that survives cancellation, so
// consumers still learn about cancelled runs.
func (o *Orchestrator) notify(ctx context.Context, kind JobKind, runID string, status store.RunStatus) {
	if o.webhooks == nil {
		return
	}
	event := string(kind) + "_failed"
	if succeeded(status) {
		event = string(kind) + "_completed"
	}
	o.webhooks.Notify(context.WithoutCancel(ctx), Event{
		Event:     event,
		RunID:     runID,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	})
}

func succeeded(status store.RunStatus) bool {
	return status == store.RunStatusCompleted || status == store.RunStatusCompletedWithWarnings
}
