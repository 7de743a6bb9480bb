// Package pipeline provides the stage execution framework shared by the
// indexing, wiki and checklist pipelines. Every stage persists a result
// row under (run, document, stage), so interrupted runs leave an
// inspectable trail and reruns skip work that already completed under
// the same configuration.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// ResultStore is the stage-result persistence the framework needs.
type ResultStore interface {
	SaveStageResult(ctx context.Context, sr *store.StageResult) error
	GetStageResult(ctx context.Context, runID, documentID, stageName string) (*store.StageResult, error)
}

// Fingerprint returns a stable hash of the config section a stage ran
// under. A rerun skips a completed stage whose fingerprint still matches.
func Fingerprint(section any) string {
	raw, err := json.Marshal(section)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// Spec identifies one stage execution. DocumentID stays empty for
// run-wide stages such as embedding.
type Spec struct {
	DocumentID  string
	Stage       string
	Fingerprint string
}

// Outcome carries the reporting payload of a successful stage. Summary
// lands on the stage row for run inspection; Samples hold a few
// representative outputs for debugging.
type Outcome struct {
	Summary map[string]any
	Samples map[string]any
}

// Recorder persists stage lifecycle rows for one run.
type Recorder struct {
	store ResultStore
	runID string
}

// NewRecorder creates a Recorder bound to a run.
func NewRecorder(st ResultStore, runID string) (*Recorder, error) {
	if st == nil {
		return nil, conerrors.Internal("stage recorder requires a store", nil)
	}
	if runID == "" {
		return nil, conerrors.InvalidInput("stage recorder requires a run id")
	}
	return &Recorder{store: st, runID: runID}, nil
}

// RunID returns the run this recorder writes under.
func (r *Recorder) RunID() string { return r.runID }

// MarkSkipped records a stage that was configured out of the run, so the
// stage trail stays complete even when a stage never executes.
func (r *Recorder) MarkSkipped(ctx context.Context, spec Spec, reason string) error {
	now := time.Now().UTC()
	sr := &store.StageResult{
		RunID:             r.runID,
		DocumentID:        spec.DocumentID,
		StageName:         spec.Stage,
		Status:            store.StageStatusSkipped,
		StartedAt:         now,
		CompletedAt:       &now,
		Summary:           map[string]any{"reason": reason},
		ConfigFingerprint: spec.Fingerprint,
	}
	if err := r.store.SaveStageResult(ctx, sr); err != nil {
		return conerrors.New(conerrors.ErrCodeStoreUnavailable, "failed to record skipped stage", err)
	}
	return nil
}

// Run executes one stage under persistence. A completed result recorded
// with the same fingerprint short-circuits execution and returns its
// decoded Data payload instead. Failures are persisted before they
// propagate.
func Run[T any](ctx context.Context, rec *Recorder, spec Spec, fn func(context.Context) (T, Outcome, error)) (T, error) {
	var zero T

	prior, err := rec.store.GetStageResult(ctx, rec.runID, spec.DocumentID, spec.Stage)
	if err != nil {
		slog.Warn("stage lookup failed, executing anyway",
			slog.String("run_id", rec.runID),
			slog.String("stage", spec.Stage),
			slog.String("error", err.Error()))
	}
	if prior != nil && prior.Status == store.StageStatusCompleted &&
		prior.ConfigFingerprint == spec.Fingerprint && len(prior.Data) > 0 {
		var out T
		if err := json.Unmarshal(prior.Data, &out); err == nil {
			slog.Info("stage skipped, completed result reused",
				slog.String("run_id", rec.runID),
				slog.String("document_id", spec.DocumentID),
				slog.String("stage", spec.Stage))
			return out, nil
		}
		slog.Warn("stage result data unreadable, re-executing",
			slog.String("run_id", rec.runID),
			slog.String("stage", spec.Stage))
	}

	started := time.Now().UTC()
	running := &store.StageResult{
		RunID:             rec.runID,
		DocumentID:        spec.DocumentID,
		StageName:         spec.Stage,
		Status:            store.StageStatusRunning,
		StartedAt:         started,
		ConfigFingerprint: spec.Fingerprint,
	}
	if err := rec.store.SaveStageResult(ctx, running); err != nil {
		slog.Warn("failed to record stage start",
			slog.String("run_id", rec.runID),
			slog.String("stage", spec.Stage),
			slog.String("error", err.Error()))
	}

	out, outcome, runErr := fn(ctx)
	completed := time.Now().UTC()
	duration := completed.Sub(started).Seconds()

	if runErr != nil {
		failed := &store.StageResult{
			RunID:             rec.runID,
			DocumentID:        spec.DocumentID,
			StageName:         spec.Stage,
			Status:            store.StageStatusFailed,
			StartedAt:         started,
			CompletedAt:       &completed,
			DurationSeconds:   duration,
			ErrorMessage:      runErr.Error(),
			ConfigFingerprint: spec.Fingerprint,
		}
		if err := rec.store.SaveStageResult(ctx, failed); err != nil {
			slog.Warn("failed to record stage failure",
				slog.String("run_id", rec.runID),
				slog.String("stage", spec.Stage),
				slog.String("error", err.Error()))
		}
		return zero, runErr
	}

	data, err := json.Marshal(out)
	if err != nil {
		return zero, conerrors.New(conerrors.ErrCodeStageFailed, "stage output not serializable", err)
	}

	done := &store.StageResult{
		RunID:             rec.runID,
		DocumentID:        spec.DocumentID,
		StageName:         spec.Stage,
		Status:            store.StageStatusCompleted,
		StartedAt:         started,
		CompletedAt:       &completed,
		DurationSeconds:   duration,
		Summary:           outcome.Summary,
		SampleOutputs:     outcome.Samples,
		Data:              data,
		ConfigFingerprint: spec.Fingerprint,
	}
	if err := rec.store.SaveStageResult(ctx, done); err != nil {
		return zero, conerrors.New(conerrors.ErrCodeStoreUnavailable, "failed to persist stage result", err)
	}
	return out, nil
}
