package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

type fakeResultStore struct {
	mu       sync.Mutex
	rows     map[string]*store.StageResult
	statuses []store.StageStatus
	failSave func(sr *store.StageResult) error
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{rows: make(map[string]*store.StageResult)}
}

func (f *fakeResultStore) key(runID, docID, stage string) string {
	return runID + "/" + docID + "/" + stage
}

func (f *fakeResultStore) SaveStageResult(_ context.Context, sr *store.StageResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		if err := f.failSave(sr); err != nil {
			return err
		}
	}
	cp := *sr
	f.rows[f.key(sr.RunID, sr.DocumentID, sr.StageName)] = &cp
	f.statuses = append(f.statuses, sr.Status)
	return nil
}

func (f *fakeResultStore) GetStageResult(_ context.Context, runID, docID, stage string) (*store.StageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sr, ok := f.rows[f.key(runID, docID, stage)]
	if !ok {
		return nil, nil
	}
	cp := *sr
	return &cp, nil
}

func (f *fakeResultStore) row(t *testing.T, runID, docID, stage string) *store.StageResult {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	sr, ok := f.rows[f.key(runID, docID, stage)]
	require.True(t, ok, "expected stage result for %s/%s/%s", runID, docID, stage)
	return sr
}

type countOutput struct {
	Count int `json:"count"`
}

func TestRunPersistsRunningThenCompleted(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	spec := Spec{DocumentID: "doc-1", Stage: store.StagePartition, Fingerprint: "fp-1"}
	out, err := Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{Count: 7}, Outcome{
			Summary: map[string]any{"elements": 7},
			Samples: map[string]any{"first": "Fundament detaljer"},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out.Count)

	assert.Equal(t, []store.StageStatus{store.StageStatusRunning, store.StageStatusCompleted}, st.statuses)

	sr := st.row(t, "run-1", "doc-1", store.StagePartition)
	assert.Equal(t, store.StageStatusCompleted, sr.Status)
	assert.JSONEq(t, `{"count":7}`, string(sr.Data))
	assert.Equal(t, map[string]any{"elements": 7}, sr.Summary)
	assert.Equal(t, "fp-1", sr.ConfigFingerprint)
	require.NotNil(t, sr.CompletedAt)
	assert.GreaterOrEqual(t, sr.DurationSeconds, 0.0)
}

func TestRunSkipsCompletedStageWithMatchingFingerprint(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	seeded := &store.StageResult{
		RunID:             "run-1",
		DocumentID:        "doc-1",
		StageName:         store.StageChunking,
		Status:            store.StageStatusCompleted,
		Data:              []byte(`{"count":42}`),
		ConfigFingerprint: "fp-1",
	}
	require.NoError(t, st.SaveStageResult(context.Background(), seeded))
	st.statuses = nil

	called := false
	spec := Spec{DocumentID: "doc-1", Stage: store.StageChunking, Fingerprint: "fp-1"}
	out, err := Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		called = true
		return countOutput{}, Outcome{}, nil
	})
	require.NoError(t, err)
	assert.False(t, called, "stage should not re-execute when fingerprint matches")
	assert.Equal(t, 42, out.Count)
	assert.Empty(t, st.statuses, "skip must not rewrite the completed row")
}

func TestRunReExecutesWhenFingerprintDiffers(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	seeded := &store.StageResult{
		RunID:             "run-1",
		DocumentID:        "doc-1",
		StageName:         store.StageChunking,
		Status:            store.StageStatusCompleted,
		Data:              []byte(`{"count":42}`),
		ConfigFingerprint: "old-fp",
	}
	require.NoError(t, st.SaveStageResult(context.Background(), seeded))

	spec := Spec{DocumentID: "doc-1", Stage: store.StageChunking, Fingerprint: "new-fp"}
	out, err := Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{Count: 5}, Outcome{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Count)

	sr := st.row(t, "run-1", "doc-1", store.StageChunking)
	assert.Equal(t, "new-fp", sr.ConfigFingerprint)
	assert.JSONEq(t, `{"count":5}`, string(sr.Data))
}

func TestRunReExecutesOnUnreadableData(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	seeded := &store.StageResult{
		RunID:             "run-1",
		DocumentID:        "doc-1",
		StageName:         store.StageMetadata,
		Status:            store.StageStatusCompleted,
		Data:              []byte(`{"count":`),
		ConfigFingerprint: "fp-1",
	}
	require.NoError(t, st.SaveStageResult(context.Background(), seeded))

	spec := Spec{DocumentID: "doc-1", Stage: store.StageMetadata, Fingerprint: "fp-1"}
	out, err := Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{Count: 3}, Outcome{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
}

func TestRunPersistsFailureBeforePropagating(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	stageErr := conerrors.Unavailable("partition-service", assert.AnError)
	spec := Spec{DocumentID: "doc-1", Stage: store.StagePartition, Fingerprint: "fp-1"}
	_, err = Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{}, Outcome{}, stageErr
	})
	require.Error(t, err)
	assert.Equal(t, stageErr, err)

	sr := st.row(t, "run-1", "doc-1", store.StagePartition)
	assert.Equal(t, store.StageStatusFailed, sr.Status)
	assert.Contains(t, sr.ErrorMessage, "partition-service")
	assert.Empty(t, sr.Data)
	require.NotNil(t, sr.CompletedAt)
}

func TestRunContinuesWhenRunningRowSaveFails(t *testing.T) {
	st := newFakeResultStore()
	st.failSave = func(sr *store.StageResult) error {
		if sr.Status == store.StageStatusRunning {
			return assert.AnError
		}
		return nil
	}
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	spec := Spec{DocumentID: "doc-1", Stage: store.StageEnrichment, Fingerprint: "fp-1"}
	out, err := Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{Count: 2}, Outcome{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, store.StageStatusCompleted, st.row(t, "run-1", "doc-1", store.StageEnrichment).Status)
}

func TestRunFailsWhenCompletedRowSaveFails(t *testing.T) {
	st := newFakeResultStore()
	st.failSave = func(sr *store.StageResult) error {
		if sr.Status == store.StageStatusCompleted {
			return assert.AnError
		}
		return nil
	}
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	spec := Spec{DocumentID: "doc-1", Stage: store.StageChunking, Fingerprint: "fp-1"}
	_, err = Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{Count: 2}, Outcome{}, nil
	})
	require.Error(t, err)
	assert.Equal(t, conerrors.ErrCodeStoreUnavailable, conerrors.GetCode(err))
}

func TestRunWideStageUsesEmptyDocumentID(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	spec := Spec{Stage: store.StageEmbedding, Fingerprint: "fp-1"}
	_, err = Run(context.Background(), rec, spec, func(context.Context) (countOutput, Outcome, error) {
		return countOutput{Count: 9}, Outcome{}, nil
	})
	require.NoError(t, err)

	sr := st.row(t, "run-1", "", store.StageEmbedding)
	assert.Empty(t, sr.DocumentID)
}

func TestMarkSkippedRecordsReason(t *testing.T) {
	st := newFakeResultStore()
	rec, err := NewRecorder(st, "run-1")
	require.NoError(t, err)

	spec := Spec{Stage: "semantic_clustering", Fingerprint: "fp-1"}
	require.NoError(t, rec.MarkSkipped(context.Background(), spec, "clustering disabled"))

	sr := st.row(t, "run-1", "", "semantic_clustering")
	assert.Equal(t, store.StageStatusSkipped, sr.Status)
	assert.Equal(t, map[string]any{"reason": "clustering disabled"}, sr.Summary)
	require.NotNil(t, sr.CompletedAt)
}

func TestNewRecorderValidates(t *testing.T) {
	_, err := NewRecorder(nil, "run-1")
	require.Error(t, err)

	_, err = NewRecorder(newFakeResultStore(), "")
	require.Error(t, err)
	assert.True(t, conerrors.IsKind(err, conerrors.KindInvalidInput))
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	type section struct {
		ChunkSize int    `json:"chunk_size"`
		Strategy  string `json:"strategy"`
	}

	a := Fingerprint(section{ChunkSize: 1000, Strategy: "element_based"})
	b := Fingerprint(section{ChunkSize: 1000, Strategy: "element_based"})
	c := Fingerprint(section{ChunkSize: 1200, Strategy: "element_based"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
