package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexingRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &IndexingRun{
		ID:             "run-1",
		UploadKind:     UploadKindEmail,
		UploadID:       "batch-7",
		ConfigSnapshot: json.RawMessage(`{"defaults":{"language":"danish"}}`),
	}
	require.NoError(t, s.CreateIndexingRun(ctx, run))

	got, err := s.GetIndexingRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, AccessPrivate, got.AccessLevel)
	assert.Equal(t, UploadKindEmail, got.UploadKind)
	assert.JSONEq(t, `{"defaults":{"language":"danish"}}`, string(got.ConfigSnapshot))
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateIndexingRunStatus(ctx, "run-1", RunStatusRunning, ""))
	got, err = s.GetIndexingRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateIndexingRunStatus(ctx, "run-1", RunStatusCompletedWithWarnings, ""))
	got, err = s.GetIndexingRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	require.NotNil(t, got.CompletedAt)
}

func TestGetIndexingRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetIndexingRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))
}

func TestLatestIndexingRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &IndexingRun{
			ID:         id,
			UploadKind: UploadKindProject,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateIndexingRun(ctx, run))
	}

	latest, err := s.LatestIndexingRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-c", latest.ID)

	runs, err := s.ListIndexingRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
}

func TestDocumentsAndLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))

	doc := &Document{
		ID:       "doc-1",
		Filename: "foundation-plan.pdf",
		FilePath: "runs/run-1/documents/doc-1/foundation-plan.pdf",
		FileSize: 2048,
		Checksum: "abc123",
	}
	require.NoError(t, s.SaveDocument(ctx, doc))
	require.NoError(t, s.LinkDocument(ctx, "run-1", "doc-1"))
	// Linking twice is harmless.
	require.NoError(t, s.LinkDocument(ctx, "run-1", "doc-1"))

	found, err := s.FindDocumentByChecksum(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "doc-1", found.ID)

	missing, err := s.FindDocumentByChecksum(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateDocumentPages(ctx, "doc-1", 42))
	docs, err := s.ListRunDocuments(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 42, docs[0].PageCount)
}

func TestChunksAndEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))

	chunks := []*Chunk{
		{
			ID: "chunk-1", DocumentID: "doc-1", IndexingRunID: "run-1", Ordinal: 0,
			Content: "Betonfundament udføres i miljøklasse aggressiv.",
			Metadata: ChunkMetadata{
				PageNumber:      3,
				ElementCategory: CategoryNarrativeText,
				SourceFilename:  "foundation-plan.pdf",
				SectionTitle:    "Fundering",
			},
		},
		{
			ID: "chunk-2", DocumentID: "doc-1", IndexingRunID: "run-1", Ordinal: 1,
			Content: "Armeringsjern Y12 pr. 150 mm.",
			Metadata: ChunkMetadata{
				PageNumber:      4,
				ElementCategory: CategoryTable,
				SourceFilename:  "foundation-plan.pdf",
			},
		},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	total, embedded, err := s.ChunkStats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 0, embedded)

	emb := make([]float32, EmbeddingDimensions)
	emb[0] = 0.5
	emb[1023] = -0.25
	require.NoError(t, s.SaveChunkEmbeddings(ctx, []string{"chunk-1"}, [][]float32{emb}))

	got, err := s.GetChunk(ctx, "chunk-1")
	require.NoError(t, err)
	assert.True(t, got.Embedded())
	assert.InDelta(t, 0.5, got.Embedding[0], 1e-6)
	assert.InDelta(t, -0.25, got.Embedding[1023], 1e-6)
	assert.Equal(t, CategoryNarrativeText, got.Metadata.ElementCategory)
	assert.Equal(t, "Fundering", got.Metadata.SectionTitle)

	pending, err := s.ListRunChunks(ctx, "run-1", true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "chunk-1", pending[0].ID)

	// Order in GetChunks follows the caller, not the table.
	ordered, err := s.GetChunks(ctx, []string{"chunk-2", "chunk-1"})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "chunk-2", ordered[0].ID)
	assert.Equal(t, "chunk-1", ordered[1].ID)
}

func TestSaveChunksReplacesReplayedOrdinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "chunk-old", DocumentID: "doc-1", IndexingRunID: "run-1", Ordinal: 0, Content: "første version"},
	}))

	// A retried pipeline writes the same ordinal under a fresh ID.
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "chunk-new", DocumentID: "doc-1", IndexingRunID: "run-1", Ordinal: 0, Content: "anden version"},
	}))

	total, _, err := s.ChunkStats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	got, err := s.GetChunk(ctx, "chunk-new")
	require.NoError(t, err)
	assert.Equal(t, "anden version", got.Content)

	_, err = s.GetChunk(ctx, "chunk-old")
	require.Error(t, err)
	assert.True(t, conerrors.IsKind(err, conerrors.KindNotFound))
}

func TestDeleteDocumentChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "chunk-1", DocumentID: "doc-1", IndexingRunID: "run-1", Ordinal: 0, Content: "a"},
		{ID: "chunk-2", DocumentID: "doc-1", IndexingRunID: "run-1", Ordinal: 1, Content: "b"},
		{ID: "chunk-3", DocumentID: "doc-2", IndexingRunID: "run-1", Ordinal: 0, Content: "c"},
	}))

	ids, err := s.DeleteDocumentChunks(ctx, "run-1", "doc-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chunk-1", "chunk-2"}, ids)

	total, _, err := s.ChunkStats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// Deleting an untouched document is a no-op.
	ids, err = s.DeleteDocumentChunks(ctx, "run-1", "doc-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSaveChunkEmbeddingsDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "chunk-1", DocumentID: "doc-1", IndexingRunID: "run-1", Content: "x"},
	}))

	err := s.SaveChunkEmbeddings(ctx, []string{"chunk-1"}, [][]float32{{1, 2, 3}})
	require.Error(t, err)
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, EmbeddingDimensions, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Got)
}

func TestStageResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-30 * time.Second)
	completed := time.Now()
	sr := &StageResult{
		RunID:             "run-1",
		DocumentID:        "doc-1",
		StageName:         StagePartition,
		Status:            StageStatusCompleted,
		StartedAt:         started,
		CompletedAt:       &completed,
		DurationSeconds:   30.5,
		Summary:           map[string]any{"text_elements": float64(120), "table_elements": float64(4)},
		SampleOutputs:     map[string]any{"first_title": "Fundering"},
		Data:              json.RawMessage(`{"elements":[]}`),
		ConfigFingerprint: "fp-1",
	}
	require.NoError(t, s.SaveStageResult(ctx, sr))

	got, err := s.GetStageResult(ctx, "run-1", "doc-1", StagePartition)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StageStatusCompleted, got.Status)
	assert.Equal(t, float64(120), got.Summary["text_elements"])
	assert.JSONEq(t, `{"elements":[]}`, string(got.Data))
	assert.Equal(t, "fp-1", got.ConfigFingerprint)

	// Absent stage result is nil, not an error; rerun checks rely on it.
	none, err := s.GetStageResult(ctx, "run-1", "doc-1", StageChunking)
	require.NoError(t, err)
	assert.Nil(t, none)

	// Re-running a stage overwrites the previous row.
	sr.Status = StageStatusFailed
	sr.ErrorMessage = "partition timed out"
	require.NoError(t, s.SaveStageResult(ctx, sr))

	got, err = s.GetStageResult(ctx, "run-1", "doc-1", StagePartition)
	require.NoError(t, err)
	assert.Equal(t, StageStatusFailed, got.Status)
	assert.Equal(t, "partition timed out", got.ErrorMessage)

	// Run-scoped stages use an empty document ID.
	runScoped := &StageResult{
		RunID:     "run-1",
		StageName: StageEmbedding,
		Status:    StageStatusRunning,
		StartedAt: time.Now(),
	}
	require.NoError(t, s.SaveStageResult(ctx, runScoped))

	all, err := s.ListStageResults(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWikiRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.CreateWikiRun(ctx, &WikiRun{ID: "wiki-1", IndexingRunID: "run-1"}))

	pages := []WikiPageMeta{
		{ID: "oversigt", Order: 1, Title: "Projektoversigt", Description: "Overblik over byggesagen", Filename: "page-1.md", StorageKey: "wiki/wiki-1/page-1.md"},
		{ID: "fundering", Order: 2, Title: "Fundering", Filename: "page-2.md", StorageKey: "wiki/wiki-1/page-2.md"},
	}
	require.NoError(t, s.SetWikiRunPages(ctx, "wiki-1", "danish", pages))
	require.NoError(t, s.UpdateWikiRunStatus(ctx, "wiki-1", RunStatusCompleted, ""))

	got, err := s.GetWikiRun(ctx, "wiki-1")
	require.NoError(t, err)
	assert.Equal(t, "danish", got.Language)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, "oversigt", got.Pages[0].ID)
	assert.Equal(t, "Projektoversigt", got.Pages[0].Title)
	assert.Equal(t, "Overblik over byggesagen", got.Pages[0].Description)
	require.NotNil(t, got.CompletedAt)

	latest, err := s.LatestWikiRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wiki-1", latest.ID)
}

func TestChecklistRunsAndResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.CreateChecklistRun(ctx, &ChecklistRun{
		ID: "check-1", IndexingRunID: "run-1", ChecklistName: "fire-safety", ModelName: "test-model",
	}))

	require.NoError(t, s.UpdateChecklistProgress(ctx, "check-1", 3, 7))
	run, err := s.GetChecklistRun(ctx, "check-1")
	require.NoError(t, err)
	assert.Equal(t, 3, run.ProgressDone)
	assert.Equal(t, 7, run.ProgressTotal)

	results := []ChecklistResult{
		{
			ID: "res-1", AnalysisRunID: "check-1", ItemID: "1.1", ItemName: "Brandmodstand",
			Status: ChecklistFound, ConfidenceScore: 0.9,
			PrimarySource: &SourceRef{DocumentName: "plan.pdf", PageNumber: 12, Similarity: 0.81, Excerpt: "REI 60"},
			Sources:       []SourceRef{{DocumentName: "plan.pdf", PageNumber: 12, Similarity: 0.81, Excerpt: "REI 60"}},
		},
		{
			ID: "res-2", AnalysisRunID: "check-1", ItemID: "1.2", ItemName: "Flugtveje",
			Status: ChecklistMissing,
		},
	}
	require.NoError(t, s.SetChecklistResults(ctx, "check-1", "raw analysis text", results))

	got, err := s.ListChecklistResults(ctx, "check-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ChecklistFound, got[0].Status)
	require.NotNil(t, got[0].PrimarySource)
	assert.Equal(t, "plan.pdf", got[0].PrimarySource.DocumentName)
	assert.Equal(t, "REI 60", got[0].PrimarySource.Excerpt)
	require.Len(t, got[0].Sources, 1)
	assert.Equal(t, 12, got[0].Sources[0].PageNumber)
	assert.Nil(t, got[1].PrimarySource)
	assert.Empty(t, got[1].Sources)

	run, err = s.GetChecklistRun(ctx, "check-1")
	require.NoError(t, err)
	assert.Equal(t, "raw analysis text", run.RawAnalysis)

	// A second write replaces, never appends.
	require.NoError(t, s.SetChecklistResults(ctx, "check-1", "second pass", results[:1]))
	got, err = s.ListChecklistResults(ctx, "check-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteIndexingRunCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: "doc-1", Filename: "a.pdf", FilePath: "a"}))
	require.NoError(t, s.LinkDocument(ctx, "run-1", "doc-1"))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "chunk-1", DocumentID: "doc-1", IndexingRunID: "run-1", Content: "x"},
	}))
	require.NoError(t, s.SaveStageResult(ctx, &StageResult{
		RunID: "run-1", DocumentID: "doc-1", StageName: StagePartition,
		Status: StageStatusCompleted, StartedAt: time.Now(),
	}))
	require.NoError(t, s.CreateWikiRun(ctx, &WikiRun{ID: "wiki-1", IndexingRunID: "run-1"}))
	require.NoError(t, s.SaveStageResult(ctx, &StageResult{
		RunID: "wiki-1", StageName: StageWikiOverview,
		Status: StageStatusCompleted, StartedAt: time.Now(),
	}))
	require.NoError(t, s.CreateChecklistRun(ctx, &ChecklistRun{ID: "check-9", IndexingRunID: "run-1"}))
	require.NoError(t, s.SetChecklistResults(ctx, "check-9", "raw", []ChecklistResult{
		{ID: "res-9", AnalysisRunID: "check-9", ItemID: "1.1", ItemName: "Brandmodstand", Status: ChecklistFound},
	}))

	require.NoError(t, s.DeleteIndexingRun(ctx, "run-1"))

	_, err := s.GetIndexingRun(ctx, "run-1")
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))

	_, err = s.GetChunk(ctx, "chunk-1")
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))

	_, err = s.GetWikiRun(ctx, "wiki-1")
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))

	_, err = s.GetChecklistRun(ctx, "check-9")
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))

	results, err := s.ListChecklistResults(ctx, "check-9")
	require.NoError(t, err)
	assert.Empty(t, results)

	srs, err := s.ListStageResults(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, srs)

	srs, err = s.ListStageResults(ctx, "wiki-1")
	require.NoError(t, err)
	assert.Empty(t, srs)

	// Orphaned document rows go with the run.
	_, err = s.GetDocument(ctx, "doc-1")
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))
}

func TestDeleteIndexingRunKeepsSharedDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-1", UploadKind: UploadKindProject}))
	require.NoError(t, s.CreateIndexingRun(ctx, &IndexingRun{ID: "run-2", UploadKind: UploadKindProject}))
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: "doc-1", Filename: "a.pdf", FilePath: "a"}))
	require.NoError(t, s.LinkDocument(ctx, "run-1", "doc-1"))
	require.NoError(t, s.LinkDocument(ctx, "run-2", "doc-1"))

	require.NoError(t, s.DeleteIndexingRun(ctx, "run-1"))

	// Still referenced by run-2, so the document survives.
	doc, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", doc.Filename)

	require.NoError(t, s.DeleteIndexingRun(ctx, "run-2"))

	_, err = s.GetDocument(ctx, "doc-1")
	assert.Equal(t, conerrors.KindNotFound, conerrors.GetKind(err))
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	decoded := decodeEmbedding(encodeEmbedding(vec))
	require.Len(t, decoded, 4)
	for i := range vec {
		assert.Equal(t, vec[i], decoded[i])
	}
}
