package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// scriptedEmbedder produces real deterministic vectors but lets tests
// fail individual batch calls.
type scriptedEmbedder struct {
	*embed.StaticEmbedder
	mu      sync.Mutex
	batches [][]string
	failOn  map[int]error
}

var _ embed.Embedder = (*scriptedEmbedder)(nil)

func newScriptedEmbedder() *scriptedEmbedder {
	return &scriptedEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(store.EmbeddingDimensions),
		failOn:         make(map[int]error),
	}
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	call := len(s.batches)
	s.batches = append(s.batches, append([]string(nil), texts...))
	err := s.failOn[call]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (s *scriptedEmbedder) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *scriptedEmbedder) batchAt(i int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[i]
}

func newEmbedRunner(t *testing.T, batchSize int) (*Runner, *scriptedEmbedder, *store.SQLiteStore, *store.HNSWStore) {
	t.Helper()
	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vs, err := store.NewHNSWStore(t.TempDir(), store.DefaultVectorConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	cfg := config.NewConfig()
	cfg.Indexing.Embedding.BatchSize = batchSize
	se := newScriptedEmbedder()
	return &Runner{store: st, vectors: vs, cfg: cfg, embedder: se}, se, st, vs
}

func seedChunks(t *testing.T, st *store.SQLiteStore, runID, docID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	chunks := make([]*store.Chunk, n)
	ids := make([]string, n)
	for i := range chunks {
		ids[i] = fmt.Sprintf("chunk-%d", i)
		chunks[i] = &store.Chunk{
			ID:            ids[i],
			DocumentID:    docID,
			IndexingRunID: runID,
			Ordinal:       i,
			Content:       fmt.Sprintf("indhold %d", i),
			Metadata:      store.ChunkMetadata{PageNumber: 1, SourceFilename: "spec.pdf"},
		}
	}
	require.NoError(t, st.SaveChunks(ctx, chunks))
	return ids
}

func TestEmbedRunEmbedsPendingChunks(t *testing.T) {
	r, se, st, vs := newEmbedRunner(t, 2)
	ctx := context.Background()
	seedRunAndDoc(t, st, "run-1", "doc-1")
	seedChunks(t, st, "run-1", "doc-1", 5)

	out, oc, err := r.embedRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 5, out.TotalChunks)
	assert.Equal(t, 5, out.Embedded)
	assert.Zero(t, out.NullEmbedded)
	assert.Zero(t, out.FailedBatches)
	assert.Equal(t, 2, out.BatchSize)
	assert.Equal(t, "static-test", out.Model)
	assert.Equal(t, store.EmbeddingDimensions, out.Dimensions)

	assert.Equal(t, 3, se.batchCount())
	assert.Equal(t, []string{"indhold 0", "indhold 1"}, se.batchAt(0))
	assert.Equal(t, []string{"indhold 4"}, se.batchAt(2))

	embedded, err := st.ListRunChunks(ctx, "run-1", true)
	require.NoError(t, err)
	assert.Len(t, embedded, 5)

	count, err := vs.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	assert.Equal(t, 5, oc.Summary["embeddings_generated"])
	assert.Equal(t, 0, oc.Summary["null_embedded"])
}

func TestEmbedRunContinuesPastFailedBatch(t *testing.T) {
	r, se, st, vs := newEmbedRunner(t, 2)
	ctx := context.Background()
	seedRunAndDoc(t, st, "run-1", "doc-1")
	seedChunks(t, st, "run-1", "doc-1", 5)
	se.failOn[1] = conerrors.Unavailable("voyage", assert.AnError)

	out, _, err := r.embedRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 3, out.Embedded)
	assert.Equal(t, 2, out.NullEmbedded)
	assert.Equal(t, 1, out.FailedBatches)

	embedded, err := st.ListRunChunks(ctx, "run-1", true)
	require.NoError(t, err)
	got := make([]string, len(embedded))
	for i, c := range embedded {
		got[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"chunk-0", "chunk-1", "chunk-4"}, got)

	count, err := vs.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestEmbedRunFailsWhenNoBatchSucceeds(t *testing.T) {
	r, se, st, _ := newEmbedRunner(t, 2)
	ctx := context.Background()
	seedRunAndDoc(t, st, "run-1", "doc-1")
	seedChunks(t, st, "run-1", "doc-1", 3)
	se.failOn[0] = conerrors.Unavailable("voyage", assert.AnError)
	se.failOn[1] = conerrors.Unavailable("voyage", assert.AnError)

	_, _, err := r.embedRun(ctx, "run-1")
	require.Error(t, err)
	assert.Equal(t, conerrors.ErrCodeEmbeddingFailed, conerrors.GetCode(err))

	embedded, err := st.ListRunChunks(ctx, "run-1", true)
	require.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestEmbedRunSkipsAlreadyEmbedded(t *testing.T) {
	r, se, st, vs := newEmbedRunner(t, 2)
	ctx := context.Background()
	seedRunAndDoc(t, st, "run-1", "doc-1")
	ids := seedChunks(t, st, "run-1", "doc-1", 5)

	// The first two chunks already carry vectors from an earlier
	// interrupted attempt.
	vecs := make([][]float32, 2)
	for i := range vecs {
		vec, err := se.Embed(ctx, fmt.Sprintf("indhold %d", i))
		require.NoError(t, err)
		vecs[i] = vec
	}
	require.NoError(t, st.SaveChunkEmbeddings(ctx, ids[:2], vecs))

	out, _, err := r.embedRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 5, out.TotalChunks)
	assert.Equal(t, 3, out.Embedded)
	assert.Equal(t, 2, se.batchCount())
	assert.Equal(t, []string{"indhold 2", "indhold 3"}, se.batchAt(0))

	embedded, err := st.ListRunChunks(ctx, "run-1", true)
	require.NoError(t, err)
	assert.Len(t, embedded, 5)

	// The graph is rebuilt from carried-over and new vectors alike.
	count, err := vs.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestEmbedRunEmptyRun(t *testing.T) {
	r, se, st, vs := newEmbedRunner(t, 2)
	ctx := context.Background()
	seedRunAndDoc(t, st, "run-1", "doc-1")

	out, _, err := r.embedRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Zero(t, out.TotalChunks)
	assert.Zero(t, out.Embedded)
	assert.Zero(t, se.batchCount())

	count, err := vs.Count("run-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEmbedRunCancellation(t *testing.T) {
	r, se, st, _ := newEmbedRunner(t, 2)
	ctx := context.Background()
	seedRunAndDoc(t, st, "run-1", "doc-1")
	seedChunks(t, st, "run-1", "doc-1", 3)
	se.failOn[0] = conerrors.Cancelled(context.Canceled)

	_, _, err := r.embedRun(ctx, "run-1")
	require.Error(t, err)
	assert.True(t, conerrors.IsKind(err, conerrors.KindCancelled))
}
