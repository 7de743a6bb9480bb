package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVectorConfig() VectorConfig {
	return VectorConfig{Dimensions: 4, M: 16, EfConstruction: 200, EfSearch: 100}
}

func TestHNSWAddAndSearch(t *testing.T) {
	s, err := NewHNSWStore(t.TempDir(), testVectorConfig())
	require.NoError(t, err)
	ctx := context.Background()

	ids := []string{"chunk-a", "chunk-b", "chunk-c"}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	require.NoError(t, s.Add(ctx, "run-1", ids, vectors))

	count, err := s.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := s.Search(ctx, "run-1", []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "chunk-a", results[0].ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
	assert.Equal(t, "chunk-c", results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	s, err := NewHNSWStore(t.TempDir(), testVectorConfig())
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Add(ctx, "run-1", []string{"chunk-a"}, [][]float32{{1, 0}})
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(ctx, "run-1", []float32{1, 0}, 5)
	require.ErrorAs(t, err, &dimErr)
}

func TestHNSWRunIsolation(t *testing.T) {
	s, err := NewHNSWStore(t.TempDir(), testVectorConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "run-1", []string{"chunk-a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.Add(ctx, "run-2", []string{"chunk-b"}, [][]float32{{1, 0, 0, 0}}))

	results, err := s.Search(ctx, "run-1", []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-a", results[0].ChunkID)
}

func TestHNSWLazyDelete(t *testing.T) {
	s, err := NewHNSWStore(t.TempDir(), testVectorConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "run-1",
		[]string{"chunk-a", "chunk-b"},
		[][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}}))
	require.NoError(t, s.Delete(ctx, "run-1", []string{"chunk-a"}))

	count, err := s.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stats, err := s.Stats("run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Vectors)
	assert.Equal(t, 1, stats.Orphans)

	// Deleted vectors never surface in results.
	results, err := s.Search(ctx, "run-1", []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-b", results[0].ChunkID)
}

func TestHNSWSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewHNSWStore(dir, testVectorConfig())
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "run-1",
		[]string{"chunk-a", "chunk-b"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, s.SaveRun("run-1"))
	require.NoError(t, s.Close())

	reopened, err := NewHNSWStore(dir, testVectorConfig())
	require.NoError(t, err)

	count, err := reopened.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := reopened.Search(ctx, "run-1", []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-b", results[0].ChunkID)
}

func TestHNSWReloadRejectsWrongDimensions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewHNSWStore(dir, testVectorConfig())
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "run-1", []string{"chunk-a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.SaveRun("run-1"))

	other, err := NewHNSWStore(dir, VectorConfig{Dimensions: 8, M: 16, EfConstruction: 200, EfSearch: 100})
	require.NoError(t, err)
	_, err = other.Count("run-1")
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
}

func TestHNSWDropRun(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewHNSWStore(dir, testVectorConfig())
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "run-1", []string{"chunk-a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.SaveRun("run-1"))
	require.NoError(t, s.DropRun("run-1"))

	count, err := s.Count("run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNormalizeVector(t *testing.T) {
	vec := []float32{3, 4, 0, 0}
	normalizeVector(vec)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	zero := []float32{0, 0, 0, 0}
	normalizeVector(zero)
	assert.Equal(t, []float32{0, 0, 0, 0}, zero)
}
