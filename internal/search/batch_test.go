package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// Second query direction chosen so its ranking inverts the first
// query's: cosines 0.51 (c-high), 0.95 (c-mid), 1.00 (c-low), 0.99
// (c-noise).
const secondQuery = "miljøklasse aggressiv beton"

func seedBatchQueries(t *testing.T, f *testFixture) {
	t.Helper()
	f.seedStandardChunks(t)
	f.embedder.Set(secondQuery, unit(0.22, 0.9755))
}

func TestBatchSearchUnionKeepsBestScorePerChunk(t *testing.T) {
	f := newFixture(t)
	seedBatchQueries(t, f)

	out, err := f.engine.BatchSearch(context.Background(),
		[]string{"betonkvalitet fundament", secondQuery},
		Options{IndexingRunID: f.runID})
	require.NoError(t, err)
	require.Len(t, out.PerQuery, 2)

	first := out.PerQuery["betonkvalitet fundament"]
	require.Len(t, first, 3)
	assert.Equal(t, "c-high", first[0].Chunk.ID)
	assert.InDelta(t, 0.95, first[0].Similarity, 0.01)

	second := out.PerQuery[secondQuery]
	require.Len(t, second, 4)
	assert.Equal(t, "c-low", second[0].Chunk.ID)
	assert.InDelta(t, 1.0, second[0].Similarity, 0.01)

	// c-mid scores 0.50 on the first query and 0.95 on the second;
	// the union carries the 0.95.
	require.Len(t, out.Union, 4)
	assert.Equal(t, "c-low", out.Union[0].Chunk.ID)
	assert.Equal(t, "c-noise", out.Union[1].Chunk.ID)
	assert.Equal(t, "c-mid", out.Union[2].Chunk.ID)
	assert.Equal(t, "c-high", out.Union[3].Chunk.ID)
	assert.InDelta(t, 0.95, out.Union[2].Similarity, 0.01)
}

func TestBatchSearchHonorsTopKPerQuery(t *testing.T) {
	f := newFixture(t)
	seedBatchQueries(t, f)

	out, err := f.engine.BatchSearch(context.Background(),
		[]string{"betonkvalitet fundament", secondQuery},
		Options{IndexingRunID: f.runID, TopK: 1})
	require.NoError(t, err)

	require.Len(t, out.PerQuery["betonkvalitet fundament"], 1)
	assert.Equal(t, "c-high", out.PerQuery["betonkvalitet fundament"][0].Chunk.ID)
	require.Len(t, out.PerQuery[secondQuery], 1)
	assert.Equal(t, "c-low", out.PerQuery[secondQuery][0].Chunk.ID)

	// Union holds each query's winner, best score first.
	require.Len(t, out.Union, 2)
	assert.Equal(t, "c-low", out.Union[0].Chunk.ID)
	assert.Equal(t, "c-high", out.Union[1].Chunk.ID)
}

func TestBatchSearchDocumentFilter(t *testing.T) {
	f := newFixture(t)
	seedBatchQueries(t, f)

	out, err := f.engine.BatchSearch(context.Background(),
		[]string{"betonkvalitet fundament", secondQuery},
		Options{IndexingRunID: f.runID, DocumentIDs: []string{"doc-1"}})
	require.NoError(t, err)

	for query, results := range out.PerQuery {
		for _, r := range results {
			assert.Equal(t, "doc-1", r.Chunk.DocumentID, "query %q leaked a filtered document", query)
		}
	}
	for _, r := range out.Union {
		assert.Equal(t, "doc-1", r.Chunk.DocumentID)
	}
}

func TestBatchSearchSkipsBlankQueries(t *testing.T) {
	f := newFixture(t)
	seedBatchQueries(t, f)

	out, err := f.engine.BatchSearch(context.Background(),
		[]string{"", "   ", " betonkvalitet fundament "},
		Options{IndexingRunID: f.runID})
	require.NoError(t, err)

	// Keys are the trimmed queries; blanks contribute nothing.
	require.Len(t, out.PerQuery, 1)
	assert.Contains(t, out.PerQuery, "betonkvalitet fundament")
	assert.NotEmpty(t, out.Union)

	empty, err := f.engine.BatchSearch(context.Background(), []string{"", "  "},
		Options{IndexingRunID: f.runID})
	require.NoError(t, err)
	assert.Empty(t, empty.PerQuery)
	assert.Empty(t, empty.Union)
}

func TestBatchSearchUnionTieBreaksOnChunkID(t *testing.T) {
	f := newFixture(t)
	f.embedder.Set("betonkvalitet fundament", unit(1))

	// Same direction, distinct content, so both survive dedupe with
	// identical similarity.
	f.addChunk(t, "tie-b", "doc-1", "Betonens styrkeklasse fremgår af K01.", unit(0.6, 0.8))
	f.addChunk(t, "tie-a", "doc-1", "Dæklag kontrolleres før støbning.", unit(0.6, 0.8))

	out, err := f.engine.BatchSearch(context.Background(),
		[]string{"betonkvalitet fundament"}, Options{IndexingRunID: f.runID})
	require.NoError(t, err)

	require.Len(t, out.Union, 2)
	assert.Equal(t, out.Union[0].Similarity, out.Union[1].Similarity)
	assert.Equal(t, "tie-a", out.Union[0].Chunk.ID)
	assert.Equal(t, "tie-b", out.Union[1].Chunk.ID)
}

func TestBatchSearchRequiresRunID(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BatchSearch(context.Background(), []string{"beton"}, Options{})
	require.Error(t, err)
	assert.Equal(t, conerrors.KindInvalidInput, conerrors.GetKind(err))
}
