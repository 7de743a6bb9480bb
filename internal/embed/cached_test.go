package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts texts actually
// embedded, so tests can see what the cache absorbed.
type countingEmbedder struct {
	*StaticEmbedder
	embedded atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedded.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedded.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderServesRepeats(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	cached, err := NewCachedEmbedder(inner, 32)
	require.NoError(t, err)

	first, err := cached.Embed(context.Background(), "betonkonstruktioner")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "betonkonstruktioner")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedded.Load())

	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedderBatchPartialHits(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	cached, err := NewCachedEmbedder(inner, 32)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "kendt tekst")
	require.NoError(t, err)
	require.Equal(t, int64(1), inner.embedded.Load())

	vecs, err := cached.EmbedBatch(ctx, []string{"ny tekst", "kendt tekst", "endnu en ny"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Only the two unseen texts reach the inner embedder.
	assert.Equal(t, int64(3), inner.embedded.Load())

	direct, err := inner.StaticEmbedder.Embed(ctx, "kendt tekst")
	require.NoError(t, err)
	assert.Equal(t, direct, vecs[1])
}

func TestCachedEmbedderDistinguishesModels(t *testing.T) {
	inner := NewStaticEmbedder(16)
	cached, err := NewCachedEmbedder(inner, 8)
	require.NoError(t, err)

	keyA := cached.cacheKey("tekst")
	assert.NotEmpty(t, keyA)
	assert.NotEqual(t, keyA, cached.cacheKey("tekst "))
}
