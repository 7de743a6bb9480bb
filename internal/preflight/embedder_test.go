package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
)

type fakeEmbedder struct {
	dims   int
	vecLen int
	embErr error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embErr != nil {
		return nil, f.embErr
	}
	return make([]float32, f.vecLen), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) ModelName() string { return "fake" }

func (f *fakeEmbedder) Available(context.Context) error { return nil }

func (f *fakeEmbedder) Close() error { return nil }

func TestCheckEmbeddingProbeMatchingDimensions(t *testing.T) {
	checker := New(WithConfig(staticConfig()), WithEmbedder(embed.NewStaticEmbedder(64)))

	result := checker.CheckEmbeddingProbe(context.Background())

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "64-dim")
}

func TestCheckEmbeddingProbeDimensionMismatch(t *testing.T) {
	fake := &fakeEmbedder{dims: 1024, vecLen: 1536}
	checker := New(WithConfig(staticConfig()), WithEmbedder(fake))

	result := checker.CheckEmbeddingProbe(context.Background())

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
	assert.Contains(t, result.Message, "returned 1536 dimensions (expected 1024)")
	assert.Contains(t, result.Details, "re-index")
}

func TestCheckEmbeddingProbeRequestFailure(t *testing.T) {
	fake := &fakeEmbedder{dims: 1024, embErr: conerrors.Unavailable("embedding", nil)}
	checker := New(WithConfig(staticConfig()), WithEmbedder(fake))

	result := checker.CheckEmbeddingProbe(context.Background())

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "embedding request failed")
}

func TestCheckEmbeddingProbeWithoutEmbedder(t *testing.T) {
	checker := New(WithConfig(staticConfig()))

	result := checker.CheckEmbeddingProbe(context.Background())

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
}
