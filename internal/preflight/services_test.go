package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/partition"
)

type fakePartition struct {
	healthErr error
}

func (f *fakePartition) Analyze(ctx context.Context, pdf []byte, filename string, cfg partition.Config) (*partition.Output, error) {
	return nil, nil
}

func (f *fakePartition) Health(ctx context.Context) error { return f.healthErr }

func (f *fakePartition) Close() error { return nil }

func TestCheckAPIKeysStaticEmbedder(t *testing.T) {
	checker := New(WithConfig(staticConfig()))

	results := checker.CheckAPIKeys()

	require.Len(t, results, 2)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.Contains(t, results[0].Message, "static embedder")
	assert.Equal(t, StatusPass, results[1].Status)
}

func TestCheckAPIKeysMissingEmbeddingKey(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Indexing.Embedding.Provider = embed.ProviderOpenAI
	cfg.Indexing.Embedding.APIKey = ""
	cfg.Services.LLM.APIKey = ""
	checker := New(WithConfig(cfg))

	results := checker.CheckAPIKeys()

	require.Len(t, results, 2)
	assert.Equal(t, StatusFail, results[0].Status)
	assert.True(t, results[0].IsCritical())
	assert.Contains(t, results[0].Message, "VOYAGE_API_KEY")

	// A missing chat key degrades generation but never blocks search.
	assert.Equal(t, StatusWarn, results[1].Status)
	assert.False(t, results[1].IsCritical())
}

func TestCheckPartitionHealthy(t *testing.T) {
	checker := New(WithConfig(staticConfig()), WithPartition(&fakePartition{}))

	result := checker.CheckPartition(context.Background())

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "http://localhost:8010")
}

func TestCheckPartitionUnreachable(t *testing.T) {
	fake := &fakePartition{healthErr: conerrors.Unavailable("partition", nil)}
	checker := New(WithConfig(staticConfig()), WithPartition(fake))

	result := checker.CheckPartition(context.Background())

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
	assert.Contains(t, result.Details, "search over existing runs still works")
}

func TestCheckPartitionWithoutClient(t *testing.T) {
	checker := New(WithConfig(staticConfig()))

	result := checker.CheckPartition(context.Background())

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
}

func TestCheckObjectStoreFilesystem(t *testing.T) {
	fs, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	checker := New(WithConfig(staticConfig()), WithObjectStore(fs))
	result := checker.CheckObjectStore(context.Background())

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "filesystem backend ready")
}

func TestCheckObjectStoreWithoutStore(t *testing.T) {
	checker := New(WithConfig(staticConfig()))

	result := checker.CheckObjectStore(context.Background())

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
}
