package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/partition"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// isolateUserConfig points the user config at an empty directory so
// tests never read the developer's real ~/.config/conrag.
func isolateUserConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, LanguageDanish, cfg.Defaults.Language)
	assert.Equal(t, ".conrag", cfg.Storage.DataDir)
	assert.Equal(t, partition.OCRAuto, cfg.Indexing.Partition.OCRStrategy)
	assert.Equal(t, ChunkingElementBased, cfg.Indexing.Chunking.Strategy)
	assert.Equal(t, 1000, cfg.Indexing.Chunking.MaxChunkSize)
	assert.Equal(t, 200, cfg.Indexing.Chunking.Overlap)
	assert.Equal(t, store.EmbeddingDimensions, cfg.Indexing.Embedding.Dimensions)
	assert.Equal(t, "voyage-multilingual-2", cfg.Indexing.Embedding.Model)
	assert.Equal(t, 12, cfg.Wiki.OverviewQueryCount)
	assert.True(t, cfg.Wiki.SemanticClusters.Enabled)
	assert.False(t, cfg.Orchestrator.AutoWiki)
	assert.True(t, cfg.Query.Keyword.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFilesUsesDefaults(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Indexing.Chunking, cfg.Indexing.Chunking)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	content := `
defaults:
  language: english
indexing:
  chunking:
    max_chunk_size: 800
  partition:
    ocr_strategy: hi_res
query:
  retrieval:
    top_k: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "english", cfg.Defaults.Language)
	assert.Equal(t, 800, cfg.Indexing.Chunking.MaxChunkSize)
	assert.Equal(t, partition.OCRHiRes, cfg.Indexing.Partition.OCRStrategy)
	assert.Equal(t, 8, cfg.Query.Retrieval.TopK)
	// Untouched sections keep defaults.
	assert.Equal(t, 200, cfg.Indexing.Chunking.Overlap)
	assert.Equal(t, 100, cfg.Indexing.Chunking.MinChunkSize)
}

func TestLoadUserThenProjectPrecedence(t *testing.T) {
	userDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", userDir)
	require.NoError(t, os.MkdirAll(filepath.Join(userDir, "conrag"), 0o755))
	user := `
defaults:
  language: english
performance:
  document_workers: 6
`
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "conrag", "config.yaml"), []byte(user), 0o644))

	projDir := t.TempDir()
	proj := `
defaults:
  language: danish
`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, ProjectConfigName), []byte(proj), 0o644))

	cfg, err := Load(projDir)
	require.NoError(t, err)

	// Project config wins over user config; user config wins over defaults.
	assert.Equal(t, LanguageDanish, cfg.Defaults.Language)
	assert.Equal(t, 6, cfg.Performance.DocumentWorkers)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	content := `
indexing:
  chunking:
    max_chunk_sizee: 800
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(content), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_chunk_sizee")
}

func TestEnvOverrides(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("CONRAG_LANGUAGE", "english")
	t.Setenv("CONRAG_PARTITION_URL", "http://partition:9000")
	t.Setenv("CONRAG_DOCUMENT_WORKERS", "8")
	t.Setenv("CONRAG_AUTO_WIKI", "true")
	t.Setenv("OPENROUTER_API_KEY", "or-test-key")
	t.Setenv("VOYAGE_API_KEY", "vo-test-key")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "english", cfg.Defaults.Language)
	assert.Equal(t, "http://partition:9000", cfg.Services.Partition.BaseURL)
	assert.Equal(t, 8, cfg.Performance.DocumentWorkers)
	assert.True(t, cfg.Orchestrator.AutoWiki)
	assert.Equal(t, "or-test-key", cfg.Services.LLM.APIKey)
	assert.Equal(t, "vo-test-key", cfg.Indexing.Embedding.APIKey)
}

func TestExplicitLLMKeyBeatsProviderFallback(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("CONRAG_LLM_API_KEY", "explicit")
	t.Setenv("OPENROUTER_API_KEY", "fallback")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Services.LLM.APIKey)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad ocr strategy", func(c *Config) { c.Indexing.Partition.OCRStrategy = "turbo" }, "ocr_strategy"},
		{"bad chunking strategy", func(c *Config) { c.Indexing.Chunking.Strategy = "magic" }, "strategy"},
		{"zero max chunk", func(c *Config) { c.Indexing.Chunking.MaxChunkSize = 0 }, "max_chunk_size"},
		{"min over max", func(c *Config) { c.Indexing.Chunking.MinChunkSize = 2000 }, "min_chunk_size"},
		{"overlap over max", func(c *Config) { c.Indexing.Chunking.Overlap = 1000 }, "overlap"},
		{"zero dimensions", func(c *Config) { c.Indexing.Embedding.Dimensions = 0 }, "dimensions"},
		{"zero batch", func(c *Config) { c.Indexing.Embedding.BatchSize = 0 }, "batch_size"},
		{"zero top_k", func(c *Config) { c.Query.Retrieval.TopK = 0 }, "top_k"},
		{"inverted thresholds", func(c *Config) { c.Query.Retrieval.DanishThresholds.Minimum = 0.9 }, "non-increasing"},
		{"cluster bounds", func(c *Config) { c.Wiki.SemanticClusters.MaxClusters = 1 }, "min_clusters"},
		{"zero workers", func(c *Config) { c.Performance.DocumentWorkers = 0 }, "document_workers"},
		{"bad debounce", func(c *Config) { c.Performance.WatchDebounce = "soon" }, "watch_debounce"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSnapshotElidesSecrets(t *testing.T) {
	cfg := NewConfig()
	cfg.Services.LLM.APIKey = "sk-secret"
	cfg.Indexing.Embedding.APIKey = "vo-secret"
	cfg.Storage.ObjectStore.SecretKey = "minio-secret"

	raw, err := cfg.Snapshot()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-secret")
	assert.NotContains(t, string(raw), "vo-secret")
	assert.NotContains(t, string(raw), "minio-secret")
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Indexing.Chunking.MaxChunkSize = 900
	cfg.Wiki.Generation.MaxPages = 6

	raw, err := cfg.Snapshot()
	require.NoError(t, err)

	restored, err := FromSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, 900, restored.Indexing.Chunking.MaxChunkSize)
	assert.Equal(t, 6, restored.Wiki.Generation.MaxPages)
}

func TestFromSnapshotIgnoresUnknownKeys(t *testing.T) {
	raw := []byte(`{"indexing":{"chunking":{"max_chunk_size":700}},"retired_section":{"x":1}}`)

	restored, err := FromSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, 700, restored.Indexing.Chunking.MaxChunkSize)
	// Absent sections keep defaults.
	assert.Equal(t, 12, restored.Wiki.OverviewQueryCount)
}

func TestFromSnapshotEmptyReturnsDefaults(t *testing.T) {
	restored, err := FromSnapshot(nil)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Indexing.Chunking, restored.Indexing.Chunking)
}

func TestBuilderMethods(t *testing.T) {
	cfg := NewConfig()
	root := t.TempDir()

	pc := cfg.PartitionClientConfig()
	assert.Equal(t, 600*time.Second, pc.Timeout)

	lc := cfg.LLMClientConfig()
	assert.Equal(t, 60*time.Second, lc.Timeout)
	assert.Equal(t, 60*time.Second, lc.VLMTimeout)

	ec := cfg.EmbedderConfig()
	assert.Equal(t, 30*time.Second, ec.Timeout)
	assert.Equal(t, cfg.Performance.CacheSize, ec.CacheSize)

	oc := cfg.ObjectStoreConfig(root)
	assert.Equal(t, objstore.BackendFS, oc.Backend)
	assert.Equal(t, filepath.Join(root, ".conrag", "objects"), oc.BaseDir)

	log := cfg.LoggingConfig(root)
	assert.Equal(t, filepath.Join(root, ".conrag", "logs", "conrag.log"), log.FilePath)

	assert.Equal(t, filepath.Join(root, ".conrag", "conrag.db"), cfg.DBPath(root))
	assert.Equal(t, filepath.Join(root, ".conrag", "vectors"), cfg.VectorDir(root))
	assert.Equal(t, filepath.Join(root, ".conrag", "locks"), cfg.LockDir(root))
}

func TestLanguageFallback(t *testing.T) {
	cfg := NewConfig()
	cfg.Defaults.Language = LanguageEnglish

	assert.Equal(t, LanguageEnglish, cfg.Language(""))
	assert.Equal(t, LanguageDanish, cfg.Language(LanguageDanish))
}

func TestWatchDebounce(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce())

	cfg.Performance.WatchDebounce = "750ms"
	assert.Equal(t, 750*time.Millisecond, cfg.WatchDebounce())

	cfg.Performance.WatchDebounce = ""
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce())
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectConfigName), []byte("version: 1\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindProjectRootWithoutMarker(t *testing.T) {
	dir := t.TempDir()
	found, err := FindProjectRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, found)
}
