// Package embed produces dense vectors for document chunks and queries
// through an OpenAI-compatible embeddings endpoint. Vectors are
// validated against the fixed index dimensionality before they reach
// storage; a cached wrapper keeps repeated query embeddings off the
// wire.
package embed

import (
	"context"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// Provider selects the embedding backend.
const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result
	// has one vector per input, in input order. Empty texts embed to
	// zero vectors without an API call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ModelName returns the model identifier in use.
	ModelName() string

	// Available verifies the backend is reachable and serving the
	// configured model.
	Available(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// ProgressFunc receives batch completion updates during EmbedBatch.
type ProgressFunc func(done, total int)

// ProgressReporter is implemented by embedders that can surface batch
// progress to a caller.
type ProgressReporter interface {
	SetProgress(fn ProgressFunc)
}

// Config holds embedding backend settings.
type Config struct {
	Provider string `yaml:"provider" json:"provider"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	APIKey   string `yaml:"api_key" json:"-"`
	Model    string `yaml:"model" json:"model"`
	// Dimensions must match the vector index. A mismatched vector from
	// the provider is a hard error, never padded or truncated.
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	// CacheSize is the LRU entry count for the caching wrapper.
	// Zero disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// DefaultConfig returns the standard embedding settings.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderOpenAI,
		Model:      "voyage-multilingual-2",
		Dimensions: store.EmbeddingDimensions,
		BatchSize:  64,
		Timeout:    30 * time.Second,
		CacheSize:  4096,
	}
}
