package embed

import (
	"fmt"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
)

// New creates an embedder from config, wrapping it with an LRU cache
// when CacheSize is positive.
func New(cfg Config, limiter *ratelimit.Registry) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "", ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(cfg, limiter)
	case ProviderStatic:
		inner = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, conerrors.ConfigError(fmt.Sprintf("unknown embedding provider: %q", cfg.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize)
	}
	return inner, nil
}
