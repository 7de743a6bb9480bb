package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. It
// works against OpenAI itself as well as Voyage, OpenRouter and other
// providers that speak the same wire format via a custom base URL.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dims      int
	batchSize int
	timeout   time.Duration
	limiter   *ratelimit.Registry

	mu       sync.Mutex
	progress ProgressFunc
}

// NewOpenAIEmbedder creates an embedder from config. The limiter may be
// nil to disable client-side throttling.
func NewOpenAIEmbedder(cfg Config, limiter *ratelimit.Registry) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, conerrors.ConfigError("embedding API key is not set", nil)
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dims:      cfg.Dimensions,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		limiter:   limiter,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, batching requests
// and preserving input order. Empty texts become zero vectors locally.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// Collect non-empty texts with their original positions so the
	// response lands back in the right slots.
	type indexedText struct {
		index int
		text  string
	}
	var nonEmpty []indexedText
	for i, t := range texts {
		if t == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		nonEmpty = append(nonEmpty, indexedText{index: i, text: t})
	}

	total := len(nonEmpty)
	for start := 0; start < total; start += e.batchSize {
		select {
		case <-ctx.Done():
			return nil, conerrors.Cancelled(ctx.Err())
		default:
		}

		end := start + e.batchSize
		if end > total {
			end = total
		}
		batch := nonEmpty[start:end]

		input := make([]string, len(batch))
		for i, it := range batch {
			input[i] = it.text
		}

		vectors, err := e.embedOnce(ctx, input)
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			if len(vec) != e.dims {
				return nil, e.dimensionError(len(vec))
			}
			results[batch[i].index] = vec
		}

		e.reportProgress(end, total)
	}

	return results, nil
}

// embedOnce performs a single API call with rate limiting, one retry on
// transient failures, and a per-call timeout.
func (e *OpenAIEmbedder) embedOnce(ctx context.Context, input []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, ratelimit.ServiceEmbedding); err != nil {
			return nil, conerrors.Cancelled(err)
		}
	}

	return conerrors.RetryWithResult(ctx, conerrors.DefaultRetryConfig(), func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		start := time.Now()
		resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: input,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, e.classify(callCtx, err)
		}
		if len(resp.Data) != len(input) {
			return nil, conerrors.Malformed("embedding",
				fmt.Errorf("requested %d embeddings, got %d", len(input), len(resp.Data)))
		}

		// Providers may return data out of order; Index says where
		// each vector belongs.
		vectors := make([][]float32, len(input))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, conerrors.Malformed("embedding",
					fmt.Errorf("embedding index %d out of range", d.Index))
			}
			vectors[d.Index] = d.Embedding
		}

		slog.Debug("embedding batch complete",
			"texts", len(input),
			"model", e.model,
			"duration", time.Since(start).Round(time.Millisecond))
		return vectors, nil
	})
}

// classify maps provider errors onto structured error kinds.
func (e *OpenAIEmbedder) classify(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return conerrors.Timeout("embedding", e.timeout)
	}
	if errors.Is(err, context.Canceled) {
		return conerrors.Cancelled(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("embedding", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus("embedding", reqErr.HTTPStatusCode, err)
	}
	return conerrors.Unavailable("embedding", err)
}

// classifyStatus maps an HTTP status from an OpenAI-compatible provider
// onto an error kind.
func classifyStatus(service string, status int, err error) error {
	switch {
	case status == 429:
		return conerrors.RateLimited(service)
	case status == 408 || status >= 500:
		return conerrors.Unavailable(service, err)
	case status == 401 || status == 403:
		return conerrors.New(conerrors.ErrCodePermissionDenied,
			fmt.Sprintf("%s provider rejected credentials", service), err)
	case status >= 400:
		return conerrors.New(conerrors.ErrCodeInvalidInput,
			fmt.Sprintf("%s provider rejected request", service), err)
	default:
		return conerrors.Unavailable(service, err)
	}
}

func (e *OpenAIEmbedder) dimensionError(got int) error {
	return conerrors.New(conerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("model %s returned %d dimensions, index expects %d", e.model, got, e.dims),
		&store.ErrDimensionMismatch{Expected: e.dims, Got: got})
}

// Dimensions returns the configured embedding size.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available probes the endpoint with a one-word embedding and checks
// the returned dimensionality.
func (e *OpenAIEmbedder) Available(ctx context.Context) error {
	vec, err := e.Embed(ctx, "ping")
	if err != nil {
		return err
	}
	if len(vec) != e.dims {
		return e.dimensionError(len(vec))
	}
	return nil
}

// SetProgress installs a batch progress callback.
func (e *OpenAIEmbedder) SetProgress(fn ProgressFunc) {
	e.mu.Lock()
	e.progress = fn
	e.mu.Unlock()
}

func (e *OpenAIEmbedder) reportProgress(done, total int) {
	e.mu.Lock()
	fn := e.progress
	e.mu.Unlock()
	if fn != nil {
		fn(done, total)
	}
}

// Close releases resources. The underlying client needs no teardown.
func (e *OpenAIEmbedder) Close() error { return nil }

var _ Embedder = (*OpenAIEmbedder)(nil)
var _ ProgressReporter = (*OpenAIEmbedder)(nil)
