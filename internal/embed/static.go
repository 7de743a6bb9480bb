package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// StaticEmbedder generates deterministic embeddings without a network
// dependency. Vectors derive from a hash of the text, so equal texts
// always embed identically; specific vectors can be pinned with Set to
// script similarity orderings in tests.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	pinned map[string][]float32
}

// NewStaticEmbedder creates a static embedder with the given
// dimensionality.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultConfig().Dimensions
	}
	return &StaticEmbedder{dims: dims, pinned: make(map[string][]float32)}
}

// Set pins the vector returned for a text. The vector is copied and
// normalized to unit length.
func (s *StaticEmbedder) Set(text string, vec []float32) {
	v := make([]float32, s.dims)
	copy(v, vec)
	normalize(v)
	s.mu.Lock()
	s.pinned[text] = v
	s.mu.Unlock()
}

// Embed returns the pinned or derived vector for text.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, s.dims), nil
	}

	s.mu.RLock()
	pinned, ok := s.pinned[text]
	s.mu.RUnlock()
	if ok {
		out := make([]float32, s.dims)
		copy(out, pinned)
		return out, nil
	}
	return s.derive(text), nil
}

// EmbedBatch embeds each text independently.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// derive expands a sha256 chain over the text into a unit vector.
func (s *StaticEmbedder) derive(text string) []float32 {
	vec := make([]float32, s.dims)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]
	for i := 0; i < s.dims; i++ {
		if i%8 == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		vec[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}

// Dimensions returns the embedding size.
func (s *StaticEmbedder) Dimensions() int { return s.dims }

// ModelName identifies the static backend.
func (s *StaticEmbedder) ModelName() string { return "static-test" }

// Available always succeeds.
func (s *StaticEmbedder) Available(context.Context) error { return nil }

// Close is a no-op.
func (s *StaticEmbedder) Close() error { return nil }

var _ Embedder = (*StaticEmbedder)(nil)
