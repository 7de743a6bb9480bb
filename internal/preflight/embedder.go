package preflight

import (
	"context"
	"fmt"
)

// CheckEmbeddingProbe embeds a short text and verifies the vector size
// matches the configured dimensions. A mismatch means the model and
// the dimensions setting drifted apart, which would corrupt every
// similarity score against existing runs.
func (c *Checker) CheckEmbeddingProbe(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedding_probe",
		Required: true,
	}
	if c.embedder == nil {
		result.Status = StatusWarn
		result.Required = false
		result.Message = "no embedder configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	vec, err := c.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("embedding request failed: %v", err)
		return result
	}

	want := c.embedder.Dimensions()
	if len(vec) != want {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("returned %d dimensions (expected %d)", len(vec), want)
		result.Details = "Align indexing.embedding.model and indexing.embedding.dimensions, then re-index"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s returns %d-dim vectors", c.cfg.Indexing.Embedding.Model, want)
	return result
}
