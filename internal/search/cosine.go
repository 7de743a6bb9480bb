package search

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
)

// cosineSimilarity computes dot(a,b)/(|a||b|). Mismatched dimensions
// score 0 with a warning; a bad vector must not sink the whole query.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		slog.Warn("cosine dimension mismatch", "a", len(a), "b", len(b))
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// contentKey hashes the first 100 characters of content for
// deduplication. OCR noise past the prefix should not keep two copies
// of the same paragraph in the result list.
func contentKey(content string) string {
	runes := []rune(content)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return hex.EncodeToString(sum[:])
}
