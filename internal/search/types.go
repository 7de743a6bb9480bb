package search

import (
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// Band classifies a similarity score for display and quality gating.
type Band string

const (
	BandExcellent  Band = "excellent"
	BandGood       Band = "good"
	BandAcceptable Band = "acceptable"
	BandMinimum    Band = "minimum"
	// BandBelow marks scores under the language minimum. Results in
	// this band never leave the engine.
	BandBelow Band = "below"
)

// LanguageDanish is the default query language. Any other language tag
// uses the generic thresholds.
const LanguageDanish = "danish"

// Thresholds holds a language's 4-band classification cut-offs.
type Thresholds struct {
	Excellent  float64 `yaml:"excellent" json:"excellent"`
	Good       float64 `yaml:"good" json:"good"`
	Acceptable float64 `yaml:"acceptable" json:"acceptable"`
	Minimum    float64 `yaml:"minimum" json:"minimum"`
}

// Band classifies a similarity score.
func (t Thresholds) Band(score float64) Band {
	switch {
	case score >= t.Excellent:
		return BandExcellent
	case score >= t.Good:
		return BandGood
	case score >= t.Acceptable:
		return BandAcceptable
	case score >= t.Minimum:
		return BandMinimum
	default:
		return BandBelow
	}
}

// DanishThresholds are tuned for the multilingual embedding model's
// score distribution on Danish construction text, which runs lower
// than English.
func DanishThresholds() Thresholds {
	return Thresholds{Excellent: 0.70, Good: 0.55, Acceptable: 0.35, Minimum: 0.20}
}

// GenericThresholds apply to every language without a tuned table.
func GenericThresholds() Thresholds {
	return Thresholds{Excellent: 0.75, Good: 0.60, Acceptable: 0.40, Minimum: 0.25}
}

// Result is one retrieved chunk with its similarity.
type Result struct {
	Chunk      *store.Chunk `json:"chunk"`
	Similarity float64      `json:"similarity"`
	Band       Band         `json:"band"`
	// Source records which path produced the row: "vector" for the
	// index, "scan" for the client-side fallback.
	Source string `json:"source"`
}

// Options scopes and tunes a retrieval call.
type Options struct {
	// IndexingRunID scopes retrieval to one run. Required; retrieval
	// without a run is meaningless, every chunk belongs to one.
	IndexingRunID string
	// DocumentIDs restricts results to the given documents when
	// non-empty.
	DocumentIDs []string
	// Language selects the threshold table. Empty means danish.
	Language string
	// TopK bounds the result count. Zero uses the engine default.
	TopK int
	// MinSimilarity overrides the language minimum when positive.
	MinSimilarity float64
}

// Config holds engine defaults.
type Config struct {
	TopK              int        `yaml:"top_k" json:"top_k"`
	DanishThresholds  Thresholds `yaml:"danish_thresholds" json:"danish_thresholds"`
	GenericThresholds Thresholds `yaml:"similarity_thresholds" json:"similarity_thresholds"`
}

// DefaultConfig returns the standard retrieval settings.
func DefaultConfig() Config {
	return Config{
		TopK:              5,
		DanishThresholds:  DanishThresholds(),
		GenericThresholds: GenericThresholds(),
	}
}

// thresholds selects the table for a language tag.
func (c Config) thresholds(language string) Thresholds {
	if language == "" || language == LanguageDanish {
		return c.DanishThresholds
	}
	return c.GenericThresholds
}

// BatchResults holds batch retrieval output: per-query hits and the
// deduplicated union.
type BatchResults struct {
	// PerQuery maps each query to its thresholded top-k results.
	PerQuery map[string][]*Result
	// Union holds every distinct chunk across queries, best score
	// kept, sorted descending.
	Union []*Result
}
