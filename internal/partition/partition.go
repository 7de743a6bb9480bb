// Package partition calls the remote partition service that turns a PDF
// into structured elements: text runs, tables with HTML and rendered
// images, and full-page renders for visually dense pages. No PDF parsing
// happens in-process.
package partition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// OCR strategies accepted by the partition service.
const (
	OCRAuto  = "auto"
	OCRFast  = "fast"
	OCRHiRes = "hi_res"
)

// Config controls one partition request.
type Config struct {
	OCRStrategy   string `yaml:"ocr_strategy" json:"ocr_strategy"`
	ExtractTables bool   `yaml:"extract_tables" json:"extract_tables"`
	ExtractImages bool   `yaml:"extract_images" json:"extract_images"`
	// MinImageArea is the pixel area below which raster images are
	// ignored during page analysis.
	MinImageArea int `yaml:"min_image_area" json:"min_image_area"`
}

// DefaultConfig returns the standard partition settings.
func DefaultConfig() Config {
	return Config{
		OCRStrategy:   OCRAuto,
		ExtractTables: true,
		ExtractImages: true,
		MinImageArea:  10000,
	}
}

// Validate checks the OCR strategy.
func (c *Config) Validate() error {
	switch c.OCRStrategy {
	case OCRAuto, OCRFast, OCRHiRes:
		return nil
	default:
		return fmt.Errorf("invalid ocr_strategy: %q", c.OCRStrategy)
	}
}

// Fingerprint returns a stable digest of the config, combined with the
// PDF hash to form the request idempotency key.
func (c *Config) Fingerprint() string {
	s := fmt.Sprintf("ocr=%s;tables=%t;images=%t;area=%d",
		c.OCRStrategy, c.ExtractTables, c.ExtractImages, c.MinImageArea)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// IdempotencyKey derives the request key from PDF content and config so
// the service can deduplicate replays of the same analysis.
func IdempotencyKey(pdf []byte, cfg Config) string {
	sum := sha256.Sum256(pdf)
	return hex.EncodeToString(sum[:]) + "-" + cfg.Fingerprint()
}

// Element is one structured unit extracted from a document.
type Element struct {
	ID         string
	Category   store.ElementCategory
	Text       string
	PageNumber int
	// HTML is the table markup, set for Table elements only.
	HTML string
	// ImagePNG is the rendered table region, set for Table elements
	// when image extraction is on.
	ImagePNG []byte
}

// PageImage is a full-page render of a visually dense page.
type PageImage struct {
	PageNumber int
	PNG        []byte
}

// PageInfo is the per-page analysis result.
type PageInfo struct {
	PageNumber      int
	HasImages       bool
	HasTables       bool
	HasDrawings     bool
	NeedsExtraction bool
}

// Output is the full partition result for one document.
type Output struct {
	PageCount  int
	Elements   []Element
	PageImages []PageImage
	Pages      []PageInfo
}

// VisualPages returns the page numbers flagged for whole-page
// captioning, ascending.
func (o *Output) VisualPages() []int {
	var pages []int
	for _, p := range o.Pages {
		if p.NeedsExtraction {
			pages = append(pages, p.PageNumber)
		}
	}
	sort.Ints(pages)
	return pages
}

// Client analyzes PDFs via the partition service.
type Client interface {
	Analyze(ctx context.Context, pdf []byte, filename string, cfg Config) (*Output, error)
	Health(ctx context.Context) error
	Close() error
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// PoolSize bounds idle connections to the service.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultClientConfig returns client defaults. The timeout is generous:
// hi_res OCR on a large drawing set routinely runs for minutes.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:  "http://localhost:8010",
		Timeout:  600 * time.Second,
		PoolSize: 4,
	}
}

// categoryFromString maps service categories onto the closed element
// category set. Unknown categories degrade to UncategorizedText.
func categoryFromString(s string) store.ElementCategory {
	switch strings.TrimSpace(s) {
	case string(store.CategoryNarrativeText):
		return store.CategoryNarrativeText
	case string(store.CategoryTitle):
		return store.CategoryTitle
	case string(store.CategoryTable):
		return store.CategoryTable
	case string(store.CategoryExtractedPage):
		return store.CategoryExtractedPage
	case string(store.CategoryListItem):
		return store.CategoryListItem
	default:
		return store.CategoryUncategorizedText
	}
}
