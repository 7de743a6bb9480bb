// Package index implements the indexing pipeline: ingest of source
// PDFs, the per-document stages partition, metadata, enrichment and
// chunking, and the run-wide embedding stage. Stage outputs persist as
// typed StageResult payloads so an interrupted run resumes where it
// stopped.
package index

import (
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// Content types attached to elements by the metadata stage.
const (
	ContentTypeText  = "text"
	ContentTypeTable = "table"
	ContentTypePage  = "page"
)

// Element is one structured unit of a partitioned document. Rendered
// images live in the object store; elements carry keys, not bytes, so
// stage payloads stay small enough to persist.
type Element struct {
	ID         string                `json:"id"`
	Category   store.ElementCategory `json:"category"`
	Text       string                `json:"text"`
	PageNumber int                   `json:"page_number"`
	// Position is the element's place in the partition stream and
	// fixes reading order within a page.
	Position int `json:"position"`
	// HTML is the table markup, tables only.
	HTML string `json:"html,omitempty"`
	// ImageKey locates the rendered table region or page image.
	ImageKey string `json:"image_key,omitempty"`
}

// PageRef points at a full-page render flagged for visual captioning.
type PageRef struct {
	PageNumber int    `json:"page_number"`
	ImageKey   string `json:"image_key"`
}

// DocumentInfo summarizes the source document as seen by partition.
type DocumentInfo struct {
	Filename  string `json:"filename"`
	PageCount int    `json:"page_count"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// PartitionOutput is the partition stage payload: the normalized
// element stream split into text and table elements, plus the pages
// whose content must be captioned whole.
type PartitionOutput struct {
	TextElements   []Element    `json:"text_elements"`
	TableElements  []Element    `json:"table_elements"`
	ExtractedPages []PageRef    `json:"extracted_pages"`
	Document       DocumentInfo `json:"document_metadata"`
}

// StructuralMetadata is attached to every element by the metadata
// stage and later lands on chunks unchanged.
type StructuralMetadata struct {
	SourceFilename  string                `json:"source_filename"`
	PageNumber      int                   `json:"page_number"`
	ContentType     string                `json:"content_type"`
	ElementCategory store.ElementCategory `json:"element_category"`
	ElementID       string                `json:"element_id"`
	HasNumbers      bool                  `json:"has_numbers"`
	TextComplexity  string                `json:"text_complexity"`
	// SectionTitle is the nearest preceding Title element in reading
	// order.
	SectionTitle string `json:"section_title_inherited"`
}

// AnnotatedElement pairs an element with its structural metadata.
type AnnotatedElement struct {
	Element  Element            `json:"element"`
	Metadata StructuralMetadata `json:"structural_metadata"`
}

// MetadataOutput is the metadata stage payload. Elements are in
// reading order and include one synthesized ExtractedPage element per
// page flagged for visual captioning.
type MetadataOutput struct {
	Elements []AnnotatedElement `json:"elements"`
	// PageSections maps each page to the section title in force at
	// its first element.
	PageSections map[int]string `json:"page_sections"`
}

// EnrichedElement carries the VLM captioning outcome alongside the
// element. Enrichment stays nil for plain text elements.
type EnrichedElement struct {
	Element    Element                   `json:"element"`
	Metadata   StructuralMetadata        `json:"structural_metadata"`
	Enrichment *store.EnrichmentMetadata `json:"enrichment_metadata,omitempty"`
}

// EnrichmentStats counts captioning work and failures.
type EnrichmentStats struct {
	TablesCaptioned int `json:"tables_captioned"`
	TableFailures   int `json:"table_failures"`
	PagesCaptioned  int `json:"pages_captioned"`
	PageFailures    int `json:"page_failures"`
}

// EnrichmentOutput is the enrichment stage payload.
type EnrichmentOutput struct {
	Elements []EnrichedElement `json:"elements"`
	Stats    EnrichmentStats   `json:"stats"`
}

// SplitStats counts oversized elements broken into sub-chunks.
type SplitStats struct {
	ElementsSplit int `json:"elements_split"`
	SubChunks     int `json:"sub_chunks"`
}

// MergeStats counts undersized adjacent chunks folded together.
type MergeStats struct {
	GroupsMerged   int `json:"groups_merged"`
	ElementsMerged int `json:"elements_merged"`
}

// ChunkingOutput is the chunking stage payload. The chunks themselves
// are persisted to the chunk table by the stage; the payload records
// identity and stats only.
type ChunkingOutput struct {
	TotalChunks      int        `json:"total_chunks_created"`
	AverageChunkSize float64    `json:"average_chunk_size"`
	Splitting        SplitStats `json:"splitting_stats"`
	Merging          MergeStats `json:"merging_stats"`
	ChunkIDs         []string   `json:"chunk_ids"`
}

// EmbeddingOutput is the run-wide embedding stage payload.
type EmbeddingOutput struct {
	TotalChunks     int     `json:"total_chunks"`
	Embedded        int     `json:"embeddings_generated"`
	NullEmbedded    int     `json:"null_embedded"`
	FailedBatches   int     `json:"failed_batches"`
	Model           string  `json:"embedding_model"`
	Dimensions      int     `json:"embedding_dimensions"`
	BatchSize       int     `json:"batch_size_used"`
	AvgBatchSeconds float64 `json:"average_embedding_time_seconds"`
}
