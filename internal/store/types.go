// Package store provides the persistence layer: a SQLite metadata store
// for runs, documents, chunks and stage results, per-run HNSW vector
// indexes for embedding search, and a pluggable keyword index.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EmbeddingDimensions is the vector size produced by the embedding model.
// Chunk embeddings and query embeddings must both match this dimension.
const EmbeddingDimensions = 1024

// RunStatus is the lifecycle state of an indexing, wiki or checklist run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	// RunStatusCompletedWithWarnings marks an indexing run where at least
	// one document failed a stage but at least one other completed fully.
	RunStatusCompletedWithWarnings RunStatus = "completed_with_warnings"
	RunStatusFailed                RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithWarnings, RunStatusFailed:
		return true
	}
	return false
}

// StageStatus is the outcome of a single pipeline stage execution.
type StageStatus string

const (
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// Indexing stage names, in execution order. Partition through Chunking run
// per document; Embedding runs once per run after every document finishes.
const (
	StagePartition  = "partition"
	StageMetadata   = "metadata"
	StageEnrichment = "enrichment"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
)

// Wiki stage names, in execution order.
const (
	StageWikiCollection = "metadata_collection"
	StageWikiOverview   = "overview_generation"
	StageWikiClustering = "semantic_clustering"
	StageWikiStructure  = "structure_generation"
	StageWikiRetrieval  = "page_retrieval"
	StageWikiMarkdown   = "markdown_generation"
)

// Checklist stage names, in execution order.
const (
	StageChecklistParsing    = "parsing"
	StageChecklistRetrieval  = "retrieval"
	StageChecklistAnalysis   = "analysis"
	StageChecklistFormatting = "formatting"
)

// ElementCategory classifies a partitioned document element. Categories
// drive list grouping, table handling and visual enrichment downstream.
type ElementCategory string

const (
	CategoryNarrativeText     ElementCategory = "NarrativeText"
	CategoryTitle             ElementCategory = "Title"
	CategoryTable             ElementCategory = "Table"
	CategoryExtractedPage     ElementCategory = "ExtractedPage"
	CategoryListItem          ElementCategory = "ListItem"
	CategoryUncategorizedText ElementCategory = "UncategorizedText"
)

// UploadKind distinguishes authenticated project uploads from anonymous
// email uploads, which have different retention and notification rules.
type UploadKind string

const (
	UploadKindProject UploadKind = "user_project"
	UploadKindEmail   UploadKind = "email"
)

// AccessLevel controls who can read a generated artifact.
type AccessLevel string

const (
	AccessPublic  AccessLevel = "public"
	AccessPrivate AccessLevel = "private"
)

// IndexingRun tracks one pass of the indexing pipeline over a set of
// documents. StepResults holds one StageResult per run-wide stage; the
// per-document stages live in stage_results keyed by document.
type IndexingRun struct {
	ID             string          // UUID
	ProjectID      string          // owning project, empty for email uploads
	UploadKind     UploadKind      // user_project or email
	UploadID       string          // batch identifier for email uploads
	Status         RunStatus       // pending -> running -> terminal
	AccessLevel    AccessLevel     // visibility of derived artifacts
	ConfigSnapshot json.RawMessage // effective config at ingest, secrets elided
	ErrorMessage   string          // populated when Status is failed
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Document is one uploaded PDF. A document may participate in multiple
// runs; the link table records membership.
type Document struct {
	ID        string // UUID
	Filename  string // original upload name
	FilePath  string // object store key or local path of the source PDF
	FileSize  int64  // bytes
	PageCount int    // set by the partition stage
	Checksum  string // sha256 of the file contents
	CreatedAt time.Time
}

// ChunkMetadata is the per-chunk metadata persisted alongside content and
// carried into retrieval results.
type ChunkMetadata struct {
	PageNumber      int             `json:"page_number"`
	ElementCategory ElementCategory `json:"element_category"`
	SourceFilename  string          `json:"source_filename"`
	SectionTitle    string          `json:"section_title_inherited,omitempty"`
	ContentType     string          `json:"content_type,omitempty"`
	ElementID       string          `json:"element_id,omitempty"`
	HasNumbers      bool            `json:"has_numbers,omitempty"`
	TextComplexity  string          `json:"text_complexity,omitempty"`
	// MergedFrom lists source element IDs when list items were grouped
	// into a single chunk.
	MergedFrom []string            `json:"merged_from,omitempty"`
	Enrichment *EnrichmentMetadata `json:"enrichment_metadata,omitempty"`
}

// EnrichmentMetadata records the VLM captioning outcome for tables and
// extracted pages. VLMProcessed stays false when captioning failed; the
// chunk then carries the raw content instead.
type EnrichmentMetadata struct {
	Model              string  `json:"vlm_model,omitempty"`
	TableCaption       string  `json:"table_image_caption,omitempty"`
	TableHTMLCaption   string  `json:"table_html_caption,omitempty"`
	PageImageCaption   string  `json:"full_page_image_caption,omitempty"`
	CaptionWordCount   int     `json:"caption_word_count,omitempty"`
	ProcessingSeconds  float64 `json:"processing_duration_seconds,omitempty"`
	VLMProcessed       bool    `json:"vlm_processed"`
	VLMProcessingError string  `json:"vlm_processing_error,omitempty"`
}

// Chunk is a retrieval-ready unit of document content. Embedding is nil
// until the embedding stage has stored a vector for it.
type Chunk struct {
	ID            string // UUID
	DocumentID    string
	IndexingRunID string
	Ordinal       int // position within the document, ascending by page
	Content       string
	Metadata      ChunkMetadata
	Embedding     []float32 // length EmbeddingDimensions when present
	CreatedAt     time.Time
}

// Embedded reports whether the chunk has a stored embedding vector.
func (c *Chunk) Embedded() bool { return len(c.Embedding) > 0 }

// StageResult records one stage execution. DocumentID is empty for
// run-scoped stages (embedding, all wiki and checklist stages). Summary
// carries counts and durations; Data carries the stage's full output for
// downstream stages and resume.
type StageResult struct {
	RunID             string
	DocumentID        string
	StageName         string
	Status            StageStatus
	StartedAt         time.Time
	CompletedAt       *time.Time
	DurationSeconds   float64
	Summary           map[string]any
	SampleOutputs     map[string]any
	Data              json.RawMessage
	ErrorMessage      string
	ConfigFingerprint string
}

// WikiPageMeta describes one generated wiki page. Content lives in the
// object store; the row stores location and provenance only.
type WikiPageMeta struct {
	ID             string   `json:"id"`
	Order          int      `json:"order"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Filename       string   `json:"filename"`
	StorageKey     string   `json:"storage_key"`
	SourceChunkIDs []string `json:"source_chunk_ids,omitempty"`
	Queries        []string `json:"queries,omitempty"`
}

// WikiRun tracks one wiki generation pass over a completed indexing run.
type WikiRun struct {
	ID            string
	IndexingRunID string
	Status        RunStatus
	Language      string // detected from chunk sample: "danish" or "english"
	Model         string // chat model used for generation
	Pages         []WikiPageMeta
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// ChecklistStatus classifies a checklist item finding.
type ChecklistStatus string

const (
	ChecklistFound                ChecklistStatus = "found"
	ChecklistMissing              ChecklistStatus = "missing"
	ChecklistRisk                 ChecklistStatus = "risk"
	ChecklistConditionsMet        ChecklistStatus = "conditions_met"
	ChecklistPendingClarification ChecklistStatus = "pending_clarification"
)

// SourceRef points a checklist finding back at the document evidence.
type SourceRef struct {
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	ChunkID      string  `json:"chunk_id,omitempty"`
	Similarity   float64 `json:"similarity,omitempty"`
	Excerpt      string  `json:"excerpt,omitempty"`
}

// ChecklistResult is the structured finding for one checklist item.
// Every parsed item yields exactly one result.
type ChecklistResult struct {
	ID              string
	AnalysisRunID   string
	ItemID          string // e.g. "1.1"; synthesized when absent
	ItemName        string
	ItemDescription string
	Status          ChecklistStatus
	ConfidenceScore float64 // 0 when the model omitted it
	DescriptionText string  // explanation of the finding
	PrimarySource   *SourceRef
	Sources         []SourceRef
	CreatedAt       time.Time
}

// ChecklistRun tracks one checklist analysis pass. Progress counts are
// updated as retrieval works through the parsed items.
type ChecklistRun struct {
	ID            string
	IndexingRunID string
	ChecklistName string
	ModelName     string
	Status        RunStatus
	ProgressDone  int
	ProgressTotal int
	RawAnalysis   string // verbatim model analysis text
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ChunkID string
	Score   float32 // cosine similarity in [0, 1]
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// MetadataStore is the relational store for runs, documents, chunks and
// stage results. All implementations must be safe for concurrent use.
type MetadataStore interface {
	// Indexing runs.
	CreateIndexingRun(ctx context.Context, run *IndexingRun) error
	GetIndexingRun(ctx context.Context, id string) (*IndexingRun, error)
	LatestIndexingRun(ctx context.Context) (*IndexingRun, error)
	ListIndexingRuns(ctx context.Context, limit int) ([]*IndexingRun, error)
	UpdateIndexingRunStatus(ctx context.Context, id string, status RunStatus, errorMessage string) error
	DeleteIndexingRun(ctx context.Context, id string) error

	// Documents.
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	FindDocumentByChecksum(ctx context.Context, checksum string) (*Document, error)
	LinkDocument(ctx context.Context, runID, documentID string) error
	ListRunDocuments(ctx context.Context, runID string) ([]*Document, error)
	UpdateDocumentPages(ctx context.Context, id string, pageCount int) error

	// Chunks.
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	ListRunChunks(ctx context.Context, runID string, embeddedOnly bool) ([]*Chunk, error)
	SaveChunkEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error
	ChunkStats(ctx context.Context, runID string) (total, embedded int, err error)
	// DeleteDocumentChunks removes one document's chunks within a run
	// and returns the removed IDs so derived indexes can be cleared.
	DeleteDocumentChunks(ctx context.Context, runID, documentID string) ([]string, error)

	// Stage results.
	SaveStageResult(ctx context.Context, sr *StageResult) error
	GetStageResult(ctx context.Context, runID, documentID, stageName string) (*StageResult, error)
	ListStageResults(ctx context.Context, runID string) ([]*StageResult, error)

	// Wiki runs.
	CreateWikiRun(ctx context.Context, run *WikiRun) error
	GetWikiRun(ctx context.Context, id string) (*WikiRun, error)
	LatestWikiRun(ctx context.Context, indexingRunID string) (*WikiRun, error)
	ListWikiRuns(ctx context.Context, indexingRunID string) ([]*WikiRun, error)
	UpdateWikiRunStatus(ctx context.Context, id string, status RunStatus, errorMessage string) error
	SetWikiRunPages(ctx context.Context, id string, language string, pages []WikiPageMeta) error

	// Checklist runs.
	CreateChecklistRun(ctx context.Context, run *ChecklistRun) error
	GetChecklistRun(ctx context.Context, id string) (*ChecklistRun, error)
	UpdateChecklistRunStatus(ctx context.Context, id string, status RunStatus, errorMessage string) error
	UpdateChecklistProgress(ctx context.Context, id string, done, total int) error
	SetChecklistResults(ctx context.Context, id string, rawAnalysis string, results []ChecklistResult) error
	ListChecklistResults(ctx context.Context, analysisRunID string) ([]ChecklistResult, error)

	// DB exposes the underlying handle so collaborators such as the
	// telemetry store can share the database file.
	DB() *sql.DB
	Close() error
}

// VectorStore manages one HNSW graph per indexing run. Graphs are loaded
// lazily and persisted explicitly with SaveRun.
type VectorStore interface {
	Add(ctx context.Context, runID string, ids []string, vectors [][]float32) error
	Search(ctx context.Context, runID string, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, runID string, ids []string) error
	Count(runID string) (int, error)
	SaveRun(runID string) error
	DropRun(runID string) error
	Close() error
}

// KeywordIndex provides keyword search over chunk content as a complement
// to vector retrieval.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []*Chunk) error
	Search(ctx context.Context, runID, query string, limit int) ([]*KeywordResult, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Close() error
}

// VectorConfig controls HNSW graph construction.
type VectorConfig struct {
	Dimensions     int `yaml:"dimensions" json:"dimensions"`
	M              int `yaml:"m" json:"m"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int `yaml:"ef_search" json:"ef_search"`
}

// DefaultVectorConfig returns HNSW parameters tuned for collections in
// the tens of thousands of chunks.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Dimensions:     EmbeddingDimensions,
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
	}
}

// KeywordConfig controls the keyword index backend and analysis.
type KeywordConfig struct {
	// Backend selects the implementation: "sqlite" (FTS5) or "bleve".
	Backend string `yaml:"backend" json:"backend"`
	// K1 and B are BM25 parameters for backends that honor them.
	K1 float64 `yaml:"k1" json:"k1"`
	B  float64 `yaml:"b" json:"b"`
	// StopWords lists extra stop words beyond the built-in Danish and
	// English sets.
	StopWords []string `yaml:"stop_words" json:"stop_words"`
}

// DefaultKeywordConfig returns the standard BM25 parameters with the
// SQLite FTS5 backend.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		Backend: "sqlite",
		K1:      1.2,
		B:       0.75,
	}
}

// ErrDimensionMismatch reports a vector whose length does not match the
// store's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
