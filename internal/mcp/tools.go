package mcp

// SearchDocumentsInput defines the input schema for the
// search_documents tool.
type SearchDocumentsInput struct {
	Query    string `json:"query" jsonschema:"the retrieval query, phrased in the documents' language"`
	RunID    string `json:"run_id,omitempty" jsonschema:"indexing run to search; defaults to the most recent run"`
	Language string `json:"language,omitempty" jsonschema:"query language for similarity thresholds: danish (default) or english"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5, max 20"`
}

// SearchDocumentsOutput defines the output schema for the
// search_documents tool.
type SearchDocumentsOutput struct {
	RunID   string        `json:"run_id" jsonschema:"the indexing run that was searched"`
	Results []DocumentHit `json:"results" jsonschema:"retrieved chunks sorted by similarity"`
}

// DocumentHit is one retrieved chunk with its provenance.
type DocumentHit struct {
	Document   string  `json:"document" jsonschema:"source PDF filename"`
	Page       int     `json:"page" jsonschema:"page number in the source PDF"`
	Section    string  `json:"section,omitempty" jsonschema:"inherited section title, when known"`
	Content    string  `json:"content" jsonschema:"chunk text"`
	Similarity float64 `json:"similarity" jsonschema:"cosine similarity between 0 and 1"`
	Band       string  `json:"band" jsonschema:"quality band: excellent, good, acceptable or minimum"`
	ChunkID    string  `json:"chunk_id" jsonschema:"stable chunk identifier"`
}

// GetWikiPageInput defines the input schema for the get_wiki_page tool.
type GetWikiPageInput struct {
	WikiRunID string `json:"wiki_run_id,omitempty" jsonschema:"wiki run to read; defaults to the latest wiki of the most recent indexing run"`
	Page      string `json:"page,omitempty" jsonschema:"page id, title, filename or order number; omit to get the table of contents"`
}

// GetWikiPageOutput defines the output schema for the get_wiki_page
// tool. When no page was requested only the table of contents is set.
type GetWikiPageOutput struct {
	WikiRunID string     `json:"wiki_run_id"`
	Language  string     `json:"language,omitempty"`
	Title     string     `json:"title,omitempty"`
	Order     int        `json:"order,omitempty"`
	Filename  string     `json:"filename,omitempty"`
	Content   string     `json:"content,omitempty" jsonschema:"page markdown"`
	Pages     []PageInfo `json:"pages,omitempty" jsonschema:"table of contents"`
}

// PageInfo is one table-of-contents entry.
type PageInfo struct {
	Order       int    `json:"order"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Filename    string `json:"filename"`
}

// ListRunsInput defines the input schema for the list_runs tool.
type ListRunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs, default 10, max 50"`
}

// ListRunsOutput defines the output schema for the list_runs tool.
type ListRunsOutput struct {
	Runs []RunSummary `json:"runs" jsonschema:"indexing runs, newest first"`
}

// RunSummary is the condensed view of a run.
type RunSummary struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind" jsonschema:"indexing, wiki or checklist"`
	Status      string   `json:"status"`
	UploadKind  string   `json:"upload_kind,omitempty"`
	Documents   int      `json:"documents,omitempty"`
	Chunks      int      `json:"chunks,omitempty"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
	Error       string   `json:"error,omitempty"`
	WikiRuns    []string `json:"wiki_runs,omitempty" jsonschema:"wiki runs generated from this indexing run"`
}

// RunStatusInput defines the input schema for the run_status tool.
type RunStatusInput struct {
	RunID string `json:"run_id" jsonschema:"the run to inspect; indexing, wiki and checklist run IDs all work"`
}

// RunStatusOutput defines the output schema for the run_status tool.
type RunStatusOutput struct {
	Run    RunSummary     `json:"run"`
	Stages []StageSummary `json:"stages,omitempty" jsonschema:"per-stage execution records, in execution order"`
}

// StageSummary is one stage execution record.
type StageSummary struct {
	Stage           string  `json:"stage"`
	Document        string  `json:"document,omitempty" jsonschema:"document ID for per-document stages"`
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}
