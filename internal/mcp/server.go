package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/pkg/version"
)

// Retriever executes scoped vector retrieval. *search.Engine satisfies
// it; tests install fakes.
type Retriever interface {
	Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error)
}

var _ Retriever = (*search.Engine)(nil)

// Deps carries the server's collaborators.
type Deps struct {
	Store     store.MetadataStore
	Retriever Retriever
	Objects   objstore.Store
	Config    *config.Config
}

// Server bridges AI clients with the construction document knowledge
// base: scoped retrieval, generated wiki pages and run history.
type Server struct {
	mcp       *mcp.Server
	store     store.MetadataStore
	retriever Retriever
	objects   objstore.Store
	config    *config.Config
	logger    *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

const (
	searchDocumentsDesc = "Search the indexed construction documents. Returns the most similar chunks with filename, page number and a quality band. Queries work best phrased in the documents' language (usually Danish)."
	getWikiPageDesc     = "Read a generated project wiki page as markdown, or fetch the table of contents by omitting the page argument."
	listRunsDesc        = "List recent indexing runs with status, document and chunk counts, and any wikis generated from them."
	runStatusDesc       = "Inspect one run in detail: status, error message and per-stage execution records. Accepts indexing, wiki and checklist run IDs."
)

// NewServer creates the MCP server and registers its tools.
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("metadata store is required")
	}
	if deps.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("object store is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		store:     deps.Store,
		retriever: deps.Retriever,
		objects:   deps.Objects,
		config:    cfg,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "conrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "conrag", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "search_documents", Description: searchDocumentsDesc},
		{Name: "get_wiki_page", Description: getWikiPageDesc},
		{Name: "list_runs", Description: listRunsDesc},
		{Name: "run_status", Description: runStatusDesc},
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: searchDocumentsDesc,
	}, s.searchDocuments)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_wiki_page",
		Description: getWikiPageDesc,
	}, s.getWikiPage)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_runs",
		Description: listRunsDesc,
	}, s.listRuns)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_status",
		Description: runStatusDesc,
	}, s.runStatus)

	s.logger.Debug("mcp_tools_registered", "count", 4)
}

// searchDocuments handles the search_documents tool.
func (s *Server) searchDocuments(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult,
	SearchDocumentsOutput,
	error,
) {
	start := time.Now()

	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchDocumentsOutput{}, NewInvalidParamsError("query is required")
	}

	runID := input.RunID
	if runID == "" {
		run, err := s.store.LatestIndexingRun(ctx)
		if err != nil {
			return nil, SearchDocumentsOutput{}, MapError(err)
		}
		runID = run.ID
	}

	topK := input.TopK
	if topK > 20 {
		topK = 20
	}
	if topK < 0 {
		topK = 0
	}

	results, err := s.retriever.Search(ctx, input.Query, search.Options{
		IndexingRunID: runID,
		Language:      input.Language,
		TopK:          topK,
	})
	if err != nil {
		return nil, SearchDocumentsOutput{}, MapError(err)
	}

	output := SearchDocumentsOutput{
		RunID:   runID,
		Results: make([]DocumentHit, 0, len(results)),
	}
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		output.Results = append(output.Results, DocumentHit{
			Document:   r.Chunk.Metadata.SourceFilename,
			Page:       r.Chunk.Metadata.PageNumber,
			Section:    r.Chunk.Metadata.SectionTitle,
			Content:    r.Chunk.Content,
			Similarity: r.Similarity,
			Band:       string(r.Band),
			ChunkID:    r.Chunk.ID,
		})
	}

	s.logger.Info("mcp_search_documents",
		"run_id", runID,
		"results", len(output.Results),
		"duration", time.Since(start).String())
	return nil, output, nil
}

// getWikiPage handles the get_wiki_page tool.
func (s *Server) getWikiPage(ctx context.Context, _ *mcp.CallToolRequest, input GetWikiPageInput) (
	*mcp.CallToolResult,
	GetWikiPageOutput,
	error,
) {
	run, err := s.resolveWikiRun(ctx, input.WikiRunID)
	if err != nil {
		return nil, GetWikiPageOutput{}, MapError(err)
	}

	output := GetWikiPageOutput{
		WikiRunID: run.ID,
		Language:  run.Language,
	}

	if strings.TrimSpace(input.Page) == "" {
		output.Pages = tableOfContents(run)
		return nil, output, nil
	}

	page, ok := findPage(run, input.Page)
	if !ok {
		return nil, GetWikiPageOutput{}, NewNotFoundError(fmt.Sprintf(
			"page %q not found in wiki run %s; request the tool without a page argument for the table of contents", input.Page, run.ID))
	}

	data, err := s.objects.GetBytes(ctx, page.StorageKey)
	if err != nil {
		return nil, GetWikiPageOutput{}, MapError(err)
	}

	output.Title = page.Title
	output.Order = page.Order
	output.Filename = page.Filename
	output.Content = string(data)

	s.logger.Info("mcp_get_wiki_page", "wiki_run_id", run.ID, "page", page.Filename)
	return nil, output, nil
}

// resolveWikiRun loads the requested wiki run, falling back to the
// latest wiki of the most recent indexing run.
func (s *Server) resolveWikiRun(ctx context.Context, wikiRunID string) (*store.WikiRun, error) {
	if wikiRunID != "" {
		return s.store.GetWikiRun(ctx, wikiRunID)
	}
	indexing, err := s.store.LatestIndexingRun(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.LatestWikiRun(ctx, indexing.ID)
}

func tableOfContents(run *store.WikiRun) []PageInfo {
	pages := make([]PageInfo, 0, len(run.Pages))
	for _, p := range run.Pages {
		pages = append(pages, PageInfo{Order: p.Order, Title: p.Title, Description: p.Description, Filename: p.Filename})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Order < pages[j].Order })
	return pages
}

// findPage matches a page by order number, id, title or filename, in
// that order of preference. Title matching falls back to a
// case-insensitive substring so "kloak" finds "Kloak og afløb".
func findPage(run *store.WikiRun, key string) (store.WikiPageMeta, bool) {
	key = strings.TrimSpace(key)

	if n, err := strconv.Atoi(key); err == nil {
		for _, p := range run.Pages {
			if p.Order == n {
				return p, true
			}
		}
	}

	for _, p := range run.Pages {
		if strings.EqualFold(p.ID, key) ||
			strings.EqualFold(p.Title, key) ||
			strings.EqualFold(p.Filename, key) ||
			strings.EqualFold(p.Filename, key+".md") {
			return p, true
		}
	}

	lower := strings.ToLower(key)
	for _, p := range run.Pages {
		if strings.Contains(strings.ToLower(p.Title), lower) {
			return p, true
		}
	}

	return store.WikiPageMeta{}, false
}

// listRuns handles the list_runs tool.
func (s *Server) listRuns(ctx context.Context, _ *mcp.CallToolRequest, input ListRunsInput) (
	*mcp.CallToolResult,
	ListRunsOutput,
	error,
) {
	limit := clampLimit(input.Limit, 10, 1, 50)

	runs, err := s.store.ListIndexingRuns(ctx, limit)
	if err != nil {
		return nil, ListRunsOutput{}, MapError(err)
	}

	output := ListRunsOutput{Runs: make([]RunSummary, 0, len(runs))}
	for _, run := range runs {
		summary, err := s.indexingSummary(ctx, run)
		if err != nil {
			return nil, ListRunsOutput{}, MapError(err)
		}
		output.Runs = append(output.Runs, summary)
	}

	return nil, output, nil
}

// runStatus handles the run_status tool. The ID may belong to an
// indexing, wiki or checklist run; each keeps stage records under its
// own ID.
func (s *Server) runStatus(ctx context.Context, _ *mcp.CallToolRequest, input RunStatusInput) (
	*mcp.CallToolResult,
	RunStatusOutput,
	error,
) {
	if strings.TrimSpace(input.RunID) == "" {
		return nil, RunStatusOutput{}, NewInvalidParamsError("run_id is required")
	}

	summary, err := s.anyRunSummary(ctx, input.RunID)
	if err != nil {
		return nil, RunStatusOutput{}, MapError(err)
	}

	stages, err := s.stageSummaries(ctx, input.RunID)
	if err != nil {
		return nil, RunStatusOutput{}, MapError(err)
	}

	return nil, RunStatusOutput{Run: summary, Stages: stages}, nil
}

// anyRunSummary resolves an ID across the three run tables.
func (s *Server) anyRunSummary(ctx context.Context, id string) (RunSummary, error) {
	indexing, err := s.store.GetIndexingRun(ctx, id)
	if err == nil {
		return s.indexingSummary(ctx, indexing)
	}
	if !conerrors.IsKind(err, conerrors.KindNotFound) {
		return RunSummary{}, err
	}

	wiki, err := s.store.GetWikiRun(ctx, id)
	if err == nil {
		return RunSummary{
			ID:          wiki.ID,
			Kind:        "wiki",
			Status:      string(wiki.Status),
			Documents:   len(wiki.Pages),
			StartedAt:   wiki.StartedAt.UTC().Format(time.RFC3339),
			CompletedAt: formatCompleted(wiki.CompletedAt),
			Error:       wiki.ErrorMessage,
		}, nil
	}
	if !conerrors.IsKind(err, conerrors.KindNotFound) {
		return RunSummary{}, err
	}

	checklist, err := s.store.GetChecklistRun(ctx, id)
	if err == nil {
		return RunSummary{
			ID:          checklist.ID,
			Kind:        "checklist",
			Status:      string(checklist.Status),
			StartedAt:   checklist.StartedAt.UTC().Format(time.RFC3339),
			CompletedAt: formatCompleted(checklist.CompletedAt),
			Error:       checklist.ErrorMessage,
		}, nil
	}
	if !conerrors.IsKind(err, conerrors.KindNotFound) {
		return RunSummary{}, err
	}

	return RunSummary{}, conerrors.NotFound(conerrors.ErrCodeRunNotFound, "run", id)
}

func (s *Server) indexingSummary(ctx context.Context, run *store.IndexingRun) (RunSummary, error) {
	docs, err := s.store.ListRunDocuments(ctx, run.ID)
	if err != nil {
		return RunSummary{}, err
	}
	chunks, _, err := s.store.ChunkStats(ctx, run.ID)
	if err != nil {
		return RunSummary{}, err
	}
	wikis, err := s.store.ListWikiRuns(ctx, run.ID)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		ID:          run.ID,
		Kind:        "indexing",
		Status:      string(run.Status),
		UploadKind:  string(run.UploadKind),
		Documents:   len(docs),
		Chunks:      chunks,
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt: formatCompleted(run.CompletedAt),
		Error:       run.ErrorMessage,
	}
	for _, w := range wikis {
		summary.WikiRuns = append(summary.WikiRuns, w.ID)
	}
	return summary, nil
}

func (s *Server) stageSummaries(ctx context.Context, runID string) ([]StageSummary, error) {
	results, err := s.store.ListStageResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	stages := make([]StageSummary, 0, len(results))
	for _, sr := range results {
		stages = append(stages, StageSummary{
			Stage:           sr.StageName,
			Document:        sr.DocumentID,
			Status:          string(sr.Status),
			DurationSeconds: sr.DurationSeconds,
			Error:           sr.ErrorMessage,
		})
	}
	return stages, nil
}

func formatCompleted(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func clampLimit(v, def, min, max int) int {
	if v <= 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Serve starts the server on the given transport. Only stdio is
// supported; the knowledge base is reached through a local process,
// not a network service.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", "transport", transport)

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", "error", err)
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
