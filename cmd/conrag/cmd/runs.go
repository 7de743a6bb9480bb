package cmd

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/telemetry"
	"github.com/jepras/ConstructionRAG-sub001/internal/ui"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect indexing runs",
	}

	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsStatusCmd())
	cmd.AddCommand(newRunsStatsCmd())

	return cmd
}

func newRunsListCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexing runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsList(cmd.Context(), cmd, limit, jsonOut)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func runRunsList(ctx context.Context, cmd *cobra.Command, limit int, jsonOut bool) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	meta, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer meta.Close()

	runs, err := meta.ListIndexingRuns(ctx, limit)
	if err != nil {
		return err
	}

	rows := make([]output.RunRow, 0, len(runs))
	for _, run := range runs {
		docs, err := meta.ListRunDocuments(ctx, run.ID)
		if err != nil {
			return err
		}
		total, _, err := meta.ChunkStats(ctx, run.ID)
		if err != nil {
			return err
		}
		completed := "-"
		if run.CompletedAt != nil {
			completed = run.CompletedAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, output.RunRow{
			ID:        run.ID,
			Status:    string(run.Status),
			Kind:      string(run.UploadKind),
			Documents: len(docs),
			Chunks:    total,
			Started:   run.StartedAt.Format("2006-01-02 15:04"),
			Completed: completed,
		})
	}

	if jsonOut {
		return out.JSON(rows)
	}
	out.RunList(rows)
	return nil
}

func newRunsStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show one run's progress, errors and storage footprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runRunsStatus(cmd.Context(), cmd, runID, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func runRunsStatus(ctx context.Context, cmd *cobra.Command, runID string, jsonOut bool) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	meta, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer meta.Close()

	runID, err = resolveRunID(ctx, meta, runID)
	if err != nil {
		return err
	}
	run, err := meta.GetIndexingRun(ctx, runID)
	if err != nil {
		return err
	}

	docs, err := meta.ListRunDocuments(ctx, runID)
	if err != nil {
		return err
	}
	total, embedded, err := meta.ChunkStats(ctx, runID)
	if err != nil {
		return err
	}
	wikis, err := meta.ListWikiRuns(ctx, runID)
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		RunID:              run.ID,
		Status:             string(run.Status),
		ErrorMessage:       run.ErrorMessage,
		Documents:          len(docs),
		TotalChunks:        total,
		Embedded:           embedded,
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
		MetadataSize:       fileSize(cfg.DBPath(root)),
		VectorSize:         dirSize(cfg.VectorDir(root)),
		KeywordSize:        dirSize(filepath.Join(cfg.DataDir(root), "keyword.bleve")),
		ObjectsSize:        runObjectsSize(ctx, cfg, root, runID),
		EmbedderModel:      cfg.Indexing.Embedding.Model,
		EmbedderDimensions: cfg.Indexing.Embedding.Dimensions,
		WikiRuns:           len(wikis),
	}
	info.TotalSize = info.MetadataSize + info.VectorSize + info.KeywordSize + info.ObjectsSize

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), rootOpts.noColor)
	if jsonOut {
		return renderer.RenderJSON(info)
	}
	renderer.Render(info)
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			size += fi.Size()
		}
		return nil
	})
	return size
}

// runObjectsSize sums the stored artifacts under the run's prefix.
// Best effort: an unreachable object store reports zero rather than
// failing the status command.
func runObjectsSize(ctx context.Context, cfg *config.Config, root, runID string) int64 {
	objects, err := objstore.New(cfg.ObjectStoreConfig(root))
	if err != nil {
		slog.Debug("status_objects_skipped", "error", err)
		return 0
	}
	defer objects.Close()

	infos, err := objects.List(ctx, objstore.RunPrefix(runID))
	if err != nil {
		slog.Debug("status_objects_skipped", "error", err)
		return 0
	}
	var size int64
	for _, info := range infos {
		size += info.Size
	}
	return size
}

func newRunsStatsCmd() *cobra.Command {
	var (
		days    int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregated query telemetry",
		Long: `Show query statistics aggregated from the telemetry tables: volume
by query type and language, the most frequent search terms and recent
queries that returned nothing. Queries are never stored verbatim
except in the zero-result list, which exists to reveal vocabulary
gaps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsStats(cmd.Context(), cmd, days, jsonOut)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Days of history to aggregate")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

type queryStats struct {
	From        string                        `json:"from"`
	To          string                        `json:"to"`
	TypeCounts  map[telemetry.QueryType]int64 `json:"type_counts"`
	Languages   map[string]int64              `json:"languages"`
	TopTerms    []telemetry.TermCount         `json:"top_terms"`
	ZeroResults []string                      `json:"zero_result_queries"`
}

func runRunsStats(ctx context.Context, cmd *cobra.Command, days int, jsonOut bool) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	meta, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer meta.Close()

	ms, err := telemetry.NewSQLiteMetricsStore(meta.DB())
	if err != nil {
		return err
	}

	now := time.Now()
	stats := queryStats{
		From: now.AddDate(0, 0, -days).Format("2006-01-02"),
		To:   now.Format("2006-01-02"),
	}
	if stats.TypeCounts, err = ms.GetQueryTypeCounts(stats.From, stats.To); err != nil {
		return err
	}
	if stats.Languages, err = ms.GetLanguageCounts(stats.From, stats.To); err != nil {
		return err
	}
	if stats.TopTerms, err = ms.GetTopTerms(10); err != nil {
		return err
	}
	if stats.ZeroResults, err = ms.GetZeroResultQueries(10); err != nil {
		return err
	}

	if jsonOut {
		return out.JSON(stats)
	}

	out.Statusf("", "Query statistics %s to %s", stats.From, stats.To)
	out.Newline()
	var total int64
	for qt, n := range stats.TypeCounts {
		out.Statusf("", "%-10s %d", qt, n)
		total += n
	}
	if total == 0 {
		out.Status("", "No queries recorded in this period.")
		return nil
	}
	out.Newline()
	for lang, n := range stats.Languages {
		out.Statusf("", "%-10s %d", lang, n)
	}
	if len(stats.TopTerms) > 0 {
		out.Newline()
		out.Status("", "Top terms:")
		for _, tc := range stats.TopTerms {
			out.Statusf("", "  %-20s %d", tc.Term, tc.Count)
		}
	}
	if len(stats.ZeroResults) > 0 {
		out.Newline()
		out.Status("", "Zero-result queries:")
		for _, q := range stats.ZeroResults {
			out.Statusf("", "  %q", q)
		}
	}
	return nil
}
