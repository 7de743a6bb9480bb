package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/orchestrator"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

func newWikiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wiki",
		Short: "Generate and read project wikis",
		Long: `A wiki is a set of markdown pages generated from one indexing run:
overview first, then themed pages planned from the document corpus.
Pages live in the object store; the run row holds the table of
contents.`,
	}

	cmd.AddCommand(newWikiGenerateCmd())
	cmd.AddCommand(newWikiShowCmd())
	cmd.AddCommand(newWikiListCmd())

	return cmd
}

func newWikiGenerateCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a wiki from an indexing run",
		Example: `  # Wiki for the latest completed run
  conrag wiki generate

  # Wiki for a specific run
  conrag wiki generate --run 0194e7a2-91c3-7f1e-b2aa-3d61c2a4f9b0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWikiGenerate(ctx, cmd, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Indexing run ID (default: latest run)")

	return cmd
}

func runWikiGenerate(ctx context.Context, cmd *cobra.Command, runID string) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	p, err := newPipelines(cfg, root, nil)
	if err != nil {
		return err
	}
	defer p.close()

	indexingRunID, err := resolveRunID(ctx, p.meta, runID)
	if err != nil {
		return err
	}

	out.Statusf("📖", "Generating wiki for run %s", output.ShortID(indexingRunID))
	outcome, err := p.orch.Dispatch(ctx, orchestrator.Job{
		Kind:  orchestrator.JobWiki,
		RunID: indexingRunID,
	})
	if err != nil {
		return err
	}
	if outcome.Status != store.RunStatusCompleted {
		out.Errorf("Wiki run %s failed.", output.ShortID(outcome.RunID))
		return fmt.Errorf("wiki generation failed")
	}

	run, err := p.meta.GetWikiRun(ctx, outcome.RunID)
	if err != nil {
		return err
	}
	out.Successf("Wiki %s generated in %s (%d pages, %s)",
		output.ShortID(run.ID), outcome.Duration.Round(timeRounding), len(run.Pages), run.Language)
	out.Newline()
	out.WikiPages(run)
	return nil
}

func newWikiShowCmd() *cobra.Command {
	var (
		runID     string
		wikiRunID string
	)

	cmd := &cobra.Command{
		Use:   "show [page]",
		Short: "Print a wiki page, or the table of contents",
		Long: `Without arguments, prints the table of contents of the latest wiki.
A page is selected by its number or its title and printed as raw
markdown, so the output pipes cleanly into a pager or renderer.`,
		Example: `  conrag wiki show
  conrag wiki show 2
  conrag wiki show "Brandstrategi" | glow -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page := ""
			if len(args) == 1 {
				page = args[0]
			}
			return runWikiShow(cmd.Context(), cmd, page, runID, wikiRunID)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Indexing run ID (default: latest run)")
	cmd.Flags().StringVar(&wikiRunID, "wiki-run", "", "Wiki run ID (default: latest wiki for the indexing run)")

	return cmd
}

func runWikiShow(ctx context.Context, cmd *cobra.Command, page, runID, wikiRunID string) error {
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

	run, err := resolveWikiRun(ctx, meta, runID, wikiRunID)
	if err != nil {
		return err
	}

	if page == "" {
		out.WikiPages(run)
		return nil
	}

	selected, err := findWikiPage(run, page)
	if err != nil {
		return err
	}

	objects, err := objstore.New(cfg.ObjectStoreConfig(root))
	if err != nil {
		return err
	}
	defer objects.Close()

	content, err := objects.GetBytes(ctx, selected.StorageKey)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(content)
	return err
}

func resolveWikiRun(ctx context.Context, meta store.MetadataStore, runID, wikiRunID string) (*store.WikiRun, error) {
	if wikiRunID != "" {
		return meta.GetWikiRun(ctx, wikiRunID)
	}
	indexingRunID, err := resolveRunID(ctx, meta, runID)
	if err != nil {
		return nil, err
	}
	return meta.LatestWikiRun(ctx, indexingRunID)
}

// findWikiPage selects a page by order number, id or title, case folded.
func findWikiPage(run *store.WikiRun, page string) (*store.WikiPageMeta, error) {
	if n, err := strconv.Atoi(page); err == nil {
		for i := range run.Pages {
			if run.Pages[i].Order == n {
				return &run.Pages[i], nil
			}
		}
		return nil, fmt.Errorf("wiki has no page %d (1-%d)", n, len(run.Pages))
	}
	for i := range run.Pages {
		if strings.EqualFold(run.Pages[i].ID, page) ||
			strings.EqualFold(run.Pages[i].Title, page) ||
			run.Pages[i].Filename == page {
			return &run.Pages[i], nil
		}
	}
	return nil, fmt.Errorf("no wiki page titled %q, try 'conrag wiki show' for the table of contents", page)
}

func newWikiListCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List wiki runs for an indexing run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWikiList(cmd.Context(), cmd, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Indexing run ID (default: latest run)")

	return cmd
}

func runWikiList(ctx context.Context, cmd *cobra.Command, runID string) error {
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

	indexingRunID, err := resolveRunID(ctx, meta, runID)
	if err != nil {
		return err
	}

	runs, err := meta.ListWikiRuns(ctx, indexingRunID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		out.Status("", "No wiki runs yet. Run 'conrag wiki generate'.")
		return nil
	}
	for _, run := range runs {
		out.Statusf("", "%s  %s  %d pages  %s",
			output.ShortID(run.ID), run.Status, len(run.Pages), run.StartedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
