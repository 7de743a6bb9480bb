package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

type cleanupOptions struct {
	failed    bool
	olderThan time.Duration
	dryRun    bool
}

func newCleanupCmd() *cobra.Command {
	var opts cleanupOptions

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete indexing runs and their stored artifacts",
		Long: `Delete indexing runs matching the given criteria, together with
their chunks, vectors, wiki runs, checklist runs and object store
artifacts. Documents shared with surviving runs are kept. Both
criteria together select failed runs older than the cutoff.`,
		Example: `  # Remove failed runs
  conrag cleanup --failed

  # Remove anything older than 30 days, preview first
  conrag cleanup --older-than 720h --dry-run
  conrag cleanup --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCleanup(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.failed, "failed", false, "Delete failed runs")
	cmd.Flags().DurationVar(&opts.olderThan, "older-than", 0, "Delete runs started before now minus this duration")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be deleted without deleting")

	return cmd
}

func runCleanup(ctx context.Context, cmd *cobra.Command, opts cleanupOptions) error {
	if !opts.failed && opts.olderThan <= 0 {
		return fmt.Errorf("nothing selected: pass --failed, --older-than or both")
	}

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

	objects, err := objstore.New(cfg.ObjectStoreConfig(root))
	if err != nil {
		return err
	}
	defer objects.Close()

	vectors, err := store.NewHNSWStore(cfg.VectorDir(root), cfg.Storage.Vector)
	if err != nil {
		return err
	}
	defer vectors.Close()

	runs, err := meta.ListIndexingRuns(ctx, 1000)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-opts.olderThan)
	deleted := 0
	for _, run := range runs {
		if !cleanupMatches(run, opts, cutoff) {
			continue
		}
		if opts.dryRun {
			out.Statusf("", "Would delete run %s (%s, started %s)",
				output.ShortID(run.ID), run.Status, run.StartedAt.Format("2006-01-02"))
			deleted++
			continue
		}
		if err := deleteRun(ctx, meta, objects, vectors, run.ID); err != nil {
			return fmt.Errorf("delete run %s: %w", output.ShortID(run.ID), err)
		}
		out.Statusf("🗑️ ", "Deleted run %s (%s)", output.ShortID(run.ID), run.Status)
		deleted++
	}

	switch {
	case deleted == 0:
		out.Status("", "No runs matched.")
	case opts.dryRun:
		out.Statusf("", "Would delete %d runs. Re-run without --dry-run to proceed.", deleted)
	default:
		out.Successf("Deleted %d runs.", deleted)
	}
	return nil
}

func cleanupMatches(run *store.IndexingRun, opts cleanupOptions, cutoff time.Time) bool {
	if opts.failed && run.Status != store.RunStatusFailed {
		return false
	}
	if opts.olderThan > 0 && !run.StartedAt.Before(cutoff) {
		return false
	}
	return true
}

// deleteRun removes one run everywhere: metadata cascade, object store
// prefixes and the vector graph. Wiki runs are collected before the
// cascade removes their rows.
func deleteRun(ctx context.Context, meta store.MetadataStore, objects objstore.Store, vectors *store.HNSWStore, runID string) error {
	wikis, err := meta.ListWikiRuns(ctx, runID)
	if err != nil {
		return err
	}
	if err := meta.DeleteIndexingRun(ctx, runID); err != nil {
		return err
	}
	if err := objects.RemovePrefix(ctx, objstore.RunPrefix(runID)); err != nil {
		return err
	}
	for _, w := range wikis {
		if err := objects.RemovePrefix(ctx, objstore.WikiPrefix(w.ID)); err != nil {
			return err
		}
	}
	return vectors.DropRun(runID)
}
