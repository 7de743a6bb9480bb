package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/async"
	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/orchestrator"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/internal/ui"
	"github.com/jepras/ConstructionRAG-sub001/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var inbox string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch an inbox directory and index dropped PDFs",
		Long: `Watch a directory for new PDFs and index them automatically. Files
are picked up once they have been quiet for the debounce window, so
slow copies of large drawing sets are not indexed half-written. Each
debounced batch becomes one indexing run of kind email, the same as
an anonymous mail-in upload.

Files already in the inbox when the watch starts are not indexed;
run 'conrag index <inbox>' first to catch up.`,
		Example: `  conrag watch
  conrag watch --inbox ~/Drop/byggesager`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, inbox)
		},
	}

	cmd.Flags().StringVar(&inbox, "inbox", "", "Directory to watch (default: <root>/inbox)")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, inbox string) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	if inbox == "" {
		inbox = filepath.Join(root, "inbox")
	}
	if err := os.MkdirAll(inbox, 0755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	// Watch runs unattended, so progress goes through the plain
	// renderer rather than the TUI.
	renderer := ui.NewPlainRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithNoColor(rootOpts.noColor)))

	p, err := newPipelines(cfg, root, renderer)
	if err != nil {
		return err
	}
	defer p.close()

	if err := os.MkdirAll(cfg.LockDir(root), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	queue := async.NewQueue(async.Config{
		LockPath: filepath.Join(cfg.LockDir(root), "watch.lock"),
	})
	if err := queue.Start(ctx); err != nil {
		if conerrors.IsKind(err, conerrors.KindConflict) {
			return fmt.Errorf("another 'conrag watch' is already running for this project")
		}
		return err
	}
	defer queue.Stop()

	opts := watcher.DefaultOptions()
	opts.DebounceWindow = cfg.WatchDebounce()
	w, err := watcher.NewInbox(opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	go consumeEvents(w, queue, p, out)
	go func() {
		for werr := range w.Errors() {
			slog.Warn("watch_error", "error", werr)
		}
	}()

	out.Statusf("👀", "Watching %s for PDFs (Ctrl-C to stop)", inbox)
	err = w.Start(ctx, inbox)

	queue.Stop()
	if dropped := w.DroppedBatches(); dropped > 0 {
		out.Warningf("%d event batches were dropped; run 'conrag index %s' to catch up.", dropped, inbox)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	out.Success("Watch stopped.")
	return nil
}

// consumeEvents turns debounced batches into queued indexing jobs.
func consumeEvents(w *watcher.InboxWatcher, queue *async.Queue, p *pipelines, out *output.Writer) {
	for batch := range w.Events() {
		paths := batchPDFs(w.Root(), batch)
		if len(paths) == 0 {
			continue
		}
		name := filepath.Base(paths[0])
		if len(paths) > 1 {
			name = fmt.Sprintf("%s and %d more", name, len(paths)-1)
		}
		out.Statusf("📥", "Queued %s", name)
		queue.Enqueue(async.Task{
			Name: name,
			Run: func(ctx context.Context) error {
				return indexBatch(ctx, p, out, paths)
			},
		})
	}
}

// batchPDFs extracts the indexable absolute paths from one event batch.
// Deletions are logged only; already indexed runs keep their chunks.
func batchPDFs(root string, batch []watcher.FileEvent) []string {
	var paths []string
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify, watcher.OpRename:
			paths = append(paths, filepath.Join(root, ev.Path))
		case watcher.OpDelete:
			slog.Info("inbox_file_removed", "path", ev.Path)
		}
	}
	return paths
}

func indexBatch(ctx context.Context, p *pipelines, out *output.Writer, paths []string) error {
	res, err := p.ingestor.Ingest(ctx, paths, store.UploadKindEmail, uuid.NewString())
	if err != nil {
		return err
	}
	outcome, err := p.orch.Dispatch(ctx, orchestrator.Job{
		Kind:  orchestrator.JobIndexing,
		RunID: res.RunID,
	})
	if err != nil {
		return err
	}
	switch outcome.Status {
	case store.RunStatusCompleted:
		out.Successf("Indexed run %s in %s", output.ShortID(outcome.RunID), outcome.Duration.Round(timeRounding))
	case store.RunStatusCompletedWithWarnings:
		out.Warningf("Run %s completed with failed documents.", output.ShortID(outcome.RunID))
	default:
		out.Errorf("Run %s failed. See 'conrag runs status %s'.",
			output.ShortID(outcome.RunID), output.ShortID(outcome.RunID))
	}
	return nil
}
