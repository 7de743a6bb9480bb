package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/orchestrator"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/preflight"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/internal/ui"
)

type indexOptions struct {
	kind      string
	uploadID  string
	noTUI     bool
	skipCheck bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Index PDF documents into the knowledge base",
		Long: `Index PDF documents through the five-stage pipeline: partition,
metadata, enrichment, chunking and embedding.

Directories are walked with the configured include and exclude globs;
files are taken as-is. Each invocation creates one indexing run over
the discovered set. With auto wiki enabled a completed run chains a
wiki generation run.`,
		Example: `  # Index the tender documents directory
  conrag index ./tender-docs

  # Index two files as one anonymous email upload
  conrag index a.pdf b.pdf --kind email`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			inputs := args
			if len(inputs) == 0 {
				inputs = []string{"."}
			}
			return runIndex(ctx, cmd, inputs, opts)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", "project", "Upload kind: project or email")
	cmd.Flags().StringVar(&opts.uploadID, "upload-id", "", "Upload group ID (default: a new UUID)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI progress, use plain text output")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip pre-flight checks")

	return cmd
}

func uploadKind(s string) (store.UploadKind, error) {
	switch s {
	case "project", string(store.UploadKindProject):
		return store.UploadKindProject, nil
	case string(store.UploadKindEmail):
		return store.UploadKindEmail, nil
	default:
		return "", fmt.Errorf("unknown upload kind %q (use project or email)", s)
	}
}

func runIndex(ctx context.Context, cmd *cobra.Command, inputs []string, opts indexOptions) error {
	kind, err := uploadKind(opts.kind)
	if err != nil {
		return err
	}

	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	if !opts.skipCheck {
		if err := quickPreflight(ctx, cfg, root); err != nil {
			return err
		}
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(rootOpts.noColor)))

	p, err := newPipelines(cfg, root, renderer)
	if err != nil {
		return err
	}
	defer p.close()

	uploadID := opts.uploadID
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	res, err := p.ingestor.Ingest(ctx, inputs, kind, uploadID)
	if err != nil {
		return err
	}
	out.Statusf("📄", "Registered %d documents (%d reused) in run %s",
		len(res.Documents), res.Reused, output.ShortID(res.RunID))

	outcome, err := p.orch.Dispatch(ctx, orchestrator.Job{
		Kind:  orchestrator.JobIndexing,
		RunID: res.RunID,
	})
	if err != nil {
		return err
	}

	switch outcome.Status {
	case store.RunStatusCompleted:
		out.Successf("Indexing run %s completed in %s",
			output.ShortID(outcome.RunID), outcome.Duration.Round(timeRounding))
	case store.RunStatusCompletedWithWarnings:
		out.Warningf("Indexing run %s completed with failed documents (%s). See 'conrag runs status %s'.",
			output.ShortID(outcome.RunID), outcome.Duration.Round(timeRounding), output.ShortID(outcome.RunID))
	default:
		out.Errorf("Indexing run %s failed. See 'conrag runs status %s'.",
			output.ShortID(outcome.RunID), output.ShortID(outcome.RunID))
		return fmt.Errorf("indexing failed")
	}
	return nil
}

// quickPreflight runs the cheap local checks when the marker is
// missing, matching what a full 'conrag doctor' would catch before any
// upstream call is made.
func quickPreflight(ctx context.Context, cfg *config.Config, root string) error {
	dataDir := cfg.DataDir(root)
	if !preflight.NeedsCheck(dataDir) {
		return nil
	}
	checker := preflight.New(
		preflight.WithConfig(cfg),
		preflight.WithOffline(true),
		preflight.WithOutput(io.Discard),
	)
	results := checker.RunAll(ctx, root)
	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed, run 'conrag doctor' for details")
	}
	// A failed marker write only means the next run re-checks.
	_ = preflight.MarkPassed(dataDir)
	return nil
}
