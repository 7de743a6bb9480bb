package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/orchestrator"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

type checklistOptions struct {
	runID   string
	name    string
	jsonOut bool
}

func newChecklistCmd() *cobra.Command {
	var opts checklistOptions

	cmd := &cobra.Command{
		Use:   "checklist <file>",
		Short: "Analyze indexed documents against a checklist",
		Long: `Run a checklist of requirements against one indexing run. The
checklist is a plain text or markdown file with one requirement per
line or bullet; numbering like "1.1" is preserved as the item ID.
Each item is classified as found, missing, risk or conditions met,
with cited sources.`,
		Example: `  conrag checklist myndighedskrav.md
  conrag checklist kvalitetskrav.txt --run 0194e7a2 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChecklist(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run", "", "Indexing run ID (default: latest run)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Checklist name (default: the file name)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func runChecklist(ctx context.Context, cmd *cobra.Command, path string, opts checklistOptions) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checklist: %w", err)
	}
	name := opts.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

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

	indexingRunID, err := resolveRunID(ctx, p.meta, opts.runID)
	if err != nil {
		return err
	}

	out.Statusf("📋", "Analyzing %q against run %s", name, output.ShortID(indexingRunID))
	outcome, err := p.orch.Dispatch(ctx, orchestrator.Job{
		Kind:          orchestrator.JobChecklist,
		RunID:         indexingRunID,
		ChecklistName: name,
		Checklist:     string(raw),
	})
	if err != nil {
		return err
	}
	if outcome.Status != store.RunStatusCompleted {
		out.Errorf("Checklist run %s failed.", output.ShortID(outcome.RunID))
		return fmt.Errorf("checklist analysis failed")
	}

	results, err := p.meta.ListChecklistResults(ctx, outcome.RunID)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return out.JSON(results)
	}
	out.Successf("Analyzed %d items in %s", len(results), outcome.Duration.Round(timeRounding))
	out.Newline()
	out.ChecklistResults(results)
	out.Newline()
	out.Status("", checklistSummary(results))
	return nil
}

// checklistSummary counts findings per status for the footer line.
func checklistSummary(results []store.ChecklistResult) string {
	var found, missing, risks, conditional int
	for _, r := range results {
		switch r.Status {
		case store.ChecklistFound:
			found++
		case store.ChecklistMissing:
			missing++
		case store.ChecklistRisk:
			risks++
		case store.ChecklistConditionsMet:
			conditional++
		}
	}
	return fmt.Sprintf("%d found, %d missing, %d risks, %d conditional",
		found, missing, risks, conditional)
}
