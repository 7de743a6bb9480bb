package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/answer"
	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
)

type answerOptions struct {
	runID    string
	topK     int
	language string
	jsonOut  bool
}

func newAnswerCmd() *cobra.Command {
	var opts answerOptions

	cmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Answer a question from indexed documents",
		Long: `Retrieve relevant chunks and synthesize a cited answer with the
configured language model. Every claim carries a [n] marker resolving
to a source document and page. Questions without supporting material
get an explicit "not found" answer rather than a guess.`,
		Example: `  conrag answer "hvilken brandmodstand kræves for etageadskillelser"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAnswer(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run", "", "Indexing run ID (default: latest run)")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "Chunks to retrieve for context (default: configured top_k)")
	cmd.Flags().StringVar(&opts.language, "language", "", "Answer language (default: configured language)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output the answer as JSON")

	return cmd
}

func runAnswer(ctx context.Context, cmd *cobra.Command, question string, opts answerOptions) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	r, err := newRetrieval(cfg, root)
	if err != nil {
		return err
	}
	defer r.close()

	runID, err := resolveRunID(ctx, r.meta, opts.runID)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewRegistry(cfg.Services.RateLimits)
	clients, err := llm.NewClients(cfg.LLMClientConfig(), limiter)
	if err != nil {
		return err
	}

	svc, err := answer.NewService(r.engine, clients.Chat, cfg.Query.Answer)
	if err != nil {
		return err
	}

	ans, err := svc.Answer(ctx, question, search.Options{
		IndexingRunID: runID,
		TopK:          opts.topK,
		Language:      cfg.Language(opts.language),
	})
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return out.JSON(ans)
	}
	out.Answer(ans)
	return nil
}
