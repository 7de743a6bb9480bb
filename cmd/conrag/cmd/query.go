package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/output"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

type queryOptions struct {
	runID         string
	topK          int
	language      string
	minSimilarity float64
	keyword       bool
	jsonOut       bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search indexed documents",
		Long: `Search one indexing run semantically. The query is embedded and
matched against chunk vectors; results below the language's minimum
similarity are dropped. With --keyword the query goes to the exact
term index instead, useful for standard references like "DS 432".`,
		Example: `  # Semantic search over the latest run
  conrag query "hvem har ansvar for kloakarbejdet"

  # Exact term lookup
  conrag query "REI 60" --keyword`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runQuery(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run", "", "Indexing run ID (default: latest run)")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "Maximum results (default: configured top_k)")
	cmd.Flags().StringVar(&opts.language, "language", "", "Language for similarity thresholds (default: configured language)")
	cmd.Flags().Float64Var(&opts.minSimilarity, "min-similarity", 0, "Override the minimum similarity threshold")
	cmd.Flags().BoolVar(&opts.keyword, "keyword", false, "Exact term search instead of semantic search")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, query string, opts queryOptions) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	if opts.keyword {
		return runKeywordQuery(ctx, out, cfg, root, query, opts)
	}

	r, err := newRetrieval(cfg, root)
	if err != nil {
		return err
	}
	defer r.close()

	runID, err := resolveRunID(ctx, r.meta, opts.runID)
	if err != nil {
		return err
	}

	results, err := r.engine.Search(ctx, query, search.Options{
		IndexingRunID: runID,
		TopK:          opts.topK,
		Language:      cfg.Language(opts.language),
		MinSimilarity: opts.minSimilarity,
	})
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return out.JSON(results)
	}
	out.SearchResults(results)
	return nil
}

func runKeywordQuery(ctx context.Context, out *output.Writer, cfg *config.Config, root, query string, opts queryOptions) error {
	if !cfg.Query.Keyword.Enabled {
		return fmt.Errorf("keyword search is disabled (set query.keyword.enabled: true and re-index)")
	}

	meta, err := openMetadata(cfg, root)
	if err != nil {
		return err
	}
	defer meta.Close()

	runID, err := resolveRunID(ctx, meta, opts.runID)
	if err != nil {
		return err
	}

	kidx, err := store.NewKeywordIndex(meta.DB(), cfg.DataDir(root), cfg.Query.Keyword.Index)
	if err != nil {
		return err
	}
	defer kidx.Close()

	limit := opts.topK
	if limit <= 0 {
		limit = cfg.Query.Retrieval.TopK
	}
	matches, err := kidx.Search(ctx, runID, query, limit)
	if err != nil {
		return err
	}

	hits, err := resolveKeywordHits(ctx, meta, matches)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return out.JSON(hits)
	}
	out.KeywordResults(hits)
	return nil
}

// resolveKeywordHits loads the matched chunks and pairs them with their
// scores in match order.
func resolveKeywordHits(ctx context.Context, meta store.MetadataStore, matches []*store.KeywordResult) ([]output.KeywordHit, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
	}
	chunks, err := meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	hits := make([]output.KeywordHit, 0, len(matches))
	for _, m := range matches {
		chunk, ok := byID[m.ChunkID]
		if !ok {
			continue
		}
		hits = append(hits, output.KeywordHit{
			Chunk:        chunk,
			Score:        m.Score,
			MatchedTerms: m.MatchedTerms,
		})
	}
	return hits, nil
}
