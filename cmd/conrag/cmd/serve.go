package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/mcp"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge base over MCP",
		Long: `Expose retrieval, wiki pages and run history to AI clients over the
Model Context Protocol. The stdio transport speaks JSON-RPC on
stdin/stdout, so the command prints nothing itself; logs go to the
log file.`,
		Example: `  # In an MCP client configuration:
  #   "command": "conrag", "args": ["serve"]
  conrag serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")

	return cmd
}

func runServe(ctx context.Context, transport string) error {
	root := projectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cleanup := setupCLILogging(cfg, root)
	defer cleanup()

	r, err := newRetrieval(cfg, root)
	if err != nil {
		return err
	}
	defer r.close()

	objects, err := objstore.New(cfg.ObjectStoreConfig(root))
	if err != nil {
		return err
	}
	defer objects.Close()

	srv, err := mcp.NewServer(mcp.Deps{
		Store:     r.meta,
		Retriever: r.engine,
		Objects:   objects,
		Config:    cfg,
	})
	if err != nil {
		return err
	}

	return srv.Serve(ctx, transport)
}
