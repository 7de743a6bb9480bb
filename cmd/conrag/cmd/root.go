// Package cmd provides the CLI commands for conrag.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jepras/ConstructionRAG-sub001/pkg/version"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	root    string
	noColor bool
}

var rootOpts rootOptions

// NewRootCmd creates the root command for the conrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conrag",
		Short: "Construction document knowledge base",
		Long: `conrag turns construction project PDFs into a searchable knowledge
base. The indexing pipeline partitions, enriches, chunks and embeds
documents; retrieval, wiki generation and checklist analysis run over
the indexed corpus.

Point it at a directory of PDFs to get started:

  conrag index ./tender-docs
  conrag query "hvem har ansvar for kloakarbejdet"`,
		Version: version.Version,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// A .env in the working directory supplies API keys during
			// development. A missing file is fine.
			_ = godotenv.Load()
			return nil
		},
	}

	cmd.SetVersionTemplate("conrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&rootOpts.root, "root", "", "Project root (default: nearest directory with a .conrag marker)")
	cmd.PersistentFlags().BoolVar(&rootOpts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newAnswerCmd())
	cmd.AddCommand(newWikiCmd())
	cmd.AddCommand(newChecklistCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
