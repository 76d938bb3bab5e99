// Package commands defines all Cobra CLI commands for the ragstack binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack-go/internal/audit"
	"github.com/ragstack/ragstack-go/internal/config"
	"github.com/ragstack/ragstack-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragstack",
		Short: "ragstack — retrieval-augmented question answering over your documents",
		Long: `ragstack keeps a private document collection synchronized with a Qdrant
vector store and answers natural language questions grounded in it.

Documents live in a local SQLite database; each synchronized document has a
matching embedding in Qdrant. Queries are embedded, matched against the
collection, and answered by the configured generation model with the
retrieved passages as context.

Model and embedding providers are selected via environment variables
(MODEL_PROVIDER, EMBEDDING_PROVIDER) or a YAML config file
(~/.ragstack/config.yaml). See 'ragstack --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragstack/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewAddCmd(),
		NewSyncCmd(),
		NewServeCmd(),
		NewWorkerCmd(),
		NewVersionCmd(),
	)

	return root
}
