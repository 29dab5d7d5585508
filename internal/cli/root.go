package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"hasura_meta_reconciler/internal/config"
	"hasura_meta_reconciler/internal/hasura"
	"hasura_meta_reconciler/internal/logging"
	"hasura_meta_reconciler/internal/reconcile"
)

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Declarative schema and metadata reconciler for Postgres + Hasura",
	Long: `reconciler drives a Postgres database and a Hasura GraphQL engine
toward a declared state with idempotent define operations, and generates
audit-logging triggers from a declarative target config.

Examples:

  reconciler migrate
  reconciler logs --config logs.config.json
  reconciler serve
`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemasCmd)
	rootCmd.AddCommand(tablesCmd)
}

// setup loads config and wires the reconciler stack shared by every
// subcommand.
func setup() (config.Config, *slog.Logger, *reconcile.Reconciler, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	client := hasura.NewClient(cfg.HasuraEndpoint, cfg.HasuraAdminKey)
	rec := reconcile.New(client, logger)
	return cfg, logger, rec, nil
}
