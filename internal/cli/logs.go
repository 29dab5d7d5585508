package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hasura_meta_reconciler/internal/audit"
)

var (
	logsConfigPath string
	logsTimeout    time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Regenerate audit-logging triggers from the target config",
	Long: `logs tears down every previously generated diff and state trigger and
recreates the set described by the target config. A missing config file is
a warning, not a failure: the audit subsystem is simply skipped.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLogs(); err != nil {
			color.Red("logs apply failed: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	logsCmd.Flags().StringVarP(&logsConfigPath, "config", "c", "", "diffs/states target config (.json, .yaml); defaults to RECONCILER_LOGS_CONFIG")
	logsCmd.Flags().DurationVarP(&logsTimeout, "timeout", "t", 5*time.Minute, "overall timeout for the apply")
}

func runLogs() error {
	cfg, logger, rec, err := setup()
	if err != nil {
		return err
	}

	path := logsConfigPath
	if path == "" {
		path = cfg.LogsConfigPath
	}
	targets, err := audit.LoadConfig(path)
	if err != nil {
		if errors.Is(err, audit.ErrNoConfig) {
			color.Yellow("no audit target config at %s, skipping", path)
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), logsTimeout)
	defer cancel()

	gen := audit.NewGenerator(rec, audit.DefaultKeys(), cfg.ExcludedSchemas, logger)
	if err := gen.ApplyDiffs(ctx, targets.Diffs); err != nil {
		return err
	}
	if err := gen.ApplyStates(ctx, targets.States); err != nil {
		return err
	}
	color.Green("audit triggers regenerated (%d diff, %d state targets)", len(targets.Diffs), len(targets.States))
	return nil
}
