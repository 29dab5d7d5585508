package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hasura_meta_reconciler/internal/migrations"
)

var migrateTimeout time.Duration

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMigrate(); err != nil {
			color.Red("migration failed: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	migrateCmd.Flags().DurationVarP(&migrateTimeout, "timeout", "t", 5*time.Minute, "overall timeout for the migration run")
}

func runMigrate() error {
	_, logger, rec, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	runner := migrations.NewRunner(rec, logger)
	applied, err := runner.Apply(ctx, migrations.All())
	if err != nil {
		return err
	}
	if applied == 0 {
		fmt.Println("no pending migrations")
		return nil
	}
	color.Green("applied %d migration(s)", applied)
	return nil
}
