package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hasura_meta_reconciler/internal/audit"
	"hasura_meta_reconciler/internal/db"
	"hasura_meta_reconciler/internal/httpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event webhook server that materializes diff patches",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			color.Red("server failed: %v", err)
			os.Exit(1)
		}
	},
}

func runServe() error {
	cfg, logger, _, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	events := httpserver.EventHandler{
		Materializer: audit.NewMaterializer(pool, logger),
		Logger:       logger,
	}
	srv := httpserver.New(cfg, logger, pool, events)
	return srv.Start(ctx)
}
