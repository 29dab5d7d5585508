package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "List user schemas in the target database",
	Run: func(cmd *cobra.Command, args []string) {
		_, _, rec, err := setup()
		if err != nil {
			color.Red("%v", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		schemas, err := rec.Schemas(ctx)
		if err != nil {
			color.Red("%v", err)
			os.Exit(1)
		}
		for _, s := range schemas {
			fmt.Println(s)
		}
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables <schema>",
	Short: "List base tables of a schema",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, _, rec, err := setup()
		if err != nil {
			color.Red("%v", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		tables, err := rec.Tables(ctx, args[0])
		if err != nil {
			color.Red("%v", err)
			os.Exit(1)
		}
		for _, t := range tables {
			fmt.Println(t)
		}
	},
}
