package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
	"github.com/odyssey-erp/bizledger/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		pool, err := db.New(cmd.Context(), cfg.PGDSN, 2)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return err
		}
		defer pool.Close()

		applied, err := migrations.Apply(cmd.Context(), pool, logger)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}
