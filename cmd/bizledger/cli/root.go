// Package cli provides the bizledger commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/bizledger/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "bizledger",
	Short: "Multi-tenant small business ledger",
	Long: `bizledger serves the ledger HTTP API and provides operational helpers.

Example:
  bizledger serve
  bizledger migrate
  bizledger jobs trigger ledger:reconcile --company 3`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, newJobsCmd(nil))
}

// loadRuntime reads configuration and builds the process logger.
func loadRuntime() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return nil, nil, err
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
