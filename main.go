package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/config"
	"github.com/ekaya-inc/auto-dw/pkg/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "auto-dw",
	Short: "auto-dw - Data Vault schema synthesis for PostgreSQL",
	Long: `auto-dw turns classified source columns into a Data Vault 2.0 warehouse.

Columns classified as business key parts become hubs, descriptors become
satellites. A build persists the model, creates the tables and loads them
with idempotent SQL.

Examples:
  auto-dw migrate                          # Create the auto_dw bookkeeping tables
  auto-dw status                           # Show classification progress
  auto-dw build --load                     # Build from classified columns and load
  auto-dw build --feed feed.json --dry-run # Print the SQL a feed would produce
  auto-dw load <build-id>                  # Reload a persisted build
  auto-dw serve                            # Start the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, Version)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = logging.NewLogger(cfg.Env, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, migrateCmd, buildCmd, loadCmd, schemaCmd, sqlCmd, buildsCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
