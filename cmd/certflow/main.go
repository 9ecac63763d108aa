package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported
	datasetPath string
	headed      bool

	// Global state, set by loadConfig
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "certflow",
	Short: "certflow retrieves registry certificates for every pending row of a dataset.",
	Long: `certflow drives the registry portal in a browser, one dataset row at a time.
The dataset's status column is the only progress ledger, so a run can be
stopped and restarted at any point without repeating finished rows.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&datasetPath, "dataset", "", "Dataset xlsx path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headed, "headed", false, "Show the browser window")

	rootCmd.AddCommand(runCmd, serveCmd, statusCmd, versionCmd)
}

// loadConfig runs the startup sequence shared by every command:
// defaults -> files -> env -> flags, then logger, then banner.
func loadConfig(overrides common.FlagOverrides) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("certflow.toml"); err == nil {
			configFiles = append(configFiles, "certflow.toml")
		} else if _, err := os.Stat("deployments/local/certflow.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/certflow.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	overrides.Dataset = datasetPath
	overrides.Headed = headed
	common.ApplyFlagOverrides(config, overrides)

	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.SetupLogger(config)
	common.PrintBanner(config, logger)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")
	return nil
}

func main() {
	defer common.RecoverWithCrashFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
