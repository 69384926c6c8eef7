package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ledgersync/internal/config"
	"ledgersync/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Ledgersync - billing ledger sync engine",
	Long: `Ledgersync stores extracted delivery notes and purchase invoices per
company and billing month, and keeps a monthly billing spreadsheet in step
with what was stored.

Batches are saved exactly once per request token, company names are matched
against the spreadsheet's spelling, and the reconcile command reports every
place where the store and the spreadsheet have drifted apart.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json, toml or .env); the environment overrides it")
}

func setup(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := logger.Setup(loaded.GetLoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetRequestID(uuid.NewString())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, configKey{}, loaded))

	log := logger.WithComponent("cmd")
	log.Debug().
		Str("command", cmd.CommandPath()).
		Str("db_driver", loaded.DBDriver).
		Bool("mirror", loaded.MirrorEnabled()).
		Msg("Configuration loaded")
	return nil
}

type configKey struct{}

// commandConfig returns the configuration the root pre-run loaded for cmd.
func commandConfig(cmd *cobra.Command) (*config.Config, error) {
	if ctx := cmd.Context(); ctx != nil {
		if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("configuration not loaded for %s", cmd.CommandPath())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	// Skips config loading so it works without a valid configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ledgersync %s\n", version)
	},
}
