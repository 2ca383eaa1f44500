// Package commands implements the neuralock CLI commands.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/cmd/neuralock/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "neuralock",
	Short: "EEG biometric authentication pipeline",
	Long: `neuralock - offline training and online verification for
EEG-based identity verification.

The offline pipeline turns raw BDF recordings into a model bundle:

  neuralock preprocess --input data/raw --output data/processed
  neuralock train --data data/processed --bundle models/prod

The online pipeline serves enrollment and verification from a bundle:

  neuralock enroll --bundle models/prod --user alice data/alice/*.bin
  neuralock verify --bundle models/prod --user alice probe.bin

Configuration is YAML (see --config); every field has a default.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "pipeline config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves the pipeline configuration for a command.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
