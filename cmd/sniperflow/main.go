package main

import (
	"fmt"
	"os"

	"sniperflow/config"
	"sniperflow/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "sniperflow",
	Short:         "Aggregate option ticks into 1-minute bars and score them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory holding config.yaml")
	rootCmd.AddCommand(runCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	// viper config
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, err
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}
