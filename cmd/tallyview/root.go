// Package main implements the tallyview CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/config"
	"github.com/rsclarke/tallyview/internal/logging"
)

var logger *zap.Logger

// cfg holds TALLYVIEW_* settings. Flags bind to its fields so that the
// environment supplies defaults and flags override them.
var cfg, cfgErr = loadConfig()

func loadConfig() (*config.Config, error) {
	c, err := config.Load()
	if err != nil {
		return config.Default(), err
	}
	return c, nil
}

var rootCmd = &cobra.Command{
	Use:   "tallyview",
	Short: "Review request links and tenant API key vault",
	Long: `tallyview serves magic review links that route customers to private
feedback or public review platforms, and a management API protected by
tenant API keys.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return cfgErr
		}
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
