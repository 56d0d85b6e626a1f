// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/Simon-Reif/cluster-utils/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	configPath string
	logLevel   string
	logger     logging.Logger

	rootCmd = &cobra.Command{
		Use:     "cluster-utils",
		Short:   "Hyperparameter-optimization job orchestrator for batch compute clusters",
		Long:    `cluster-utils drives an ask/tell optimizer loop over jobs submitted to a batch scheduler or a local process pool.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			cfg.Version = Version
			switch logLevel {
			case "debug":
				cfg.Level = -4
			case "warn":
				cfg.Level = 4
			case "error":
				cfg.Level = 8
			}
			logger = logging.NewLogger(cfg)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the run's JSON configuration (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
