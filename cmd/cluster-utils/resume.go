// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Simon-Reif/cluster-utils/internal/persist"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a previously started run from its checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		checkpointPath := filepath.Join(cfg.ResultDir, persist.StatusCheckpointFile)
		if _, err := os.Stat(checkpointPath); err != nil {
			return fmt.Errorf("no checkpoint found at %s, use 'run' for a fresh start: %w", checkpointPath, err)
		}
		return runOrchestrator(true)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
