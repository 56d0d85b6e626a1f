// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/Simon-Reif/cluster-utils/internal/backend/batch"
	"github.com/Simon-Reif/cluster-utils/internal/backend/local"
	"github.com/Simon-Reif/cluster-utils/internal/control"
	"github.com/Simon-Reif/cluster-utils/internal/dashboard"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer/crossentropy"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer/gridsearch"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer/randomsearch"
	"github.com/Simon-Reif/cluster-utils/internal/persist"
	"github.com/Simon-Reif/cluster-utils/internal/wire"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/Simon-Reif/cluster-utils/pkg/logging"
	"github.com/spf13/cobra"
)

var resumeRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start (or resume) an optimization run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrchestrator(resumeRun)
	},
}

func init() {
	runCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from an existing checkpoint instead of failing if one is found")
	rootCmd.AddCommand(runCmd)
}

// buildOptimizer constructs the optimizer cfg.OptimizerStr names, first
// giving its package-level loader a chance to resume from a checkpoint
// file under resultDir.
func buildOptimizer(cfg *config.Config) (optimizer.Optimizer, error) {
	checkpointPath := filepath.Join(cfg.ResultDir, cfg.OptimizationProcedureName+".pickle")

	switch cfg.OptimizerStr {
	case "grid_search", "gridsearch", "":
		if loaded, ok, err := gridsearch.TryLoadFromPickle(checkpointPath); err != nil {
			return nil, err
		} else if ok {
			return loaded, nil
		}
		return gridsearch.New(cfg.HyperparamList, cfg.MetricToOptimize, cfg.Minimize, cfg.Restarts), nil
	case "random_search", "randomsearch":
		if loaded, ok, err := randomsearch.TryLoadFromPickle(checkpointPath); err != nil {
			return nil, err
		} else if ok {
			return loaded, nil
		}
		return randomsearch.New(cfg.DistributionList, cfg.MetricToOptimize, cfg.Minimize, cfg.Samples, cfg.Seed), nil
	case "cem", "cross_entropy", "crossentropy":
		if loaded, ok, err := crossentropy.TryLoadFromPickle(checkpointPath); err != nil {
			return nil, err
		} else if ok {
			return loaded, nil
		}
		return crossentropy.New(cfg.DistributionList), nil
	default:
		return nil, fmt.Errorf("unknown optimizer_str %q", cfg.OptimizerStr)
	}
}

// buildBackend constructs the local process-pool backend or the batch
// scheduler backend, per cfg.RunLocal.
func buildBackend(cfg *config.Config, log logging.Logger) (backend.Backend, error) {
	if cfg.RunLocal {
		return local.New(cfg.ClusterRequirements, log)
	}
	return batch.New(cfg.BatchCommands, cfg.ClusterRequirements, log), nil
}

// ensureResultDirEmpty guards against silently overwriting a previous run:
// a non-empty result dir is fine when resuming, otherwise it either fails
// outright or, in defensive mode, asks for an interactive confirmation.
func ensureResultDirEmpty(cfg *config.Config, resume bool) error {
	if resume {
		return nil
	}
	entries, err := os.ReadDir(cfg.ResultDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("inspect result dir: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if !cfg.Defensive {
		return fmt.Errorf("result dir %q is not empty; pass --resume to continue an existing run", cfg.ResultDir)
	}
	fmt.Fprintf(os.Stderr, "result dir %q already contains files; continue and overwrite? [y/N] ", cfg.ResultDir)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("result dir %q is not empty and no confirmation was given", cfg.ResultDir)
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if answer != "y" && answer != "yes" {
		return fmt.Errorf("aborted: result dir %q is not empty", cfg.ResultDir)
	}
	return nil
}

func runOrchestrator(resume bool) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := ensureResultDirEmpty(cfg, resume); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ResultDir, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.ResultDir, "cluster_run.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer logFile.Close()
	logCfg := logging.DefaultConfig()
	logCfg.Output = logFile
	logCfg.Version = Version
	runLogger := logging.NewLogger(logCfg)

	statusStore, err := persist.Open(cfg.ResultDir, persist.StatusCheckpointFile)
	if err != nil {
		return fmt.Errorf("open status checkpoint: %w", err)
	}
	defer statusStore.Close()

	be, err := buildBackend(cfg, runLogger)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}

	optim, err := buildOptimizer(cfg)
	if err != nil {
		be.Close()
		return fmt.Errorf("build optimizer: %w", err)
	}
	if !resume {
		runLogger.Info("starting fresh run", "result_dir", cfg.ResultDir, "optimizer", cfg.OptimizerStr)
	} else {
		runLogger.Info("resuming run", "result_dir", cfg.ResultDir, "optimizer", cfg.OptimizerStr)
	}

	server, err := wire.NewServer("", runLogger)
	if err != nil {
		be.Close()
		return fmt.Errorf("bind control-channel socket: %w", err)
	}
	defer server.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := server.Run(ctx); err != nil {
			runLogger.Warn("control-channel server stopped", "error", err.Error())
		}
	}()

	if cfg.DashboardEnabled {
		dash := dashboard.New(cfg.DashboardAddr, be, optim, cfg.MetricToOptimize, cfg.Minimize)
		go func() {
			if err := dash.ListenAndServe(); err != nil {
				runLogger.Warn("dashboard server stopped", "error", err.Error())
			}
		}()
		defer dash.Close()
	}

	loop := control.New(cfg, be, optim, server, statusStore, runLogger)
	return loop.Run(ctx)
}
