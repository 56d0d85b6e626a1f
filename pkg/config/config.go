// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads the orchestrator's run configuration.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// ClusterRequirements describes the resources each job asks the backend for.
type ClusterRequirements struct {
	RequestCPUs int `json:"request_cpus"`
	MaxCPUs     int `json:"max_cpus,omitempty"`
}

// EarlyKillingParams configures the laggard killer.
type EarlyKillingParams struct {
	TargetRank  int     `json:"target_rank"`
	HowManyStds float64 `json:"how_many_stds"`
}

// GitParams describes an optional working-copy preparation hook, specified
// only as external collaborator data the orchestrator passes through to a
// registered submission hook.
type GitParams struct {
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// BatchCommands names the scheduler CLI the batch backend shells out to.
// Defaults to an sbatch-shaped submit/cancel pair; any executable that
// accepts a job-spec file and prints an opaque id to stdout works.
type BatchCommands struct {
	Submit string `json:"submit,omitempty"`
	Cancel string `json:"cancel,omitempty"`
	Status string `json:"status,omitempty"`
}

// Config is the JSON run configuration named in the CLI surface: a launcher
// takes this document, builds an optimizer and a backend from it, and starts
// the control loop.
type Config struct {
	OptimizationProcedureName string                 `json:"optimization_procedure_name"`
	ScriptRelativePath        string                 `json:"script_relative_path"`
	ResultDir                 string                 `json:"result_dir"`
	ClusterRequirements       ClusterRequirements    `json:"cluster_requirements"`
	HyperparamList            map[string][]any       `json:"hyperparam_list,omitempty"`
	DistributionList          map[string]Distribution `json:"distribution_list,omitempty"`
	FixedParams               map[string]any         `json:"fixed_params,omitempty"`
	Samples                   int                    `json:"samples"`
	Restarts                  int                    `json:"restarts"`
	NJobsPerIteration         int                    `json:"n_jobs_per_iteration"`
	MetricToOptimize          string                 `json:"metric_to_optimize"`
	Minimize                  bool                   `json:"minimize"`
	KillBadJobsEarly          bool                   `json:"kill_bad_jobs_early"`
	EarlyKillingParams        EarlyKillingParams     `json:"early_killing_params"`
	OptimizerStr              string                 `json:"optimizer_str"`
	RunLocal                  bool                   `json:"run_local"`
	GitParams                 *GitParams             `json:"git_params,omitempty"`
	EnvironmentSetup          []string               `json:"environment_setup,omitempty"`
	Defensive                 bool                   `json:"defensive,omitempty"`
	BatchCommands             BatchCommands          `json:"batch_commands,omitempty"`
	Seed                      int64                  `json:"seed,omitempty"`

	// Operational knobs not part of the user-facing search-space document;
	// overridable by environment variables for ops use.
	PollInterval     time.Duration `json:"-"`
	GraceWindow      time.Duration `json:"-"`
	FailureSlack     int           `json:"-"`
	DashboardEnabled bool          `json:"-"`
	DashboardAddr    string        `json:"-"`
}

// Distribution describes a sampling distribution for the general
// distribution-based optimizer.
type Distribution struct {
	Kind string  `json:"kind"` // "uniform" | "log_uniform" | "categorical"
	Low  float64 `json:"low,omitempty"`
	High float64 `json:"high,omitempty"`
	// Choices is used when Kind == "categorical".
	Choices []any `json:"choices,omitempty"`
}

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultGraceWindow  = 5 * time.Second
	defaultFailureSlack = 5
)

// Load reads a JSON run configuration from path and applies operational
// defaults, then environment-variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	c.PollInterval = defaultPollInterval
	c.GraceWindow = defaultGraceWindow
	c.FailureSlack = defaultFailureSlack
	if c.NJobsPerIteration == 0 {
		c.NJobsPerIteration = c.Samples
	}
	if c.DashboardAddr == "" {
		c.DashboardAddr = "127.0.0.1:0"
	}
	if c.BatchCommands.Submit == "" {
		c.BatchCommands.Submit = "sbatch"
	}
	if c.BatchCommands.Cancel == "" {
		c.BatchCommands.Cancel = "scancel"
	}
	if c.BatchCommands.Status == "" {
		c.BatchCommands.Status = "sacct"
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLUSTER_UTILS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		}
	}
	if v := os.Getenv("CLUSTER_UTILS_GRACE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GraceWindow = d
		}
	}
	if v := os.Getenv("CLUSTER_UTILS_FAILURE_SLACK"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.FailureSlack = i
		}
	}
	if v := os.Getenv("CLUSTER_UTILS_DASHBOARD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DashboardEnabled = b
		}
	}
	if v := os.Getenv("CLUSTER_UTILS_DASHBOARD_ADDR"); v != "" {
		c.DashboardAddr = v
	}
}

// Validate checks the fields the control loop cannot safely default.
func (c *Config) Validate() error {
	if c.ResultDir == "" {
		return ErrMissingResultDir
	}
	if c.ScriptRelativePath == "" {
		return ErrMissingScript
	}
	if c.Samples <= 0 {
		return ErrInvalidSamples
	}
	if c.NJobsPerIteration <= 0 {
		return ErrInvalidJobsPerIteration
	}
	if c.MetricToOptimize == "" {
		return ErrMissingMetric
	}
	return nil
}
