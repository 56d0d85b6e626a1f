// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package batch implements the batch-scheduler cluster backend (C3): a
// two-file submission protocol (run script + job spec), a configurable
// submit/status/cancel CLI, and exponential-backoff retries around every
// scheduler call.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/Simon-Reif/cluster-utils/pkg/errors"
	"github.com/Simon-Reif/cluster-utils/pkg/logging"
	"github.com/Simon-Reif/cluster-utils/pkg/opctx"
	"github.com/Simon-Reif/cluster-utils/pkg/retry"
)

// jobSpecTemplate carries the resource directives a real scheduler needs,
// plus a comment documenting the resume convention: a run script exiting 3
// is expected to be re-queued by whatever hold/release mechanism the
// concrete scheduler offers (e.g. Condor's on_exit_hold), which is outside
// this generic backend's remit — the control loop's own resubmission covers
// it uniformly across schedulers instead.
const jobSpecTemplate = `# Submission %d
executable = %s
output = %s.out
error = %s.err
request_cpus = %d
request_memory = %s

# exit code 3 from the executable means "checkpointed, resume"; this
# backend detects it from the run script's recorded exit code rather than
# relying on scheduler-specific hold/release semantics.
queue
`

var clusterIDPattern = regexp.MustCompile(`\d+`)

// Backend shells out to a configurable submit/status/cancel CLI, the same
// contract any sbatch-shaped scheduler exposes: submit a spec file, get an
// opaque id back, poll/cancel by that id.
type Backend struct {
	*backend.Tracker

	cmds     config.BatchCommands
	cpus     int
	memory   string
	logger   logging.Logger
	timeouts *opctx.TimeoutConfig

	mu       sync.Mutex
	exitFile map[string]string // clusterID -> exit-code sentinel file
}

// New constructs a batch backend invoking cmds for submit/status/cancel.
func New(cmds config.BatchCommands, req config.ClusterRequirements, logger logging.Logger) *Backend {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	memory := "2G"
	return &Backend{
		Tracker:  backend.NewTracker(logger),
		cmds:     cmds,
		cpus:     req.RequestCPUs,
		memory:   memory,
		logger:   logger,
		timeouts: opctx.DefaultTimeoutConfig(),
		exitFile: make(map[string]string),
	}
}

func backoff() *retry.ExponentialBackoff {
	b := retry.NewExponentialBackoff()
	b.MaxAttempts = 3
	return b
}

// Submit writes the run script and job spec for j under its working
// directory, invokes the submit command, and records the scheduler-assigned
// id parsed from its stdout. Idempotent on j.ClusterID.
func (b *Backend) Submit(ctx context.Context, j *job.Job) (string, error) {
	if j.ClusterID != "" {
		return j.ClusterID, nil
	}
	if err := b.RunSubmissionHooks(j); err != nil {
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	scriptPath := j.Paths.WorkingDir + "/run.sh"
	specPath := j.Paths.WorkingDir + "/job.spec"
	exitCodePath := j.Paths.WorkingDir + "/exitcode"

	if err := backend.WriteRunScript(scriptPath, j.ID, j.Command, specPath, exitCodePath); err != nil {
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}
	spec := fmt.Sprintf(jobSpecTemplate, j.ID, scriptPath, scriptPath, scriptPath, b.cpus, b.memory)
	if err := os.WriteFile(specPath, []byte(spec), 0o644); err != nil {
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	submitCtx, cancel := opctx.WithTimeout(ctx, opctx.OpSubmit, b.timeouts)
	defer cancel()

	var stdout []byte
	err := retry.Retry(submitCtx, backoff(), func() error {
		out, runErr := b.run(submitCtx, b.cmds.Submit, specPath)
		stdout = out
		return runErr
	})
	if err != nil {
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, opctx.WrapContextError(err, "batch submit", b.timeouts.Submit))
	}

	clusterID := parseClusterID(stdout)
	if clusterID == "" {
		return "", errors.New(errors.ErrorCodeBackendSubmit,
			fmt.Sprintf("submit command produced no parseable job id: %q", string(stdout)))
	}

	j.ClusterID = clusterID
	j.Paths.ScriptPath = scriptPath
	b.mu.Lock()
	b.exitFile[clusterID] = exitCodePath
	b.mu.Unlock()
	b.Track(j)
	return clusterID, nil
}

// Status reports j's scheduler-visible state, preferring the run script's
// recorded exit code (available once it has finished) over the scheduler's
// own status command.
func (b *Backend) Status(ctx context.Context, j *job.Job) (backend.Status, error) {
	b.mu.Lock()
	exitPath, ok := b.exitFile[j.ClusterID]
	b.mu.Unlock()
	if ok {
		if data, err := os.ReadFile(exitPath); err == nil {
			switch strings.TrimSpace(string(data)) {
			case "0":
				return backend.CompletedOK, nil
			case "3":
				return backend.CompletedResume, nil
			case "":
			default:
				return backend.CompletedFail, nil
			}
		}
	}

	statusCtx, cancel := opctx.WithTimeout(ctx, opctx.OpStatus, b.timeouts)
	defer cancel()

	var stdout []byte
	err := retry.Retry(statusCtx, backoff(), func() error {
		out, runErr := b.run(statusCtx, b.cmds.Status, j.ClusterID)
		stdout = out
		return runErr
	})
	if err != nil {
		return backend.Unknown, errors.WrapBackendError(errors.ErrorCodeBackendStatus, opctx.WrapContextError(err, "batch status", b.timeouts.Status))
	}
	return parseStatus(stdout), nil
}

// Stop invokes the cancel command against j's scheduler-assigned id.
func (b *Backend) Stop(ctx context.Context, j *job.Job) error {
	if j.ClusterID == "" {
		return nil
	}
	stopCtx, cancel := opctx.WithTimeout(ctx, opctx.OpStop, b.timeouts)
	defer cancel()

	err := retry.Retry(stopCtx, backoff(), func() error {
		_, runErr := b.run(stopCtx, b.cmds.Cancel, j.ClusterID)
		return runErr
	})
	if err != nil {
		return errors.WrapBackendError(errors.ErrorCodeBackendStop, opctx.WrapContextError(err, "batch stop", b.timeouts.Stop))
	}
	return nil
}

// ExecPreRunRoutines is a no-op: submission hooks run per job inside Submit,
// and the scheduler itself needs no further preparation.
func (b *Backend) ExecPreRunRoutines(ctx context.Context) error { return nil }

// ExecPostRunRoutines is a no-op: the control loop already drains every job
// to a terminal state before calling it.
func (b *Backend) ExecPostRunRoutines(ctx context.Context) error { return nil }

// Close is a no-op; the batch backend owns no long-lived resources of its
// own beyond the scheduler CLI calls already made.
func (b *Backend) Close() error { return nil }

func (b *Backend) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, stdout.String())
	}
	return stdout.Bytes(), nil
}

func parseClusterID(stdout []byte) string {
	match := clusterIDPattern.FindString(string(stdout))
	if match == "" {
		return ""
	}
	if _, err := strconv.Atoi(match); err != nil {
		return ""
	}
	return match
}

func parseStatus(stdout []byte) backend.Status {
	text := strings.ToUpper(string(stdout))
	switch {
	case strings.Contains(text, "RUNNING"):
		return backend.Running
	case strings.Contains(text, "PENDING"), strings.Contains(text, "QUEUED"):
		return backend.Queued
	case strings.Contains(text, "COMPLETED"), strings.Contains(text, "FINISHED"):
		return backend.CompletedOK
	case strings.Contains(text, "FAILED"), strings.Contains(text, "CANCELLED"):
		return backend.CompletedFail
	default:
		return backend.Unknown
	}
}
