// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package local implements the local process-pool cluster backend: jobs run
// as CPU-pinned subprocesses inside a bounded worker pool sized from host
// capacity, rather than against a real batch scheduler.
package local

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/Simon-Reif/cluster-utils/internal/hostprobe"
	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/Simon-Reif/cluster-utils/pkg/errors"
	"github.com/Simon-Reif/cluster-utils/pkg/logging"
)

// Backend runs jobs as local subprocesses, respecting
// min(max_cpus, host_cpu_count) / cpus_per_job concurrent slots, falling
// back to exactly one slot if that division floors to zero.
type Backend struct {
	*backend.Tracker

	cpusPerJob int
	poolSize   int
	logger     logging.Logger

	mu        sync.Mutex
	available map[int]bool // cpu index -> free
	active    map[string]*run
}

type run struct {
	cmd     *exec.Cmd
	cpus    []int
	done    chan struct{}
	status  backend.Status
	started time.Time
}

// New constructs a local backend sized from req and the host's detected CPU
// count.
func New(req config.ClusterRequirements, logger logging.Logger) (*Backend, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if req.RequestCPUs <= 0 {
		return nil, fmt.Errorf("request_cpus must be positive, got %d", req.RequestCPUs)
	}

	hostCPUs := hostprobe.CPUCount()
	maxCPUs := req.MaxCPUs
	if maxCPUs <= 0 || maxCPUs > hostCPUs {
		maxCPUs = hostCPUs
	}

	poolSize := maxCPUs / req.RequestCPUs
	if poolSize == 0 {
		logger.Warn("total CPUs smaller than requested CPUs per job, falling back to one concurrent job",
			"max_cpus", maxCPUs, "request_cpus", req.RequestCPUs)
		poolSize = 1
	}

	available := make(map[int]bool, maxCPUs)
	for i := 0; i < maxCPUs; i++ {
		available[i] = true
	}

	return &Backend{
		Tracker:    backend.NewTracker(logger),
		cpusPerJob: req.RequestCPUs,
		poolSize:   poolSize,
		logger:     logger,
		available:  available,
		active:     make(map[string]*run),
	}, nil
}

// PoolSize reports the number of concurrently schedulable local jobs.
func (b *Backend) PoolSize() int { return b.poolSize }

func (b *Backend) reserveCPUs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var cpus []int
	for cpu, free := range b.available {
		if !free {
			continue
		}
		cpus = append(cpus, cpu)
		delete(b.available, cpu)
		if len(cpus) == b.cpusPerJob {
			break
		}
	}
	return cpus
}

func (b *Backend) releaseCPUs(cpus []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range cpus {
		b.available[c] = true
	}
}

func (b *Backend) runningCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.active {
		if r.status == backend.Running {
			n++
		}
	}
	return n
}

// Submit launches job j's run script as a subprocess if a pool slot is
// free and returns backend.ErrPoolFull otherwise, pinning it to the reserved
// CPU set via taskset when available. Idempotent on j.ClusterID.
func (b *Backend) Submit(ctx context.Context, j *job.Job) (string, error) {
	if j.ClusterID != "" {
		return j.ClusterID, nil
	}
	if b.runningCount() >= b.poolSize {
		return "", backend.ErrPoolFull
	}
	if err := b.RunSubmissionHooks(j); err != nil {
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	cpus := b.reserveCPUs()
	clusterID := strconv.Itoa(b.IncJobID())

	scriptPath := j.Paths.WorkingDir + "/run.sh"
	if err := backend.WriteRunScript(scriptPath, j.ID, j.Command, "", ""); err != nil {
		b.releaseCPUs(cpus)
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}
	j.Paths.ScriptPath = scriptPath

	cmdArgs := []string{"bash", j.Paths.ScriptPath}
	var cmd *exec.Cmd
	if len(cpus) > 0 {
		if _, err := exec.LookPath("taskset"); err == nil {
			cpuList := make([]string, len(cpus))
			for i, c := range cpus {
				cpuList[i] = strconv.Itoa(c)
			}
			cmd = exec.CommandContext(ctx, "taskset", append([]string{"--cpu-list", strings.Join(cpuList, ",")}, cmdArgs...)...)
		}
	}
	if cmd == nil {
		cmd = exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	}

	stderrFile, err := os.Create(j.Paths.StderrPath())
	if err != nil {
		b.releaseCPUs(cpus)
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}
	cmd.Stderr = stderrFile
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		b.releaseCPUs(cpus)
		return "", errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	r := &run{cmd: cmd, cpus: cpus, done: make(chan struct{}), status: backend.Running, started: time.Now()}
	b.mu.Lock()
	b.active[clusterID] = r
	b.mu.Unlock()

	go func() {
		defer stderrFile.Close()
		defer close(r.done)
		err := cmd.Wait()
		b.mu.Lock()
		switch exitCode(err) {
		case 0:
			r.status = backend.CompletedOK
		case 3:
			r.status = backend.CompletedResume
		default:
			r.status = backend.CompletedFail
		}
		b.mu.Unlock()
		b.releaseCPUs(cpus)
	}()

	j.ClusterID = clusterID
	b.Track(j)
	return clusterID, nil
}

// exitCode extracts a process exit code from cmd.Wait()'s error, treating a
// nil error as 0 and any non-ExitError failure (start failure, signal) as a
// generic non-zero failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// Status reports the subprocess state for j.
func (b *Backend) Status(ctx context.Context, j *job.Job) (backend.Status, error) {
	b.mu.Lock()
	r, ok := b.active[j.ClusterID]
	b.mu.Unlock()
	if !ok {
		return backend.Unknown, nil
	}
	b.mu.Lock()
	status := r.status
	b.mu.Unlock()
	return status, nil
}

// Stop kills the subprocess backing j, if still running.
func (b *Backend) Stop(ctx context.Context, j *job.Job) error {
	b.mu.Lock()
	r, ok := b.active[j.ClusterID]
	b.mu.Unlock()
	if !ok || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Kill()
}

// ExecPreRunRoutines is a no-op: submission hooks run per job inside Submit,
// and the local backend needs no extra directory preparation beyond what the
// control loop already does.
func (b *Backend) ExecPreRunRoutines(ctx context.Context) error { return nil }

// ExecPostRunRoutines waits for any still-running subprocesses to exit.
func (b *Backend) ExecPostRunRoutines(ctx context.Context) error {
	b.mu.Lock()
	runs := make([]*run, 0, len(b.active))
	for _, r := range b.active {
		runs = append(runs, r)
	}
	b.mu.Unlock()
	for _, r := range runs {
		<-r.done
	}
	return nil
}

// Close stops every active subprocess.
func (b *Backend) Close() error {
	b.mu.Lock()
	runs := make([]*run, 0, len(b.active))
	for _, r := range b.active {
		runs = append(runs, r)
	}
	b.mu.Unlock()
	for _, r := range runs {
		if r.status == backend.Running && r.cmd.Process != nil {
			r.cmd.Process.Kill()
		}
	}
	return nil
}
