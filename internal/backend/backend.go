// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the cluster-submission contract (C3) shared by the
// batch and local backends, plus a Tracker helper both embed for the
// aggregated views (submitted/running/successful/failed jobs, completion
// counts, best-seen value) that are identical regardless of how a job is
// actually launched.
package backend

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/pkg/logging"
)

// ErrPoolFull is returned by a backend's Submit when every worker slot is
// occupied; the control loop treats it as "try again next tick", not a
// failure.
var ErrPoolFull = errors.New("backend: no free worker slot")

// Status is the backend-agnostic view of a submitted job's scheduler state.
type Status int

const (
	Unknown Status = iota
	Queued
	Running
	CompletedOK
	CompletedFail
	CompletedResume
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Running:
		return "RUNNING"
	case CompletedOK:
		return "COMPLETED_OK"
	case CompletedFail:
		return "COMPLETED_FAIL"
	case CompletedResume:
		return "COMPLETED_RESUME"
	default:
		return "UNKNOWN"
	}
}

// SubmissionHook runs before a job's artifacts are materialized, e.g. to
// prepare a working copy of the user's script directory.
type SubmissionHook func(j *job.Job) error

// Backend is the contract the control loop drives every job through,
// regardless of whether jobs land on a real scheduler or a local process
// pool.
type Backend interface {
	Submit(ctx context.Context, j *job.Job) (clusterID string, err error)
	Status(ctx context.Context, j *job.Job) (Status, error)
	Stop(ctx context.Context, j *job.Job) error

	RegisterSubmissionHook(hook SubmissionHook)
	ExecPreRunRoutines(ctx context.Context) error
	ExecPostRunRoutines(ctx context.Context) error
	Close() error

	SubmittedJobs() []*job.Job
	RunningJobs() []*job.Job
	SuccessfulJobs() []*job.Job
	FailedJobs() []*job.Job
	NCompletedJobs() int
	MedianTimeLeft() time.Duration
	BestSeenValue(metric string, minimize bool) (float64, bool)
	IncJobID() int
	CheckErrorMsgs() bool
}

// Tracker implements the aggregated-view half of Backend; batch and local
// backends embed it and only need to supply Submit/Status/Stop/pre-post-run.
type Tracker struct {
	mu      sync.Mutex
	jobs    map[int]*job.Job
	nextID  int
	hooks   []SubmissionHook
	seen    map[string]bool
	logger  logging.Logger
}

// NewTracker constructs an empty Tracker.
func NewTracker(logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Tracker{
		jobs:   make(map[int]*job.Job),
		seen:   make(map[string]bool),
		logger: logger,
	}
}

// Track registers a job so it appears in the aggregated views.
func (t *Tracker) Track(j *job.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[j.ID] = j
}

// IncJobID mints the next monotonic job id.
func (t *Tracker) IncJobID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

// RegisterSubmissionHook appends a hook run by RunSubmissionHooks.
func (t *Tracker) RegisterSubmissionHook(hook SubmissionHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hook)
}

// RunSubmissionHooks runs every registered hook against j, stopping at (and
// returning) the first error.
func (t *Tracker) RunSubmissionHooks(j *job.Job) error {
	t.mu.Lock()
	hooks := append([]SubmissionHook(nil), t.hooks...)
	t.mu.Unlock()
	for _, h := range hooks {
		if err := h(j); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) snapshot() []*job.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*job.Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// SubmittedJobs returns every tracked job that has left Initial.
func (t *Tracker) SubmittedJobs() []*job.Job {
	var out []*job.Job
	for _, j := range t.snapshot() {
		if j.Status != job.Initial {
			out = append(out, j)
		}
	}
	return out
}

// RunningJobs returns jobs currently executing.
func (t *Tracker) RunningJobs() []*job.Job {
	var out []*job.Job
	for _, j := range t.snapshot() {
		if j.Status == job.Running {
			out = append(out, j)
		}
	}
	return out
}

// SuccessfulJobs returns jobs that concluded with results.
func (t *Tracker) SuccessfulJobs() []*job.Job {
	var out []*job.Job
	for _, j := range t.snapshot() {
		if j.Status == job.Concluded {
			out = append(out, j)
		}
	}
	return out
}

// FailedJobs returns jobs that concluded without recovering.
func (t *Tracker) FailedJobs() []*job.Job {
	var out []*job.Job
	for _, j := range t.snapshot() {
		if j.Status == job.Failed {
			out = append(out, j)
		}
	}
	return out
}

// NCompletedJobs is the count of jobs in any terminal success state.
func (t *Tracker) NCompletedJobs() int {
	return len(t.SuccessfulJobs())
}

// MedianTimeLeft estimates remaining wall-clock time from the median
// duration of already-concluded jobs times the number still outstanding.
func (t *Tracker) MedianTimeLeft() time.Duration {
	successful := t.SuccessfulJobs()
	if len(successful) == 0 {
		return 0
	}
	durations := make([]time.Duration, 0, len(successful))
	for _, j := range successful {
		if !j.EndTime.IsZero() && !j.StartTime.IsZero() {
			durations = append(durations, j.EndTime.Sub(j.StartTime))
		}
	}
	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, k int) bool { return durations[i] < durations[k] })
	median := durations[len(durations)/2]

	outstanding := 0
	for _, j := range t.snapshot() {
		if !j.Status.Terminal() {
			outstanding++
		}
	}
	return median * time.Duration(outstanding)
}

// BestSeenValue returns the best value of metric reported by any successful
// job so far, honoring minimize.
func (t *Tracker) BestSeenValue(metric string, minimize bool) (float64, bool) {
	best := 0.0
	found := false
	for _, j := range t.SuccessfulJobs() {
		v, ok := j.Metrics[metric]
		if !ok {
			continue
		}
		if !found || (minimize && v < best) || (!minimize && v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

// CheckErrorMsgs scans failed jobs' stderr logs and logs each distinct
// error signature exactly once.
func (t *Tracker) CheckErrorMsgs() bool {
	any := false
	for _, j := range t.FailedJobs() {
		data, err := os.ReadFile(j.Paths.StderrPath())
		if err != nil {
			continue
		}
		sig := strings.TrimSpace(string(data))
		if sig == "" {
			continue
		}
		t.mu.Lock()
		isNew := !t.seen[sig]
		if isNew {
			t.seen[sig] = true
		}
		t.mu.Unlock()
		if isNew {
			t.logger.Warn("job failed with new error signature", "job_id", j.ID, "signature", sig)
			any = true
		}
	}
	return any
}
