// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"fmt"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
)

// Paths locates every filesystem artifact a job owns.
type Paths struct {
	WorkingDir string
	ScriptPath string
	JobsDir    string
	ResultDir  string
}

// MetricsCSVPath is where the worker writes its final metrics.
func (p Paths) MetricsCSVPath() string { return p.WorkingDir + "/metrics.csv" }

// ParamChoiceCSVPath is where the worker writes its flattened settings.
func (p Paths) ParamChoiceCSVPath() string { return p.WorkingDir + "/param_choice.csv" }

// SettingsJSONPath is where the worker writes its resolved settings tree.
func (p Paths) SettingsJSONPath() string { return p.WorkingDir + "/settings.json" }

// StderrPath is where the batch/local backend redirects the job's stderr.
func (p Paths) StderrPath() string { return p.WorkingDir + "/stderr.log" }

// Job is the orchestrator's per-candidate record. The control loop (C5) and
// communication server (C2) are the only writers; everything else reads.
type Job struct {
	ID        int
	Iteration int

	Settings    paramvalue.Value
	OtherParams paramvalue.Value

	Paths Paths

	// Command is the full worker invocation line a backend wraps in its
	// run-script template: environment setup plus the user script call
	// with the control-channel connection info and settings path.
	Command string

	ClusterID string
	Status    Status

	ReportedMetricValues []float64
	Metrics               map[string]float64

	SubmissionTime            time.Time
	StartTime                 time.Time
	EndTime                   time.Time
	ConcludedWithoutResultsAt time.Time

	ResultsUsedForUpdate bool
	Restarts             int

	ErrorInfo string
}

// New constructs a job in the Initial state for a freshly-asked setting.
func New(id, iteration int, settings, otherParams paramvalue.Value, paths Paths) *Job {
	return &Job{
		ID:          id,
		Iteration:   iteration,
		Settings:    settings,
		OtherParams: otherParams,
		Paths:       paths,
		Status:      Initial,
		Metrics:     make(map[string]float64),
	}
}

// Transition moves the job to `to`, panicking if the edge is not in the
// state graph — callers are expected to check CanTransition themselves when
// a transition is conditional, but an invalid call here is always a bug.
func (j *Job) Transition(to Status) {
	if !CanTransition(j.Status, to) {
		panic(fmt.Sprintf("job %d: illegal transition %s -> %s", j.ID, j.Status, to))
	}
	j.Status = to
}

// MarkFailed transitions the job to Failed and records why. It is the one
// transition legal from every non-terminal state, mirroring the "any ->
// FAILED" edge in the state graph.
func (j *Job) MarkFailed(reason string) {
	if j.Status.Terminal() {
		return
	}
	j.Status = Failed
	j.ErrorInfo = reason
}

// ResetForResume clears the per-attempt state a resume must not carry over:
// the reported intermediates list is append-only within a single attempt
// but resets across a resume (invariant 5).
func (j *Job) ResetForResume() {
	j.ReportedMetricValues = nil
	j.Restarts++
	j.ErrorInfo = ""
	j.ClusterID = ""
	j.StartTime = time.Time{}
	j.EndTime = time.Time{}
	j.ConcludedWithoutResultsAt = time.Time{}
}

// Row returns the job's result as a flat (params, metrics) triple, or false
// if Metrics has not been populated yet. This backs get_results().
func (j *Job) Row() (params map[string]any, metrics map[string]float64, ok bool) {
	if len(j.Metrics) == 0 {
		return nil, nil, false
	}
	flat := map[string]any{}
	if m, isMap := j.Settings.AsMap(); isMap {
		for k, v := range m {
			flat[k] = v.Scalar()
		}
	}
	return flat, j.Metrics, true
}
