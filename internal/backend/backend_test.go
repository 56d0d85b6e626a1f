// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/stretchr/testify/require"
)

func newTrackedJob(t *testing.T, id int, status job.Status) *job.Job {
	t.Helper()
	dir := t.TempDir()
	j := job.New(id, 1, paramvalue.Map(nil), paramvalue.Map(nil), job.Paths{WorkingDir: dir})
	j.Status = status
	return j
}

func TestTrackerViewsFilterByStatus(t *testing.T) {
	tracker := NewTracker(nil)

	running := newTrackedJob(t, 1, job.Running)
	succeeded := newTrackedJob(t, 2, job.Concluded)
	failed := newTrackedJob(t, 3, job.Failed)
	initial := newTrackedJob(t, 4, job.Initial)

	tracker.Track(running)
	tracker.Track(succeeded)
	tracker.Track(failed)
	tracker.Track(initial)

	require.Len(t, tracker.SubmittedJobs(), 3)
	require.Len(t, tracker.RunningJobs(), 1)
	require.Len(t, tracker.SuccessfulJobs(), 1)
	require.Len(t, tracker.FailedJobs(), 1)
	require.Equal(t, 1, tracker.NCompletedJobs())
}

func TestIncJobIDIsMonotonic(t *testing.T) {
	tracker := NewTracker(nil)
	require.Equal(t, 1, tracker.IncJobID())
	require.Equal(t, 2, tracker.IncJobID())
	require.Equal(t, 3, tracker.IncJobID())
}

func TestRunSubmissionHooksStopsAtFirstError(t *testing.T) {
	tracker := NewTracker(nil)
	var calls []string
	tracker.RegisterSubmissionHook(func(j *job.Job) error {
		calls = append(calls, "first")
		return nil
	})
	tracker.RegisterSubmissionHook(func(j *job.Job) error {
		calls = append(calls, "second")
		return os.ErrInvalid
	})
	tracker.RegisterSubmissionHook(func(j *job.Job) error {
		calls = append(calls, "third")
		return nil
	})

	err := tracker.RunSubmissionHooks(newTrackedJob(t, 1, job.Initial))
	require.ErrorIs(t, err, os.ErrInvalid)
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestMedianTimeLeftScalesByOutstandingJobs(t *testing.T) {
	tracker := NewTracker(nil)

	done := newTrackedJob(t, 1, job.Concluded)
	done.StartTime = time.Now().Add(-10 * time.Second)
	done.EndTime = time.Now()
	tracker.Track(done)

	running := newTrackedJob(t, 2, job.Running)
	tracker.Track(running)

	left := tracker.MedianTimeLeft()
	require.InDelta(t, 10*time.Second, left, float64(2*time.Second))
}

func TestBestSeenValueHonorsMinimize(t *testing.T) {
	tracker := NewTracker(nil)

	j1 := newTrackedJob(t, 1, job.Concluded)
	j1.Metrics = map[string]float64{"loss": 0.5}
	j2 := newTrackedJob(t, 2, job.Concluded)
	j2.Metrics = map[string]float64{"loss": 0.2}
	tracker.Track(j1)
	tracker.Track(j2)

	best, ok := tracker.BestSeenValue("loss", true)
	require.True(t, ok)
	require.Equal(t, 0.2, best)

	best, ok = tracker.BestSeenValue("loss", false)
	require.True(t, ok)
	require.Equal(t, 0.5, best)
}

func TestCheckErrorMsgsReportsEachSignatureOnce(t *testing.T) {
	tracker := NewTracker(nil)

	j := newTrackedJob(t, 1, job.Failed)
	require.NoError(t, os.WriteFile(filepath.Join(j.Paths.WorkingDir, "stderr.log"), []byte("boom"), 0o644))
	tracker.Track(j)

	require.True(t, tracker.CheckErrorMsgs())
	require.False(t, tracker.CheckErrorMsgs())
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "COMPLETED_RESUME", CompletedResume.String())
	require.Equal(t, "UNKNOWN", Status(99).String())
}
