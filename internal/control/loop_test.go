// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"testing"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal backend.Backend stand-in for control-loop unit
// tests: submit/status are unused by these tests, only Stop and the
// aggregated views matter.
type fakeBackend struct {
	*backend.Tracker
	stopped []int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{Tracker: backend.NewTracker(nil)}
}

func (f *fakeBackend) Submit(ctx context.Context, j *job.Job) (string, error) { return "1", nil }
func (f *fakeBackend) Status(ctx context.Context, j *job.Job) (backend.Status, error) {
	return backend.Running, nil
}
func (f *fakeBackend) Stop(ctx context.Context, j *job.Job) error {
	f.stopped = append(f.stopped, j.ID)
	return nil
}
func (f *fakeBackend) ExecPreRunRoutines(ctx context.Context) error  { return nil }
func (f *fakeBackend) ExecPostRunRoutines(ctx context.Context) error { return nil }
func (f *fakeBackend) Close() error                                  { return nil }

// fakeOptimizer records which jobs Tell was called with; Ask/AskAll are
// unused by these tests.
type fakeOptimizer struct {
	told []*job.Job
	iter int
}

func (f *fakeOptimizer) Ask() paramvalue.Value                  { return paramvalue.Map(nil) }
func (f *fakeOptimizer) AskAll() []paramvalue.Value              { return nil }
func (f *fakeOptimizer) Tell(jobs []*job.Job)                    { f.told = append(f.told, jobs...) }
func (f *fakeOptimizer) Iteration() int                          { return f.iter }
func (f *fakeOptimizer) MinimalDF() []optimizer.Row              { return nil }
func (f *fakeOptimizer) FullDF() []optimizer.Row                 { return nil }
func (f *fakeOptimizer) BestJobsModelDirs(howMany int) []string  { return nil }
func (f *fakeOptimizer) SaveDataAndSelf(resultDir string) error  { return nil }

func mkSuccessfulJob(id int, metricName string, final float64, intermediates []float64) *job.Job {
	j := job.New(id, 1, paramvalue.Map(nil), paramvalue.Map(nil), job.Paths{WorkingDir: "/tmp"})
	j.Transition(job.Submitted)
	j.Transition(job.Running)
	j.ReportedMetricValues = intermediates
	j.Metrics = map[string]float64{metricName: final}
	j.Transition(job.Concluded)
	return j
}

func mkRunningJob(id int, intermediates []float64) *job.Job {
	j := job.New(id, 1, paramvalue.Map(nil), paramvalue.Map(nil), job.Paths{WorkingDir: "/tmp"})
	j.Transition(job.Submitted)
	j.Transition(job.Running)
	j.ReportedMetricValues = intermediates
	return j
}

func TestKillBadLookingJobsRequiresFiveFullLengthJobs(t *testing.T) {
	be := newFakeBackend()
	for i := 1; i <= 3; i++ {
		be.Track(mkSuccessfulJob(i, "acc", float64(i), []float64{float64(i)}))
	}
	laggard := mkRunningJob(99, []float64{0.01})
	be.Track(laggard)

	l := &Loop{
		cfg: &config.Config{
			MetricToOptimize:   "acc",
			Minimize:           true,
			EarlyKillingParams: config.EarlyKillingParams{TargetRank: 0, HowManyStds: 0},
		},
		backend: be,
	}
	l.killBadLookingJobs(context.Background())
	assert.Empty(t, be.stopped, "fewer than 5 full-length jobs should skip killing entirely")
}

func TestKillBadLookingJobsStopsClearLaggard(t *testing.T) {
	be := newFakeBackend()
	// Five successful jobs with a single intermediate equal to their final
	// value, all clearly better (lower, since minimize) than the laggard.
	for i := 1; i <= 5; i++ {
		be.Track(mkSuccessfulJob(i, "acc", float64(i)*0.1, []float64{float64(i) * 0.1}))
	}
	laggard := mkRunningJob(99, []float64{100.0})
	be.Track(laggard)

	l := &Loop{
		cfg: &config.Config{
			MetricToOptimize:   "acc",
			Minimize:           true,
			EarlyKillingParams: config.EarlyKillingParams{TargetRank: 1, HowManyStds: 0},
		},
		backend: be,
	}
	l.killBadLookingJobs(context.Background())
	require.Contains(t, be.stopped, 99)
	assert.Equal(t, job.Concluded, laggard.Status)
}

func TestTellOptimizerMarksResultsUsed(t *testing.T) {
	be := newFakeBackend()
	j := mkSuccessfulJob(1, "acc", 0.5, nil)
	be.Track(j)

	fake := &fakeOptimizer{}
	l := &Loop{backend: be, optim: fake}
	l.tellOptimizer()

	assert.True(t, j.ResultsUsedForUpdate)
	assert.Len(t, fake.told, 1)
}
