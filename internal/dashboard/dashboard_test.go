// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct{ *backend.Tracker }

func (f *fakeBackend) Submit(ctx context.Context, j *job.Job) (string, error) { return "1", nil }
func (f *fakeBackend) Status(ctx context.Context, j *job.Job) (backend.Status, error) {
	return backend.Running, nil
}
func (f *fakeBackend) Stop(ctx context.Context, j *job.Job) error    { return nil }
func (f *fakeBackend) ExecPreRunRoutines(ctx context.Context) error  { return nil }
func (f *fakeBackend) ExecPostRunRoutines(ctx context.Context) error { return nil }
func (f *fakeBackend) Close() error                                 { return nil }

type fakeOptimizer struct{ iteration int }

func (f fakeOptimizer) Iteration() int { return f.iteration }

func TestStatusEndpointReportsCounts(t *testing.T) {
	tracker := backend.NewTracker(nil)
	be := &fakeBackend{Tracker: tracker}

	j := job.New(1, 1, paramvalue.Map(nil), paramvalue.Map(nil), job.Paths{WorkingDir: "/tmp"})
	j.Transition(job.Submitted)
	j.Transition(job.Running)
	tracker.Track(j)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	statusHandler(be, fakeOptimizer{iteration: 3}, "loss", true)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 1, snap.Submitted)
	require.Equal(t, 1, snap.Running)
	require.Equal(t, 3, snap.Iteration)
}

func TestStatusEndpointReportsBestSeenValue(t *testing.T) {
	tracker := backend.NewTracker(nil)
	be := &fakeBackend{Tracker: tracker}

	j := job.New(1, 1, paramvalue.Map(nil), paramvalue.Map(nil), job.Paths{WorkingDir: "/tmp"})
	j.Transition(job.Submitted)
	j.Transition(job.Running)
	j.Transition(job.Concluded)
	j.Metrics = map[string]float64{"loss": 0.25}
	tracker.Track(j)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	statusHandler(be, fakeOptimizer{iteration: 1}, "loss", true)(rec, req)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.BestSeenValue)
	require.Equal(t, 0.25, *snap.BestSeenValue)
}

func TestNewBuildsServerWithoutBinding(t *testing.T) {
	be := &fakeBackend{Tracker: backend.NewTracker(nil)}
	srv := New("127.0.0.1:0", be, fakeOptimizer{}, "loss", true)
	require.NotNil(t, srv)
	require.NoError(t, srv.Close())
}
