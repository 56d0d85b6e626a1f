// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/stretchr/testify/require"
)

// fakeScript writes an executable bash script at dir/name that echoes body
// to stdout (after substituting $1 for the invoked argument, if present),
// returning its path for use as a submit/status/cancel command.
func fakeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/bash\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func newTestJob(t *testing.T, dir string) *job.Job {
	t.Helper()
	working := filepath.Join(dir, "1_1")
	require.NoError(t, os.MkdirAll(working, 0o755))
	j := job.New(1, 1, paramvalue.Map(nil), paramvalue.Map(nil), job.Paths{WorkingDir: working})
	j.Command = "true"
	return j
}

func TestSubmitParsesSchedulerAssignedID(t *testing.T) {
	dir := t.TempDir()
	submit := fakeScript(t, dir, "submit.sh", `echo "Submitted batch job 4242"`)

	be := New(config.BatchCommands{Submit: submit, Status: "true", Cancel: "true"}, config.ClusterRequirements{RequestCPUs: 1}, nil)
	j := newTestJob(t, dir)

	id, err := be.Submit(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, "4242", id)
	require.Equal(t, "4242", j.ClusterID)

	_, err = os.Stat(filepath.Join(j.Paths.WorkingDir, "run.sh"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(j.Paths.WorkingDir, "job.spec"))
	require.NoError(t, err)
}

func TestSubmitIsIdempotentOnClusterID(t *testing.T) {
	dir := t.TempDir()
	submit := fakeScript(t, dir, "submit.sh", `echo "should not be called again"`)
	be := New(config.BatchCommands{Submit: submit, Status: "true", Cancel: "true"}, config.ClusterRequirements{RequestCPUs: 1}, nil)
	j := newTestJob(t, dir)
	j.ClusterID = "999"

	id, err := be.Submit(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, "999", id)
}

func TestStatusPrefersRecordedExitCodeOverSchedulerStatus(t *testing.T) {
	dir := t.TempDir()
	submit := fakeScript(t, dir, "submit.sh", `echo "Submitted batch job 10"`)
	status := fakeScript(t, dir, "status.sh", `echo "RUNNING"`)
	be := New(config.BatchCommands{Submit: submit, Status: status, Cancel: "true"}, config.ClusterRequirements{RequestCPUs: 1}, nil)
	j := newTestJob(t, dir)

	_, err := be.Submit(context.Background(), j)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(j.Paths.WorkingDir, "exitcode"), []byte("0\n"), 0o644))

	st, err := be.Status(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED_OK", st.String())
}

func TestStatusFallsBackToSchedulerCommand(t *testing.T) {
	dir := t.TempDir()
	submit := fakeScript(t, dir, "submit.sh", `echo "Submitted batch job 11"`)
	status := fakeScript(t, dir, "status.sh", `echo "PENDING"`)
	be := New(config.BatchCommands{Submit: submit, Status: status, Cancel: "true"}, config.ClusterRequirements{RequestCPUs: 1}, nil)
	j := newTestJob(t, dir)

	_, err := be.Submit(context.Background(), j)
	require.NoError(t, err)

	st, err := be.Status(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, "QUEUED", st.String())
}

func TestStopInvokesCancelCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "cancelled")
	submit := fakeScript(t, dir, "submit.sh", `echo "Submitted batch job 12"`)
	cancel := fakeScript(t, dir, "cancel.sh", `touch `+marker)
	be := New(config.BatchCommands{Submit: submit, Status: "true", Cancel: cancel}, config.ClusterRequirements{RequestCPUs: 1}, nil)
	j := newTestJob(t, dir)

	_, err := be.Submit(context.Background(), j)
	require.NoError(t, err)
	require.NoError(t, be.Stop(context.Background(), j))

	_, err = os.Stat(marker)
	require.NoError(t, err)
}
