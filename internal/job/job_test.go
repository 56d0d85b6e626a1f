// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T) *Job {
	t.Helper()
	dir := t.TempDir()
	return New(1, 0, paramvalue.Map(nil), paramvalue.Map(nil), Paths{WorkingDir: dir})
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	j := newTestJob(t)
	assert.Panics(t, func() { j.Transition(Running) })
}

func TestStateMachineHappyPath(t *testing.T) {
	j := newTestJob(t)
	j.Transition(Submitted)
	j.Transition(Running)
	j.Transition(Concluded)
	assert.True(t, j.Status.Terminal())
}

func TestMarkFailedIsStickyAndUniversal(t *testing.T) {
	j := newTestJob(t)
	j.Transition(Submitted)
	j.MarkFailed("boom")
	assert.Equal(t, Failed, j.Status)
	assert.Equal(t, "boom", j.ErrorInfo)

	// already terminal: further MarkFailed calls are no-ops
	j.ErrorInfo = ""
	j.MarkFailed("ignored")
	assert.Equal(t, "", j.ErrorInfo)
}

func TestTryLoadResultsFromFilesystem(t *testing.T) {
	j := newTestJob(t)
	j.Transition(Submitted)
	j.Transition(Running)

	ok := j.TryLoadResultsFromFilesystem()
	require.False(t, ok)
	assert.Equal(t, Running, j.Status)

	writeMetricsCSV(t, j.Paths.MetricsCSVPath(), map[string]float64{"result": 0.5})

	ok = j.TryLoadResultsFromFilesystem()
	require.True(t, ok)
	assert.Equal(t, Concluded, j.Status)
	assert.Equal(t, 0.5, j.Metrics["result"])
}

func TestCheckFilesystemForErrorsDetectsSignature(t *testing.T) {
	j := newTestJob(t)
	j.Transition(Submitted)
	j.Transition(Running)

	require.NoError(t, os.WriteFile(j.Paths.StderrPath(), []byte("boom\nout of memory\n"), 0o644))

	sig := j.CheckFilesystemForErrors()
	assert.Equal(t, "out of memory", sig)
	assert.Equal(t, Failed, j.Status)
}

func writeMetricsCSV(t *testing.T, path string, metrics map[string]float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, 0, len(metrics))
	values := make([]string, 0, len(metrics))
	for k, v := range metrics {
		header = append(header, k)
		values = append(values, strconv.FormatFloat(v, 'f', -1, 64))
	}
	require.NoError(t, w.Write(header))
	require.NoError(t, w.Write(values))
	w.Flush()
	require.NoError(t, w.Error())
}
