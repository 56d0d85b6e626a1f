// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	Iteration int
	Notes     string
}

func TestStoreRoundTripsStatus(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, StatusCheckpointFile)
	require.NoError(t, err)
	defer store.Close()

	found, err := store.LoadStatus(&fakeState{})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveStatus(fakeState{Iteration: 3, Notes: "hi"}))

	var loaded fakeState
	found, err = store.LoadStatus(&loaded)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, loaded.Iteration)
	assert.Equal(t, "hi", loaded.Notes)
}

func TestWriteReducedDataAveragesAcrossRestarts(t *testing.T) {
	rows := []optimizer.Row{
		{JobID: 1, Params: map[string]any{"lr": 0.1}, Metrics: map[string]float64{"acc": 0.8}},
		{JobID: 2, Params: map[string]any{"lr": 0.1}, Metrics: map[string]float64{"acc": 0.9}},
		{JobID: 3, Params: map[string]any{"lr": 0.2}, Metrics: map[string]float64{"acc": 0.5}},
	}
	path := filepath.Join(t.TempDir(), "reduced_data.csv")
	require.NoError(t, WriteReducedData(path, rows, []string{"lr"}, []string{"acc"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "lr,acc,acc_std,restarts")
	assert.Contains(t, content, "0.1")
	assert.Contains(t, content, "0.85")
}
