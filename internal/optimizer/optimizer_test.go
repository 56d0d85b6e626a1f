// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBestRowsOrdersByMetricMinimize(t *testing.T) {
	rows := []Row{
		{JobID: 1, Metrics: map[string]float64{"loss": 0.5}},
		{JobID: 2, Metrics: map[string]float64{"loss": 0.2}},
		{JobID: 3, Metrics: map[string]float64{"loss": 0.8}},
	}

	best := bestRows(rows, "loss", true, 2)
	require.Len(t, best, 2)
	require.Equal(t, 2, best[0].JobID)
	require.Equal(t, 1, best[1].JobID)
}

func TestBestRowsOrdersByMetricMaximize(t *testing.T) {
	rows := []Row{
		{JobID: 1, Metrics: map[string]float64{"acc": 0.5}},
		{JobID: 2, Metrics: map[string]float64{"acc": 0.9}},
		{JobID: 3, Metrics: map[string]float64{"acc": 0.1}},
	}

	best := bestRows(rows, "acc", false, 1)
	require.Len(t, best, 1)
	require.Equal(t, 2, best[0].JobID)
}

func TestBestRowsClampsHowManyToLength(t *testing.T) {
	rows := []Row{
		{JobID: 1, Metrics: map[string]float64{"loss": 0.5}},
	}
	require.Len(t, bestRows(rows, "loss", true, 10), 1)
}

func TestBestRowsSortsRowsMissingTheMetricLast(t *testing.T) {
	rows := []Row{
		{JobID: 1, Metrics: map[string]float64{"loss": 0.5}},
		{JobID: 2, Metrics: map[string]float64{"other": 1.0}},
	}
	best := bestRows(rows, "loss", true, 2)
	require.Equal(t, 1, best[0].JobID)
}

func TestInsertionSortIsStableForEqualKeys(t *testing.T) {
	rows := []Row{
		{JobID: 1, Metrics: map[string]float64{"loss": 1.0}},
		{JobID: 2, Metrics: map[string]float64{"loss": 1.0}},
		{JobID: 3, Metrics: map[string]float64{"loss": 0.5}},
	}
	insertionSort(rows, func(i, k int) bool {
		return rows[i].Metrics["loss"] < rows[k].Metrics["loss"]
	})
	require.Equal(t, []int{3, 1, 2}, []int{rows[0].JobID, rows[1].JobID, rows[2].JobID})
}

func TestSaveAndLoadCheckpointRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.pickle")

	saved := checkpointState{
		Iteration: 3,
		Rows: []Row{
			{JobID: 1, Params: map[string]any{"lr": 0.1}, Metrics: map[string]float64{"loss": 0.2}},
		},
	}
	require.NoError(t, saveCheckpoint(path, &saved))

	var loaded checkpointState
	ok, err := loadCheckpoint(path, &loaded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, saved, loaded)
}

func TestLoadCheckpointReportsMissingFile(t *testing.T) {
	var state checkpointState
	ok, err := loadCheckpoint(filepath.Join(t.TempDir(), "missing.pickle"), &state)
	require.NoError(t, err)
	require.False(t, ok)
}
