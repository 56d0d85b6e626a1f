// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package optimizer defines the ask/tell contract the control loop drives
// and the row-oriented result views it reads back, plus a pickle-style
// checkpoint contract so a run can resume a stopped optimization.
package optimizer

import (
	"encoding/gob"
	"os"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
)

// Row is one completed job's flattened parameters plus its reported
// metrics, the shape both minimal_df and full_df expose.
type Row struct {
	JobID    int
	Params   map[string]any
	Metrics  map[string]float64
	ModelDir string
}

// Optimizer is the contract every concrete search strategy implements.
type Optimizer interface {
	// Ask proposes a single new candidate setting.
	Ask() paramvalue.Value
	// AskAll proposes the full candidate set at once; used by strategies
	// (e.g. grid search) that enumerate their whole space up front.
	AskAll() []paramvalue.Value

	// Tell records completed jobs' results, advancing the optimizer's
	// internal model.
	Tell(jobs []*job.Job)

	// Iteration is the current 1-based iteration count.
	Iteration() int

	// MinimalDF returns the recorded rows sorted best-first by the metric
	// being optimized.
	MinimalDF() []Row
	// FullDF returns every recorded row, unsorted.
	FullDF() []Row

	// BestJobsModelDirs returns the model directories of the howMany
	// best-performing completed jobs.
	BestJobsModelDirs(howMany int) []string

	// SaveDataAndSelf checkpoints the optimizer's state under resultDir.
	SaveDataAndSelf(resultDir string) error
}

// Loader is implemented by each concrete optimizer's package-level
// constructor-equivalent: TryLoadFromPickle(path) returns (nil, false) if no
// checkpoint exists yet, matching the ask/tell contract's "load or
// construct fresh" initialization.
type Loader func(checkpointPath string) (Optimizer, bool, error)

// checkpointState is a gob-encodable iteration/rows snapshot that
// saveCheckpoint and loadCheckpoint round-trip; no concrete optimizer
// writes it.
type checkpointState struct {
	Iteration int
	Rows      []Row
}

func saveCheckpoint(path string, state any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(state)
}

func loadCheckpoint(path string, state any) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(state); err != nil {
		return false, err
	}
	return true, nil
}

// bestRows sorts rows by metric ascending/descending per minimize and
// returns the first howMany.
func bestRows(rows []Row, metric string, minimize bool, howMany int) []Row {
	sorted := append([]Row(nil), rows...)
	less := func(i, k int) bool {
		vi, oki := sorted[i].Metrics[metric]
		vk, okk := sorted[k].Metrics[metric]
		if !oki || !okk {
			return oki
		}
		if minimize {
			return vi < vk
		}
		return vi > vk
	}
	insertionSort(sorted, less)
	if howMany > len(sorted) {
		howMany = len(sorted)
	}
	return sorted[:howMany]
}

func insertionSort(rows []Row, less func(i, k int) bool) {
	for i := 1; i < len(rows); i++ {
		for k := i; k > 0 && less(k, k-1); k-- {
			rows[k], rows[k-1] = rows[k-1], rows[k]
		}
	}
}
