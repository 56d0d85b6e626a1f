// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package gridsearch implements the grid-search optimizer: the full
// cartesian product of a discrete hyperparameter list, each combination
// repeated restarts times. It only ever proposes candidates through AskAll;
// Ask panics, matching the original grid_search entrypoint's exhaustive,
// ask-everything-up-front shape.
package gridsearch

import (
	"path/filepath"
	"sort"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
)

// Optimizer enumerates every combination of a discrete hyperparameter list.
type Optimizer struct {
	hyperparams map[string][]any
	metric      string
	minimize    bool
	restarts    int

	iteration int
	rows      []optimizer.Row
}

// New constructs a grid-search optimizer over hyperparams, with each
// combination submitted restarts times.
func New(hyperparams map[string][]any, metric string, minimize bool, restarts int) *Optimizer {
	if restarts <= 0 {
		restarts = 1
	}
	return &Optimizer{
		hyperparams: hyperparams,
		metric:      metric,
		minimize:    minimize,
		restarts:    restarts,
		iteration:   1,
	}
}

// TryLoadFromPickle satisfies optimizer.Loader; grid search has no
// meaningful mid-run checkpoint since the candidate set is fixed up front,
// so it always reports no prior state.
func TryLoadFromPickle(string) (optimizer.Optimizer, bool, error) {
	return nil, false, nil
}

// Ask is not supported by grid search; callers must use AskAll.
func (o *Optimizer) Ask() paramvalue.Value {
	panic("gridsearch: Ask is not supported, call AskAll")
}

// AskAll returns every (combination x restart) candidate setting.
func (o *Optimizer) AskAll() []paramvalue.Value {
	names := make([]string, 0, len(o.hyperparams))
	for name := range o.hyperparams {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := [][]any{{}}
	for _, name := range names {
		values := o.hyperparams[name]
		var next [][]any
		for _, combo := range combos {
			for _, v := range values {
				extended := append(append([]any(nil), combo...), v)
				next = append(next, extended)
			}
		}
		combos = next
	}

	var out []paramvalue.Value
	for _, combo := range combos {
		fields := make(map[string]paramvalue.Value, len(names))
		for i, name := range names {
			fields[name] = goToValue(combo[i])
		}
		for r := 0; r < o.restarts; r++ {
			out = append(out, paramvalue.Map(fields))
		}
	}
	return out
}

func goToValue(v any) paramvalue.Value {
	switch x := v.(type) {
	case bool:
		return paramvalue.Bool(x)
	case int:
		return paramvalue.Int(int64(x))
	case int64:
		return paramvalue.Int(x)
	case float64:
		return paramvalue.Float(x)
	case string:
		return paramvalue.String(x)
	default:
		return paramvalue.String("")
	}
}

// Tell records finished jobs; grid search never adapts its proposals but
// still accumulates rows for the result views.
func (o *Optimizer) Tell(jobs []*job.Job) {
	for _, j := range jobs {
		params, metrics, ok := j.Row()
		if !ok {
			continue
		}
		o.rows = append(o.rows, optimizer.Row{
			JobID:    j.ID,
			Params:   params,
			Metrics:  metrics,
			ModelDir: j.Paths.WorkingDir,
		})
		j.ResultsUsedForUpdate = true
	}
}

// Iteration is always 1: grid search has no iteration concept since its
// full candidate set is known from the start.
func (o *Optimizer) Iteration() int { return o.iteration }

// MinimalDF returns recorded rows sorted best-first by the target metric.
func (o *Optimizer) MinimalDF() []optimizer.Row {
	sorted := append([]optimizer.Row(nil), o.rows...)
	sort.SliceStable(sorted, func(i, k int) bool {
		vi, oki := sorted[i].Metrics[o.metric]
		vk, okk := sorted[k].Metrics[o.metric]
		if !oki || !okk {
			return oki
		}
		if o.minimize {
			return vi < vk
		}
		return vi > vk
	})
	return sorted
}

// FullDF returns every recorded row.
func (o *Optimizer) FullDF() []optimizer.Row {
	return append([]optimizer.Row(nil), o.rows...)
}

// BestJobsModelDirs returns the model directories of the howMany
// best-performing jobs recorded so far.
func (o *Optimizer) BestJobsModelDirs(howMany int) []string {
	best := o.MinimalDF()
	if howMany > len(best) {
		howMany = len(best)
	}
	dirs := make([]string, 0, howMany)
	for _, r := range best[:howMany] {
		dirs = append(dirs, filepath.Clean(r.ModelDir))
	}
	return dirs
}

// SaveDataAndSelf is a no-op: grid search has no learned state worth
// checkpointing beyond the row history, which the control loop persists
// separately via internal/persist.
func (o *Optimizer) SaveDataAndSelf(resultDir string) error { return nil }
