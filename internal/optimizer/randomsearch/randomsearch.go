// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package randomsearch implements the general distribution-based optimizer:
// each hyperparameter is drawn independently from a declared distribution
// (uniform, log-uniform, or categorical) every Ask.
package randomsearch

import (
	"math"
	"math/rand"
	"sort"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
)

// Optimizer draws i.i.d. samples from a fixed set of declared
// distributions; it never adapts the distributions themselves based on
// Tell, matching the spec's treatment of this strategy as externally
// defined and non-adaptive.
type Optimizer struct {
	distributions map[string]config.Distribution
	metric        string
	minimize      bool
	numSamples    int
	rng           *rand.Rand

	iteration int
	asked     int
	rows      []optimizer.Row
}

// New constructs a random-search optimizer over distributions, stopping
// AskAll at numSamples candidates.
func New(distributions map[string]config.Distribution, metric string, minimize bool, numSamples int, seed int64) *Optimizer {
	return &Optimizer{
		distributions: distributions,
		metric:        metric,
		minimize:      minimize,
		numSamples:    numSamples,
		rng:           rand.New(rand.NewSource(seed)),
		iteration:     1,
	}
}

// TryLoadFromPickle satisfies optimizer.Loader by reporting no prior
// checkpoint; random search's seedable RNG state is not worth persisting
// across a resume, since a resumed run only needs to keep going, not
// reproduce the exact sequence already drawn.
func TryLoadFromPickle(string) (optimizer.Optimizer, bool, error) {
	return nil, false, nil
}

func (o *Optimizer) sampleOne(d config.Distribution) paramvalue.Value {
	switch d.Kind {
	case "categorical":
		if len(d.Choices) == 0 {
			return paramvalue.String("")
		}
		choice := d.Choices[o.rng.Intn(len(d.Choices))]
		return goToValue(choice)
	case "log_uniform":
		logLow, logHigh := math.Log(d.Low), math.Log(d.High)
		v := math.Exp(logLow + o.rng.Float64()*(logHigh-logLow))
		return paramvalue.Float(v)
	default: // "uniform"
		v := d.Low + o.rng.Float64()*(d.High-d.Low)
		return paramvalue.Float(v)
	}
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

// Ask draws one fresh setting from every declared distribution.
func (o *Optimizer) Ask() paramvalue.Value {
	names := make([]string, 0, len(o.distributions))
	for name := range o.distributions {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]paramvalue.Value, len(names))
	for _, name := range names {
		fields[name] = o.sampleOne(o.distributions[name])
	}
	o.asked++
	return paramvalue.Map(fields)
}

// AskAll draws numSamples settings at once.
func (o *Optimizer) AskAll() []paramvalue.Value {
	out := make([]paramvalue.Value, 0, o.numSamples)
	for i := 0; i < o.numSamples; i++ {
		out = append(out, o.Ask())
	}
	return out
}

// Tell records finished jobs' results.
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

// Iteration reports the current iteration count, advanced externally by
// the control loop as jobs complete in batches of n_jobs_per_iteration.
func (o *Optimizer) Iteration() int { return o.iteration }

// AdvanceIteration is called by the control loop at an iteration boundary.
func (o *Optimizer) AdvanceIteration() { o.iteration++ }

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
		dirs = append(dirs, r.ModelDir)
	}
	return dirs
}

// SaveDataAndSelf is a no-op: row history is persisted by the control loop
// through internal/persist, and the distributions themselves are part of
// the static config rather than learned state.
func (o *Optimizer) SaveDataAndSelf(resultDir string) error { return nil }
