// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package crossentropy is a placeholder for the cross-entropy metaoptimizer
// named in spec.md alongside grid search and random search. The original
// implementation's NGOptimizer/cross-entropy adaptation loop (candidate
// population refitting a Gaussian to the top-performing fraction each
// iteration) is out of scope here; this package only wires the same
// Optimizer contract so a future implementation slots in without touching
// the control loop.
package crossentropy

import (
	"fmt"

	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
)

// Optimizer is an unimplemented stand-in for the cross-entropy strategy.
type Optimizer struct {
	distributions map[string]config.Distribution
}

// New constructs the stub. Calling Ask/AskAll/Tell panics; it exists so
// config.OptimizerStr values "cem", "cross_entropy" and "crossentropy"
// resolve to a concrete type instead of a missing-strategy error.
func New(distributions map[string]config.Distribution) *Optimizer {
	return &Optimizer{distributions: distributions}
}

// TryLoadFromPickle satisfies optimizer.Loader.
func TryLoadFromPickle(string) (optimizer.Optimizer, bool, error) {
	return nil, false, nil
}

func (o *Optimizer) notImplemented() {
	panic(fmt.Sprintf("crossentropy: not implemented (%d declared distributions)", len(o.distributions)))
}

func (o *Optimizer) Ask() paramvalue.Value                          { o.notImplemented(); return paramvalue.Value{} }
func (o *Optimizer) AskAll() []paramvalue.Value                     { o.notImplemented(); return nil }
func (o *Optimizer) Tell(jobs []*job.Job)                           { o.notImplemented() }
func (o *Optimizer) Iteration() int                                 { return 0 }
func (o *Optimizer) MinimalDF() []optimizer.Row                     { return nil }
func (o *Optimizer) FullDF() []optimizer.Row                        { return nil }
func (o *Optimizer) BestJobsModelDirs(howMany int) []string         { return nil }
func (o *Optimizer) SaveDataAndSelf(resultDir string) error         { return nil }
