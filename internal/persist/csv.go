// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
)

// stdSuffix is appended to a metric's column name for its standard
// deviation column, matching the original report's std_ending convention.
const stdSuffix = "_std"

// WriteAllData writes one row per job: its id, every flattened parameter,
// and every reported metric.
func WriteAllData(path string, rows []optimizer.Row) error {
	paramNames, metricNames := collectColumns(rows)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	header := append([]string{"job_id"}, paramNames...)
	header = append(header, metricNames...)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := make([]string, 0, len(header))
		record = append(record, fmt.Sprintf("%d", r.JobID))
		for _, p := range paramNames {
			record = append(record, fmt.Sprintf("%v", r.Params[p]))
		}
		for _, m := range metricNames {
			if v, ok := r.Metrics[m]; ok {
				record = append(record, fmt.Sprintf("%v", v))
			} else {
				record = append(record, "")
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteReducedData writes one row per distinct combination of paramsToKeep,
// with each metric averaged (plus a _std column and a restart count)
// across every run sharing that combination — the Go equivalent of
// average_out(df, metrics, params_to_keep).
func WriteReducedData(path string, rows []optimizer.Row, paramsToKeep, metrics []string) error {
	type group struct {
		paramVals map[string]any
		values    map[string][]float64
	}
	groups := map[string]*group{}
	var order []string

	for _, r := range rows {
		key := groupKey(r.Params, paramsToKeep)
		g, ok := groups[key]
		if !ok {
			g = &group{paramVals: map[string]any{}, values: map[string][]float64{}}
			for _, p := range paramsToKeep {
				g.paramVals[p] = r.Params[p]
			}
			groups[key] = g
			order = append(order, key)
		}
		for _, m := range metrics {
			if v, ok := r.Metrics[m]; ok {
				g.values[m] = append(g.values[m], v)
			}
		}
	}
	sort.Strings(order)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	header := append([]string{}, paramsToKeep...)
	for _, m := range metrics {
		header = append(header, m, m+stdSuffix)
	}
	header = append(header, "restarts")
	if err := w.Write(header); err != nil {
		return err
	}

	for _, key := range order {
		g := groups[key]
		record := make([]string, 0, len(header))
		for _, p := range paramsToKeep {
			record = append(record, fmt.Sprintf("%v", g.paramVals[p]))
		}
		restarts := 0
		for _, m := range metrics {
			vals := g.values[m]
			mean, std := meanStd(vals)
			record = append(record, fmt.Sprintf("%v", mean), fmt.Sprintf("%v", std))
			if len(vals) > restarts {
				restarts = len(vals)
			}
		}
		record = append(record, fmt.Sprintf("%d", restarts))
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

func groupKey(params map[string]any, keep []string) string {
	key := ""
	for _, p := range keep {
		key += fmt.Sprintf("%s=%v;", p, params[p])
	}
	return key
}

func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	std = math.Sqrt(sq / float64(len(vals)-1))
	return mean, std
}

func collectColumns(rows []optimizer.Row) (params, metrics []string) {
	paramSet := map[string]bool{}
	metricSet := map[string]bool{}
	for _, r := range rows {
		for k := range r.Params {
			paramSet[k] = true
		}
		for k := range r.Metrics {
			metricSet[k] = true
		}
	}
	for k := range paramSet {
		params = append(params, k)
	}
	for k := range metricSet {
		metrics = append(metrics, k)
	}
	sort.Strings(params)
	sort.Strings(metrics)
	return params, metrics
}
