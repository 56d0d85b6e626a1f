// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
)

// nonTransientSignatures are stderr substrings that mark a permanent
// failure rather than a transient one (§7, supplemented from the informal
// error-signature set the original backend scans for).
var nonTransientSignatures = []string{
	"out of memory",
	"OOM killed",
	"Traceback (most recent call last)",
	"panic:",
	"no such file or directory",
}

// CheckFilesystemForErrors scans the job's stderr log for a known
// non-transient signature and transitions to Failed if one is found. It
// returns the matched signature, or "" if none was found. A job already in
// a terminal state is left untouched.
func (j *Job) CheckFilesystemForErrors() string {
	if j.Status.Terminal() {
		return ""
	}
	data, err := os.ReadFile(j.Paths.StderrPath())
	if err != nil {
		return ""
	}
	text := string(data)
	for _, sig := range nonTransientSignatures {
		if strings.Contains(text, sig) {
			j.MarkFailed("stderr contains non-transient signature: " + sig)
			return sig
		}
	}
	return ""
}

// TryLoadResultsFromFilesystem checks whether the job's metrics CSV exists
// and is well-formed; if so it populates Metrics and returns true. A Running
// or ConcludedWithoutResults job then transitions to Concluded; a job in any
// other non-terminal state keeps its status, since the state graph has no
// edge from it to Concluded. It is safe to call repeatedly (e.g. once per
// tick while the grace window is open).
func (j *Job) TryLoadResultsFromFilesystem() bool {
	if j.Status.Terminal() {
		return j.Status == Concluded
	}

	metrics, ok := readMetricsCSV(j.Paths.MetricsCSVPath())
	if !ok {
		return false
	}

	j.Metrics = metrics
	switch j.Status {
	case ConcludedWithoutResults, Running:
		j.Transition(Concluded)
	default:
		// Results showed up before the job was seen running; the status
		// only changes if the state graph allows a direct move to Concluded.
		if CanTransition(j.Status, Concluded) {
			j.Transition(Concluded)
		}
	}
	return true
}

// readMetricsCSV parses a two-row CSV (header, values) into a name->value
// map, matching the worker's save_metrics_params output format.
func readMetricsCSV(path string) (map[string]float64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil || len(rows) < 2 {
		return nil, false
	}

	header, values := rows[0], rows[1]
	if len(header) != len(values) {
		return nil, false
	}

	out := make(map[string]float64, len(header))
	for i, name := range header {
		v, err := strconv.ParseFloat(values[i], 64)
		if err != nil {
			return nil, false
		}
		out[name] = v
	}
	return out, true
}
