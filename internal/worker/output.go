// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
)

func writeSettingsJSON(dir string, params paramvalue.Value) error {
	fields, _ := params.AsMap()
	flat := map[string]any{}
	for k, v := range fields {
		flat[k] = v.Scalar()
	}
	data, err := json.MarshalIndent(flat, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "settings.json"), data, 0o644)
}

func writeParamCSV(dir string, params paramvalue.Value) error {
	fields, _ := params.AsMap()
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	f, err := os.Create(filepath.Join(dir, "param_choice.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	values := make([]string, len(names))
	for i, n := range names {
		values[i] = fmt.Sprintf("%v", fields[n].Scalar())
	}
	if err := w.Write(names); err != nil {
		return err
	}
	return w.Write(values)
}

func writeMetricsCSV(dir string, metrics map[string]float64) error {
	names := make([]string, 0, len(metrics))
	for k := range metrics {
		names = append(names, k)
	}
	sort.Strings(names)

	f, err := os.Create(filepath.Join(dir, "metrics.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	values := make([]string, len(names))
	for i, n := range names {
		values[i] = fmt.Sprintf("%v", metrics[n])
	}
	if err := w.Write(names); err != nil {
		return err
	}
	return w.Write(values)
}
