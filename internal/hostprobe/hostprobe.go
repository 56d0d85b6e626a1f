// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package hostprobe reports host resource capacity for sizing the local
// backend's worker pool (C10).
package hostprobe

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CPUCount returns the number of logical CPUs available to the process,
// preferring gopsutil's cgroup-aware count and falling back to
// runtime.NumCPU if detection fails.
func CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
