// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrMissingResultDir is returned when result_dir is not set.
	ErrMissingResultDir = errors.New("result_dir is required")

	// ErrMissingScript is returned when script_relative_path is not set.
	ErrMissingScript = errors.New("script_relative_path is required")

	// ErrInvalidSamples is returned when samples is not positive.
	ErrInvalidSamples = errors.New("samples must be greater than 0")

	// ErrInvalidJobsPerIteration is returned when n_jobs_per_iteration is not positive.
	ErrInvalidJobsPerIteration = errors.New("n_jobs_per_iteration must be greater than 0")

	// ErrMissingMetric is returned when metric_to_optimize is not set.
	ErrMissingMetric = errors.New("metric_to_optimize is required")
)
