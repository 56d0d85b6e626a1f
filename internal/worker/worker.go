// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the in-process side of a running job: parsing
// the orchestrator's connection info off argv, loading settings from the
// JSON file the control loop wrote, registering with the control
// channel, and reporting intermediate/final results. It is linked into the
// user's own job binary, not run by the orchestrator itself.
package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/Simon-Reif/cluster-utils/internal/wire"
)

// ConnectionInfo is the first argv token: {"ip":..., "port":..., "id":...},
// written by the control loop into the command the run script invokes.
type ConnectionInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	ID   int    `json:"id"`
}

// Context is the worker-side handle a job's user code is given; it bundles
// everything that would otherwise be package-level globals (connection
// info, resolved params, start time) into one explicit value.
type Context struct {
	Conn      ConnectionInfo
	Params    paramvalue.Value
	StartTime time.Time

	client *wire.Client
}

// ParseArgs reads connection info from argv[1] (a JSON object) and the
// resolved settings tree from argv[2] (a path to the settings JSON file the
// control loop wrote), returning a Context ready to register.
func ParseArgs(argv []string) (*Context, error) {
	if len(argv) < 3 {
		return nil, fmt.Errorf("worker: expected connection info and settings path, got %d args", len(argv))
	}
	var conn ConnectionInfo
	if err := json.Unmarshal([]byte(argv[1]), &conn); err != nil {
		return nil, fmt.Errorf("worker: parse connection info: %w", err)
	}

	data, err := os.ReadFile(argv[2])
	if err != nil {
		return nil, fmt.Errorf("worker: read settings file: %w", err)
	}
	params, err := paramvalue.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("worker: parse settings: %w", err)
	}

	return &Context{Conn: conn, Params: params, StartTime: time.Now()}, nil
}

// Register opens the control-channel connection and reports JOB_STARTED.
func (c *Context) Register() error {
	client, err := wire.Dial(c.Conn.IP, c.Conn.Port)
	if err != nil {
		return err
	}
	c.client = client
	return c.client.JobStarted(c.Conn.ID)
}

// ReportIntermediate sends an intermediate metrics snapshot for the laggard
// killer to compare against other running jobs.
func (c *Context) ReportIntermediate(metrics map[string]float64) error {
	if c.client == nil {
		return fmt.Errorf("worker: not registered")
	}
	return c.client.JobSentResults(c.Conn.ID, metrics)
}

// ReportError tells the orchestrator the job hit an unrecoverable error.
func (c *Context) ReportError(message string) error {
	if c.client == nil {
		return fmt.Errorf("worker: not registered")
	}
	return c.client.ErrorEncountered(c.Conn.ID, message)
}

// SaveMetricsAndExit writes the job's settings and metrics to saveDir,
// reports JOB_CONCLUDED, and closes the control-channel connection. A
// "time_elapsed" metric is added automatically unless the caller already
// supplied one.
func (c *Context) SaveMetricsAndExit(saveDir string, metrics map[string]float64) error {
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return err
	}
	if _, ok := metrics["time_elapsed"]; !ok {
		metrics["time_elapsed"] = time.Since(c.StartTime).Seconds()
	}

	if err := writeSettingsJSON(saveDir, c.Params); err != nil {
		return err
	}
	if err := writeParamCSV(saveDir, c.Params); err != nil {
		return err
	}
	if err := writeMetricsCSV(saveDir, metrics); err != nil {
		return err
	}

	if c.client == nil {
		return fmt.Errorf("worker: not registered")
	}
	if err := c.client.JobSentResults(c.Conn.ID, metrics); err != nil {
		return err
	}
	if err := c.client.JobConcluded(c.Conn.ID); err != nil {
		return err
	}
	return c.client.Close()
}

// ExitForResume reports no final metrics and lets the batch backend's exit
// code 3 convention handle the requeue; the worker process is expected to
// exit immediately after calling this.
func (c *Context) ExitForResume() error {
	if c.client == nil {
		return fmt.Errorf("worker: not registered")
	}
	return c.client.Close()
}
