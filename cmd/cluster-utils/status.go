// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a run's dashboard snapshot as a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printStatus(statusAddr)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:8080", "dashboard address to query")
	rootCmd.AddCommand(statusCmd)
}

type snapshot struct {
	RunID          string    `json:"run_id"`
	GeneratedAt    time.Time `json:"generated_at"`
	Submitted      int       `json:"submitted_jobs"`
	Running        int       `json:"running_jobs"`
	Successful     int       `json:"successful_jobs"`
	Failed         int       `json:"failed_jobs"`
	Completed      int       `json:"n_completed_jobs"`
	MedianTimeLeft string    `json:"median_time_left"`
	Iteration      int       `json:"iteration"`
	BestSeenValue  *float64  `json:"best_seen_value,omitempty"`
}

// printStatus fetches the dashboard's JSON snapshot from addr and renders
// it as a two-column table, title-casing each field name for display.
func printStatus(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return fmt.Errorf("query dashboard: %w", err)
	}
	defer resp.Body.Close()

	var snap snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode dashboard response: %w", err)
	}

	bestSeen := "n/a"
	if snap.BestSeenValue != nil {
		bestSeen = fmt.Sprintf("%v", *snap.BestSeenValue)
	}

	titler := cases.Title(language.English)
	rows := [][2]string{
		{"run_id", snap.RunID},
		{"generated_at", snap.GeneratedAt.Format(time.RFC3339)},
		{"submitted_jobs", fmt.Sprintf("%d", snap.Submitted)},
		{"running_jobs", fmt.Sprintf("%d", snap.Running)},
		{"successful_jobs", fmt.Sprintf("%d", snap.Successful)},
		{"failed_jobs", fmt.Sprintf("%d", snap.Failed)},
		{"n_completed_jobs", fmt.Sprintf("%d", snap.Completed)},
		{"median_time_left", snap.MedianTimeLeft},
		{"iteration", fmt.Sprintf("%d", snap.Iteration)},
		{"best_seen_value", bestSeen},
	}
	for _, r := range rows {
		label := titler.String(strings.ReplaceAll(r[0], "_", " "))
		fmt.Printf("%-20s %s\n", label, r[1])
	}
	return nil
}
