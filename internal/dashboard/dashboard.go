// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package dashboard implements the optional, loopback-bound status endpoint
// (C9): a single JSON snapshot of backend/optimizer progress, stamped with
// a fresh run id on every request.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Snapshot is the JSON body served at GET /status.
type Snapshot struct {
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

// IterationSource is the narrow slice of optimizer.Optimizer the dashboard
// needs, so it depends on an accessor rather than the whole optimizer
// contract.
type IterationSource interface {
	Iteration() int
}

// Server hosts the status endpoint over a gorilla/mux router on the address
// it is given (loopback in the default config); it is disabled unless the
// config explicitly enables it.
type Server struct {
	http *http.Server
}

// statusHandler builds the GET /status handler for be, split out from New
// so it can be exercised directly in tests without binding a socket.
func statusHandler(be backend.Backend, optim IterationSource, metric string, minimize bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := Snapshot{
			RunID:          uuid.NewString(),
			GeneratedAt:    time.Now(),
			Submitted:      len(be.SubmittedJobs()),
			Running:        len(be.RunningJobs()),
			Successful:     len(be.SuccessfulJobs()),
			Failed:         len(be.FailedJobs()),
			Completed:      be.NCompletedJobs(),
			MedianTimeLeft: be.MedianTimeLeft().String(),
			Iteration:      optim.Iteration(),
		}
		if best, ok := be.BestSeenValue(metric, minimize); ok {
			snap.BestSeenValue = &best
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

// New builds a dashboard server that reports on be and optim, listening on
// addr (expected to be a loopback address). metric/minimize identify which
// reported value counts as "best seen" in the snapshot.
func New(addr string, be backend.Backend, optim IterationSource, metric string, minimize bool) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/status", statusHandler(be, optim, metric, minimize)).Methods(http.MethodGet)
	return &Server{http: &http.Server{Addr: addr, Handler: router}}
}

// ListenAndServe blocks serving the dashboard; callers typically run this
// in its own goroutine alongside the control loop.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Close shuts the dashboard server down.
func (s *Server) Close() error {
	return s.http.Close()
}
