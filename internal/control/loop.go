// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package control implements the orchestrator's main control loop (C5):
// submission, polling, the failure budget, iteration boundaries, and the
// laggard killer, driven by a fixed-interval ticker over the backend,
// optimizer, and communication-channel contracts.
package control

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Simon-Reif/cluster-utils/internal/backend"
	"github.com/Simon-Reif/cluster-utils/internal/job"
	"github.com/Simon-Reif/cluster-utils/internal/optimizer"
	"github.com/Simon-Reif/cluster-utils/internal/paramvalue"
	"github.com/Simon-Reif/cluster-utils/internal/persist"
	"github.com/Simon-Reif/cluster-utils/internal/wire"
	"github.com/Simon-Reif/cluster-utils/pkg/config"
	"github.com/Simon-Reif/cluster-utils/pkg/errors"
	"github.com/Simon-Reif/cluster-utils/pkg/logging"
)

// Loop owns every piece of mutable run state: the job records (via the
// backend's tracker), the optimizer, and the communication channel.
type Loop struct {
	cfg     *config.Config
	backend backend.Backend
	optim   optimizer.Optimizer
	server  *wire.Server
	store   *persist.Store
	logger  logging.Logger

	iterationOffset int
	lastIteration   int
	nextJobID       int
	timestamp       string
}

// New constructs a control loop over an already-initialized backend,
// optimizer, communication server, and checkpoint store.
func New(cfg *config.Config, be backend.Backend, optim optimizer.Optimizer, server *wire.Server, store *persist.Store, logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Loop{
		cfg:             cfg,
		backend:         be,
		optim:           optim,
		server:          server,
		store:           store,
		logger:          logger,
		iterationOffset: optim.Iteration(),
		lastIteration:   optim.Iteration(),
		timestamp:       time.Now().Format("15:04:05-02Jan06"),
	}
}

// Run drives the loop until n_completed_jobs reaches the sample budget, the
// failure budget trips, or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.backend.ExecPreRunRoutines(ctx); err != nil {
		return errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if l.backend.NCompletedJobs() >= l.cfg.Samples {
			break
		}
		select {
		case <-ctx.Done():
			l.logger.Info("control loop interrupted, closing backend")
			return l.backend.Close()
		case update := <-l.server.Updates():
			l.applyUpdate(update)
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				l.backend.Close()
				return err
			}
		}
	}

	if err := l.postIteration(); err != nil {
		l.logger.Warn("final post-iteration checkpoint failed", "error", err.Error())
	}
	if err := l.backend.ExecPostRunRoutines(ctx); err != nil {
		l.logger.Warn("post-run routines failed", "error", err.Error())
	}
	return l.backend.Close()
}

// applyUpdate folds one control-channel datagram into the matching job's
// state. Updates for an untracked job id are dropped and logged, matching
// the "unrecognized message" handling of the channel this replaces.
func (l *Loop) applyUpdate(u wire.Update) {
	j := l.findJob(u.JobID)
	if j == nil {
		l.logger.Warn("control-channel update for unknown job", "job_id", u.JobID, "tag", u.Tag.String())
		return
	}
	switch u.Tag {
	case wire.JobStarted:
		if job.CanTransition(j.Status, job.Running) {
			j.StartTime = time.Now()
			j.Transition(job.Running)
		}
	case wire.ErrorEncountered:
		j.MarkFailed(u.ErrorMessage)
	case wire.JobSentResults:
		if v, ok := u.Metrics[l.cfg.MetricToOptimize]; ok {
			j.ReportedMetricValues = append(j.ReportedMetricValues, v)
		}
	case wire.JobConcluded:
		// The datagram carries no result payload; final metrics are only
		// ever trusted once read back from the metrics CSV, exactly as
		// pollBackendStatus's CompletedOK branch does.
		if j.TryLoadResultsFromFilesystem() {
			j.EndTime = time.Now()
			return
		}
		if job.CanTransition(j.Status, job.ConcludedWithoutResults) {
			j.Transition(job.ConcludedWithoutResults)
			j.ConcludedWithoutResultsAt = time.Now()
		}
	}
}

func (l *Loop) findJob(id int) *job.Job {
	for _, j := range l.backend.SubmittedJobs() {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// tick runs steps 2-9 of the main loop. Step 1 (keyboard pause/resume/abort)
// has no terminal to drain in a daemon process; the status dashboard is its
// replacement observability surface.
func (l *Loop) tick(ctx context.Context) error {
	l.tellOptimizer()

	if err := l.maybeSubmit(ctx); err != nil && err != backend.ErrPoolFull {
		return err
	}

	if l.backend.NCompletedJobs()/l.cfg.NJobsPerIteration > l.optim.Iteration()-l.iterationOffset {
		if err := l.postIteration(); err != nil {
			return err
		}
	}

	for _, j := range l.backend.SubmittedJobs() {
		if j.Status == job.Submitted || j.Status == job.WaitingForResume {
			j.CheckFilesystemForErrors()
		}
	}
	l.backend.CheckErrorMsgs()

	l.pollBackendStatus(ctx)
	l.enforceGraceWindow()

	nFailed := len(l.backend.FailedJobs())
	nSuccessful := len(l.backend.SuccessfulJobs())
	nRunning := len(l.backend.RunningJobs())
	if nFailed > nSuccessful+nRunning+l.cfg.FailureSlack {
		return errors.New(errors.ErrorCodeTooManyFailures,
			fmt.Sprintf("too many (%d) jobs failed", nFailed))
	}

	if l.cfg.KillBadJobsEarly {
		l.killBadLookingJobs(ctx)
	}
	return nil
}

// pollBackendStatus folds backend-reported process completion into job
// state for jobs the control channel hasn't already concluded: a clean exit
// without a metrics file yet opens the grace window, a resume exit code
// re-submits the job, and any other non-zero exit fails it outright.
func (l *Loop) pollBackendStatus(ctx context.Context) {
	for _, j := range l.backend.SubmittedJobs() {
		if j.Status != job.Submitted && j.Status != job.Running {
			continue
		}
		status, err := l.backend.Status(ctx, j)
		if err != nil {
			l.logger.Warn("backend status check failed", "job_id", j.ID, "error", err.Error())
			continue
		}
		if j.Status == job.Submitted && status != backend.Unknown && status != backend.Queued {
			// The backend has seen the process start even if its
			// JOB_STARTED datagram never arrived.
			j.Transition(job.Running)
			if j.StartTime.IsZero() {
				j.StartTime = time.Now()
			}
		}
		switch status {
		case backend.CompletedOK:
			if j.TryLoadResultsFromFilesystem() {
				continue
			}
			if job.CanTransition(j.Status, job.ConcludedWithoutResults) {
				j.Transition(job.ConcludedWithoutResults)
				j.ConcludedWithoutResultsAt = time.Now()
			}
		case backend.CompletedResume:
			if job.CanTransition(j.Status, job.WaitingForResume) {
				j.Transition(job.WaitingForResume)
			}
		case backend.CompletedFail:
			if !j.TryLoadResultsFromFilesystem() {
				j.MarkFailed("backend reported non-zero exit")
			}
		}
	}
	l.resubmitWaitingJobs(ctx)
}

// enforceGraceWindow fails any job that has sat in ConcludedWithoutResults
// past the configured grace window without a metrics file appearing.
func (l *Loop) enforceGraceWindow() {
	for _, j := range l.backend.SubmittedJobs() {
		if j.Status != job.ConcludedWithoutResults {
			continue
		}
		if j.TryLoadResultsFromFilesystem() {
			continue
		}
		if time.Since(j.ConcludedWithoutResultsAt) > l.cfg.GraceWindow {
			j.MarkFailed("grace window elapsed without readable metrics")
		}
	}
}

// resubmitWaitingJobs re-submits every job waiting on a checkpointed resume,
// incrementing its restart count and clearing per-attempt state.
func (l *Loop) resubmitWaitingJobs(ctx context.Context) {
	for _, j := range l.backend.SubmittedJobs() {
		if j.Status != job.WaitingForResume {
			continue
		}
		j.ResetForResume()
		if _, err := l.backend.Submit(ctx, j); err != nil {
			if err == backend.ErrPoolFull {
				continue
			}
			l.logger.Warn("failed to resubmit job for resume", "job_id", j.ID, "error", err.Error())
			continue
		}
		j.SubmissionTime = time.Now()
		j.Transition(job.Submitted)
	}
}

func (l *Loop) tellOptimizer() {
	var toTell []*job.Job
	for _, j := range l.backend.SuccessfulJobs() {
		if !j.ResultsUsedForUpdate {
			toTell = append(toTell, j)
		}
	}
	if len(toTell) == 0 {
		return
	}
	l.optim.Tell(toTell)
	for _, j := range toTell {
		j.ResultsUsedForUpdate = true
	}
}

func (l *Loop) maybeSubmit(ctx context.Context) error {
	nSubmitted := len(l.backend.SubmittedJobs())
	nCompleted := l.backend.NCompletedJobs()
	if nSubmitted-nCompleted >= l.cfg.NJobsPerIteration || nSubmitted >= l.cfg.Samples {
		return nil
	}

	settings := l.optim.Ask()
	settings = paramvalue.ResolveTimestamp(settings, l.timestamp)

	id := l.backend.IncJobID()
	iteration := l.optim.Iteration() + 1
	dirName := fmt.Sprintf("%d_%d", iteration, id)
	workingDir := filepath.Join(l.cfg.ResultDir, "working_directories", dirName)
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	otherParams := fixedParamsToValue(l.cfg.FixedParams)
	newJob := job.New(id, iteration, settings, otherParams, job.Paths{
		WorkingDir: workingDir,
		JobsDir:    filepath.Join(l.cfg.ResultDir, "jobs"),
		ResultDir:  l.cfg.ResultDir,
	})

	if err := l.writeJobInputs(newJob); err != nil {
		return errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}

	_, err := l.backend.Submit(ctx, newJob)
	if err != nil {
		if err == backend.ErrPoolFull {
			return err
		}
		return errors.WrapBackendError(errors.ErrorCodeBackendSubmit, err)
	}
	newJob.SubmissionTime = time.Now()
	newJob.Transition(job.Submitted)
	return nil
}

// writeJobInputs writes the settings file a worker reads on startup and
// builds the full command line the backend wraps in its run script: any
// configured environment setup followed by the user script invocation with
// the control-channel connection info and settings path as argv[1]/argv[2].
func (l *Loop) writeJobInputs(j *job.Job) error {
	data, err := paramvalue.ToJSON(j.Settings)
	if err != nil {
		return err
	}
	if err := os.WriteFile(j.Paths.SettingsJSONPath(), data, 0o644); err != nil {
		return err
	}

	ip, port := l.server.ConnectionInfo()
	connInfo := fmt.Sprintf(`{"ip":%q,"port":%d,"id":%d}`, ip, port, j.ID)

	lines := append([]string(nil), l.cfg.EnvironmentSetup...)
	lines = append(lines, fmt.Sprintf("%s '%s' %s", l.cfg.ScriptRelativePath, connInfo, j.Paths.SettingsJSONPath()))
	j.Command = strings.Join(lines, "\n")
	return nil
}

func fixedParamsToValue(fixed map[string]any) paramvalue.Value {
	fields := make(map[string]paramvalue.Value, len(fixed))
	for k, v := range fixed {
		fields[k] = scalarToValue(v)
	}
	return paramvalue.Map(fields)
}

func scalarToValue(v any) paramvalue.Value {
	switch x := v.(type) {
	case bool:
		return paramvalue.Bool(x)
	case float64:
		return paramvalue.Float(x)
	case string:
		return paramvalue.String(x)
	default:
		return paramvalue.String(fmt.Sprintf("%v", x))
	}
}

// variedParamNames returns the hyperparameter names the search space
// actually varies (the grid/distribution keys), so reduced_data.csv groups
// restarts by what was swept rather than by fixed_params.
func (l *Loop) variedParamNames() []string {
	names := make(map[string]bool, len(l.cfg.HyperparamList)+len(l.cfg.DistributionList))
	for name := range l.cfg.HyperparamList {
		names[name] = true
	}
	for name := range l.cfg.DistributionList {
		names[name] = true
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// postIteration persists the recorded rows (report data in the store, the
// optimizer's own checkpoint, all_data.csv and reduced_data.csv) and advances
// the iteration counter of optimizers that expose AdvanceIteration. It does
// not touch the communication server, and working directories are neither
// copied to best_jobs/ nor deleted.
func (l *Loop) postIteration() error {
	rows := l.optim.FullDF()
	if l.store != nil {
		if err := l.store.SaveReportData(rows); err != nil {
			return err
		}
	}
	if err := l.optim.SaveDataAndSelf(l.cfg.ResultDir); err != nil {
		return err
	}

	allDataPath := filepath.Join(l.cfg.ResultDir, "all_data.csv")
	if err := persist.WriteAllData(allDataPath, rows); err != nil {
		l.logger.Warn("failed writing all_data.csv", "error", err.Error())
	}

	reducedDataPath := filepath.Join(l.cfg.ResultDir, "reduced_data.csv")
	if err := persist.WriteReducedData(reducedDataPath, rows, l.variedParamNames(), []string{l.cfg.MetricToOptimize}); err != nil {
		l.logger.Warn("failed writing reduced_data.csv", "error", err.Error())
	}

	l.lastIteration = l.optim.Iteration()
	l.logger.Info("starting new iteration", "iteration", l.lastIteration+1)
	if a, ok := l.optim.(interface{ AdvanceIteration() }); ok {
		a.AdvanceIteration()
	}
	return nil
}

// killBadLookingJobs implements the RMS-rank-deviation early-stopping rule
// described for C5: jobs far enough below the target rank, relative to how
// noisy that step's ranking has historically been, are finalized early.
func (l *Loop) killBadLookingJobs(ctx context.Context) {
	metric := l.cfg.MetricToOptimize
	minimize := l.cfg.Minimize
	target := l.cfg.EarlyKillingParams.TargetRank
	stds := l.cfg.EarlyKillingParams.HowManyStds

	var series [][]float64
	for _, j := range l.backend.SuccessfulJobs() {
		if len(j.ReportedMetricValues) == 0 {
			continue
		}
		final, ok := j.Metrics[metric]
		if !ok {
			continue
		}
		series = append(series, append(append([]float64(nil), j.ReportedMetricValues...), final))
	}
	if len(series) == 0 {
		return
	}

	maxLen := 0
	for _, s := range series {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	var full [][]float64
	for _, s := range series {
		if len(s) == maxLen {
			full = append(full, s)
		}
	}
	if len(full) < 5 {
		return
	}

	ranks := rankColumns(full, minimize)
	deviations := make([]float64, maxLen)
	for col := 0; col < maxLen; col++ {
		deviations[col] = rmsDeviation(ranks, col, maxLen-1)
	}

	for _, j := range l.backend.RunningJobs() {
		n := len(j.ReportedMetricValues)
		if n == 0 || n > maxLen/2 {
			continue
		}
		idx := n - 1
		current := j.ReportedMetricValues[n-1]

		column := make([]float64, 0, len(full)+1)
		for _, s := range full {
			column = append(column, s[idx])
		}
		column = append(column, current)
		jobRank := rankOf(column, len(column)-1, minimize)

		if float64(jobRank)-stds*deviations[idx] > float64(target) {
			j.Metrics = map[string]float64{metric: current}
			j.Transition(job.Concluded)
			j.ResultsUsedForUpdate = false
			if err := l.backend.Stop(ctx, j); err != nil {
				l.logger.Warn("failed to stop laggard job", "job_id", j.ID, "error", err.Error())
			}
		}
	}
}

// rankColumns computes the column-wise rank matrix (0 = best under
// minimize/maximize) for a dense N x L matrix of reported values.
func rankColumns(m [][]float64, minimize bool) [][]int {
	n := len(m)
	l := len(m[0])
	ranks := make([][]int, n)
	for i := range ranks {
		ranks[i] = make([]int, l)
	}
	for col := 0; col < l; col++ {
		column := make([]float64, n)
		for row := 0; row < n; row++ {
			column[row] = m[row][col]
		}
		for row := 0; row < n; row++ {
			ranks[row][col] = rankOf(column, row, minimize)
		}
	}
	return ranks
}

// rankOf returns the 0-based rank of column[idx] within column, best-first:
// lower values rank first when minimize is true, higher values otherwise.
func rankOf(column []float64, idx int, minimize bool) int {
	rank := 0
	for i, v := range column {
		if i == idx {
			continue
		}
		if minimize && v < column[idx] {
			rank++
		}
		if !minimize && v > column[idx] {
			rank++
		}
	}
	return rank
}

// rmsDeviation computes the RMS deviation of column `col`'s ranks from
// column `finalCol`'s ranks.
func rmsDeviation(ranks [][]int, col, finalCol int) float64 {
	if len(ranks) == 0 {
		return 0
	}
	sum := 0.0
	for _, row := range ranks {
		d := float64(row[col] - row[finalCol])
		sum += d * d
	}
	mean := sum / float64(len(ranks))
	return math.Sqrt(mean)
}
