package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

// RunnerConfig holds the settings a run needs beyond the job itself
type RunnerConfig struct {
	DefaultTimeout time.Duration // Per-action timeout when the job sets none
	PublicURL      string        // Absolute base URL of this service
	TraceViewerURL string        // The escaped trace URL is appended to this
}

// Runner executes one job's actions inside a single browser session
type Runner struct {
	driver    interfaces.BrowserDriver
	executor  *Executor
	artifacts interfaces.ArtifactStorage
	events    interfaces.EventService // Optional
	config    RunnerConfig
	logger    arbor.ILogger
	now       func() time.Time
}

// NewRunner creates a runner. events may be nil.
func NewRunner(driver interfaces.BrowserDriver, executor *Executor, artifacts interfaces.ArtifactStorage, events interfaces.EventService, config RunnerConfig, logger arbor.ILogger) *Runner {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	return &Runner{
		driver:    driver,
		executor:  executor,
		artifacts: artifacts,
		events:    events,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// run is the state of one invocation
type run struct {
	job        *models.Job
	session    interfaces.BrowserSession
	stats      *networkStats
	statistics *models.Statistics
	trace      *models.TraceInfo
	recorder   *traceRecorder
	logger     arbor.ILogger
}

// Run executes the job and always returns a result. The session is released
// before the duration is measured.
func (r *Runner) Run(ctx context.Context, job *models.Job) *models.JobResult {
	started := r.now()
	logger := r.logger.WithCorrelationId(job.ID)

	profile := models.ResolveDevice(job.Config.DeviceType, job.Config.Options)
	state := &run{
		job:        job,
		stats:      &networkStats{},
		statistics: &models.Statistics{Screenshots: []string{}},
		trace:      &models.TraceInfo{Steps: []models.TraceStep{}},
		logger:     logger,
	}

	logger.Info().
		Str("browser", string(job.Config.BrowserType)).
		Str("device", string(job.Config.DeviceType)).
		Int("actions", len(job.Config.Actions)).
		Msg("Starting browser job")

	session, err := r.driver.Launch(ctx, job.Config.BrowserType, interfaces.SessionOptions{
		Device:         profile,
		DefaultTimeout: r.actionTimeout(job),
		Observer:       state.stats,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to launch browser session")
		return r.result(started, state, fmt.Errorf("launch %s: %w", job.Config.BrowserType, err), "")
	}
	state.session = session

	if opts := job.Config.Options; opts != nil && opts.GenerateTrace {
		state.recorder = newTraceRecorder(job, profile, started)
	}

	diagnostic, runErr := r.runActions(ctx, state)
	if runErr == nil && state.recorder != nil {
		runErr = r.persistTrace(ctx, state)
	}

	if finalURL, err := session.URL(ctx); err == nil {
		state.statistics.FinalURL = finalURL
	}

	if err := session.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close browser session")
	}

	return r.result(started, state, runErr, diagnostic)
}

// runActions executes the actions in order and stops at the first failure.
// It returns the diagnostic screenshot path captured for that failure, if any.
func (r *Runner) runActions(ctx context.Context, state *run) (string, error) {
	for i, spec := range state.job.Config.Actions {
		action, err := spec.ToAction()
		if err != nil {
			step := models.TraceStep{Action: string(spec.Type), Timestamp: r.now().UTC(), Error: err.Error()}
			r.appendStep(ctx, state, i, spec.Type, step, false)
			return "", fmt.Errorf("action %d: %w", i+1, err)
		}

		stepStart := r.now()
		outcome, err := r.executor.Execute(ctx, state.session, state.job.ID, action)
		elapsed := r.now().Sub(stepStart)
		recordAction(action.Type(), err == nil, elapsed)

		step := models.TraceStep{
			Action:    action.Describe(),
			Timestamp: stepStart.UTC(),
			Duration:  elapsed.Milliseconds(),
			Success:   err == nil,
		}

		if err != nil {
			state.logger.Warn().
				Err(err).
				Int("step", i+1).
				Msg("Browser action failed")

			diagnostic := r.diagnostic(ctx, state)
			step.Error = err.Error()
			step.Screenshot = diagnostic
			r.appendStep(ctx, state, i, action.Type(), step, false)
			return diagnostic, err
		}

		if outcome.Timing != nil {
			state.statistics.DOMContentLoaded = outcome.Timing.DOMContentLoaded.Milliseconds()
			state.statistics.LoadTime = outcome.Timing.Load.Milliseconds()
		}
		if outcome.Screenshot != "" {
			step.Screenshot = outcome.Screenshot
			state.statistics.Screenshots = append(state.statistics.Screenshots, outcome.Screenshot)
		}

		r.appendStep(ctx, state, i, action.Type(), step, true)
	}
	return "", nil
}

func (r *Runner) appendStep(ctx context.Context, state *run, index int, actionType models.ActionType, step models.TraceStep, capture bool) {
	state.trace.Steps = append(state.trace.Steps, step)
	if capture && state.recorder != nil {
		state.recorder.record(ctx, state.session, actionType, step)
	}
	if r.events != nil {
		event := interfaces.Event{
			Type:    interfaces.EventJobStep,
			Payload: models.JobStepEvent{JobID: state.job.ID, Index: index, Step: step},
		}
		if err := r.events.PublishSync(ctx, event); err != nil {
			state.logger.Debug().Err(err).Msg("Failed to publish step event")
		}
	}
}

// diagnostic captures the page after a failure. Errors are only logged.
func (r *Runner) diagnostic(ctx context.Context, state *run) string {
	path, err := r.executor.screenshot(ctx, state.session, state.job.ID, true)
	if err != nil {
		state.logger.Debug().Err(err).Msg("Diagnostic screenshot unavailable")
		return ""
	}
	return path
}

func (r *Runner) persistTrace(ctx context.Context, state *run) error {
	bundle, err := state.recorder.bundle()
	if err != nil {
		return err
	}
	if err := r.artifacts.PutArtifact(ctx, models.TraceKey(state.job.ID), bundle); err != nil {
		return fmt.Errorf("store trace bundle: %w", err)
	}

	state.trace.TraceFile = models.TracePath(state.job.ID)
	state.trace.TraceViewerURL = r.traceViewerURL(state.job.ID)

	state.logger.Debug().
		Int("bytes", len(bundle)).
		Int("steps", len(state.trace.Steps)).
		Msg("Trace bundle stored")
	return nil
}

func (r *Runner) traceViewerURL(jobID string) string {
	if r.config.TraceViewerURL == "" {
		return ""
	}
	traceURL := strings.TrimRight(r.config.PublicURL, "/") + models.TracePath(jobID)
	return r.config.TraceViewerURL + url.QueryEscape(traceURL)
}

func (r *Runner) actionTimeout(job *models.Job) time.Duration {
	if opts := job.Config.Options; opts != nil && opts.Timeout != nil {
		return time.Duration(*opts.Timeout) * time.Millisecond
	}
	return r.config.DefaultTimeout
}

func (r *Runner) result(started time.Time, state *run, runErr error, diagnostic string) *models.JobResult {
	state.statistics.NetworkRequests, state.statistics.TotalSize = state.stats.Totals()

	finished := r.now()
	result := &models.JobResult{
		Status:     models.ResultSuccess,
		Duration:   finished.Sub(started).Milliseconds(),
		Timestamp:  finished.UTC(),
		Statistics: state.statistics,
		Trace:      state.trace,
	}

	if runErr != nil {
		result.Status = models.ResultFail
		result.Error = &models.JobError{
			Message:    runErr.Error(),
			Stack:      errorChain(runErr),
			Screenshot: diagnostic,
		}
		state.logger.Info().
			Int64("duration_ms", result.Duration).
			Int("steps", len(state.trace.Steps)).
			Msg("Browser job failed")
		return result
	}

	state.logger.Info().
		Int64("duration_ms", result.Duration).
		Int("steps", len(state.trace.Steps)).
		Int("requests", state.statistics.NetworkRequests).
		Msg("Browser job completed")
	return result
}

// errorChain lists every wrapped layer of err, outermost first
func errorChain(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(lines, "\n")
}
