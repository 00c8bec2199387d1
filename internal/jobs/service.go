package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidJobID is returned for ids that are not UUIDs
var ErrInvalidJobID = errors.New("invalid job id")

const interruptedMessage = "interrupted by service restart"

// JobRunner turns a running job into its terminal result
type JobRunner interface {
	Run(ctx context.Context, job *models.Job) *models.JobResult
}

// Validator checks a submitted config before a job is created
type Validator interface {
	Validate(config *models.JobConfig) error
}

// ServiceConfig sizes the work queue
type ServiceConfig struct {
	Concurrency int
	QueueSize   int
}

// Service is the job controller. It owns every write to a job record after submission.
type Service struct {
	jobs       interfaces.JobStorage
	artifacts  interfaces.ArtifactStorage
	validator  Validator
	runner     JobRunner
	events     interfaces.EventService // Optional
	dispatcher *Dispatcher
	logger     arbor.ILogger
	now        func() time.Time

	// deleted holds ids removed while not yet terminal; later writes for them are dropped
	mu      sync.Mutex
	deleted map[string]struct{}
}

// NewService creates the controller and its dispatcher. Call Start before submitting.
func NewService(jobs interfaces.JobStorage, artifacts interfaces.ArtifactStorage, validator Validator, runner JobRunner, events interfaces.EventService, config ServiceConfig, logger arbor.ILogger) *Service {
	s := &Service{
		jobs:      jobs,
		artifacts: artifacts,
		validator: validator,
		runner:    runner,
		events:    events,
		logger:    logger,
		now:       time.Now,
		deleted:   map[string]struct{}{},
	}
	s.dispatcher = NewDispatcher(config.Concurrency, config.QueueSize, s.execute, logger)
	return s
}

// Start fails jobs left unfinished by a previous process, then starts the workers
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.RecoverInterrupted(ctx); err != nil {
		return err
	}
	s.dispatcher.Start()
	return nil
}

// Stop waits for running jobs until ctx ends
func (s *Service) Stop(ctx context.Context) error {
	return s.dispatcher.Stop(ctx)
}

// Submit validates config, persists a pending job and queues it.
// Validation problems are returned as *validation.ValidationError.
func (s *Service) Submit(ctx context.Context, config *models.JobConfig) (*models.Job, error) {
	if err := s.validator.Validate(config); err != nil {
		return nil, err
	}

	job := models.NewJob(common.NewJobID(), *config, s.now())
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.publishStatus(ctx, job)
	recordSubmitted()

	logger := s.logger.WithCorrelationId(job.ID)

	if err := s.dispatcher.Enqueue(job); err != nil {
		logger.Warn().Err(err).Msg("Job could not be queued")

		failed := job.Finished(&models.JobResult{
			Status:    models.ResultFail,
			Timestamp: s.now().UTC(),
			Error:     &models.JobError{Message: err.Error()},
		}, s.now())
		if saveErr := s.save(ctx, failed); saveErr != nil {
			logger.Error().Err(saveErr).Msg("Failed to record refused job")
		}
		return failed, err
	}

	logger.Info().
		Str("browser", string(config.BrowserType)).
		Int("actions", len(config.Actions)).
		Msg("Job submitted")

	return job, nil
}

// GetJob returns interfaces.ErrJobNotFound for unknown or expired ids
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// ListJobs returns live jobs newest first
func (s *Service) ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, error) {
	return s.jobs.ListJobs(ctx, opts)
}

// DeleteJob removes the record, the trace and every screenshot of the job.
// Artifact removal is best effort.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if !common.IsValidUUID(id) {
		return ErrInvalidJobID
	}

	// Status writes happen under mu, so a job read here cannot finish before the tombstone lands
	s.mu.Lock()
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !job.Status.IsTerminal() {
		s.deleted[id] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}

	s.deleteArtifacts(ctx, job)

	s.logger.WithCorrelationId(id).Info().
		Str("status", string(job.Status)).
		Msg("Job deleted")
	return nil
}

// deleteArtifacts removes stored screenshots plus any the result still references
func (s *Service) deleteArtifacts(ctx context.Context, job *models.Job) {
	logger := s.logger.WithCorrelationId(job.ID)

	listed, err := s.artifacts.ListArtifactKeys(ctx, models.ScreenshotPrefix(job.ID))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list screenshots for deletion")
	}

	seen := map[string]struct{}{}
	var keys []string
	add := func(key string) {
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for _, key := range listed {
		add(key)
	}
	for _, path := range referencedScreenshots(job.Result) {
		if key, ok := models.ScreenshotKeyFromPath(path); ok {
			add(key)
		}
	}
	add(models.TraceKey(job.ID))

	var g errgroup.Group
	g.SetLimit(8)
	for _, key := range keys {
		g.Go(func() error {
			if err := s.artifacts.DeleteArtifact(ctx, key); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Failed to delete artifact")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("Some artifacts were not deleted")
	}
}

func referencedScreenshots(result *models.JobResult) []string {
	if result == nil {
		return nil
	}
	var paths []string
	if result.Statistics != nil {
		paths = append(paths, result.Statistics.Screenshots...)
	}
	if result.Error != nil && result.Error.Screenshot != "" {
		paths = append(paths, result.Error.Screenshot)
	}
	return paths
}

// GetTrace returns the trace bundle or interfaces.ErrArtifactNotFound
func (s *Service) GetTrace(ctx context.Context, jobID string) ([]byte, error) {
	return s.artifacts.GetArtifact(ctx, models.TraceKey(jobID))
}

// GetScreenshot returns the PNG or interfaces.ErrArtifactNotFound
func (s *Service) GetScreenshot(ctx context.Context, jobID, shotID string) ([]byte, error) {
	return s.artifacts.GetArtifact(ctx, models.ScreenshotKey(jobID, shotID))
}

// RecoverInterrupted fails every job left pending or running and returns how many were changed
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	unfinished, err := s.jobs.GetUnfinishedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load unfinished jobs: %w", err)
	}

	recovered := 0
	for _, job := range unfinished {
		failed := job.Finished(&models.JobResult{
			Status:    models.ResultFail,
			Timestamp: s.now().UTC(),
			Error:     &models.JobError{Message: interruptedMessage},
		}, s.now())
		if err := s.save(ctx, failed); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to recover interrupted job")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Warn().
			Int("count", recovered).
			Msg("Marked interrupted jobs as failed")
	}
	return recovered, nil
}

// execute is the dispatcher handler. It writes running, then exactly one terminal record.
// queued is the submission snapshot, used when the stored record cannot be read.
func (s *Service) execute(ctx context.Context, queued *models.Job) {
	defer s.forget(queued.ID)
	logger := s.logger.WithCorrelationId(queued.ID)

	job, err := s.jobs.GetJob(ctx, queued.ID)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		logger.Warn().Msg("Queued job no longer exists")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load queued job")
		s.abort(ctx, queued, fmt.Errorf("load job: %w", err))
		return
	}
	if !job.Status.CanTransitionTo(models.JobStatusRunning) {
		logger.Warn().Str("status", string(job.Status)).Msg("Queued job is not pending")
		return
	}

	running := job.Running()
	if err := s.save(ctx, running); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job running")
		s.abort(ctx, job, fmt.Errorf("mark job running: %w", err))
		return
	}

	recordStarted()
	started := s.now()

	result, err := s.run(ctx, running)
	if err != nil {
		logger.Error().Err(err).Msg("Job runner failed")
		result = forcedFailure(err, s.now())
	}

	finished := running.Finished(result, s.now())
	if err := s.save(ctx, finished); err != nil {
		logger.Error().Err(err).Msg("Failed to record job result")
	}
	recordFinished(finished.Status, s.now().Sub(started))
}

// abort fails a job that never started running
func (s *Service) abort(ctx context.Context, job *models.Job, cause error) {
	failed := job.Finished(forcedFailure(cause, s.now()), s.now())
	if err := s.save(ctx, failed); err != nil {
		s.logger.WithCorrelationId(job.ID).Error().
			Err(err).
			Str("cause", cause.Error()).
			Msg("Failed to record aborted job")
		return
	}
	recordAborted()
}

// run invokes the runner and converts a panic or missing result into an error
func (s *Service) run(ctx context.Context, job *models.Job) (result *models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithCorrelationId(job.ID).Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in job runner")
			result, err = nil, fmt.Errorf("job runner panic: %v", r)
		}
	}()

	result = s.runner.Run(ctx, job)
	if result == nil {
		return nil, errors.New("job runner returned no result")
	}
	return result, nil
}

// forcedFailure is the result written when the runner itself failed. Duration stays zero.
func forcedFailure(err error, now time.Time) *models.JobResult {
	return &models.JobResult{
		Status:    models.ResultFail,
		Timestamp: now.UTC(),
		Error: &models.JobError{
			Message: err.Error(),
			Stack:   errorChain(err),
		},
	}
}

// save persists job unless it was deleted, then announces the new status
func (s *Service) save(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	if _, gone := s.deleted[job.ID]; gone {
		s.mu.Unlock()
		return nil
	}
	err := s.jobs.SaveJob(ctx, job)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.publishStatus(ctx, job)
	return nil
}

func (s *Service) forget(jobID string) {
	s.mu.Lock()
	delete(s.deleted, jobID)
	s.mu.Unlock()
}

func (s *Service) publishStatus(ctx context.Context, job *models.Job) {
	if s.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventJobStatusChanged,
		Payload: models.JobEvent{
			JobID:     job.ID,
			Status:    job.Status,
			Timestamp: s.now().UTC(),
			Result:    job.Result,
		},
	}
	if err := s.events.PublishSync(ctx, event); err != nil {
		s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Status event not delivered")
	}
}
