package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
	"github.com/ternarybob/ghostrun/internal/services/browser/browsertest"
	"github.com/ternarybob/ghostrun/internal/services/events"
	"github.com/ternarybob/ghostrun/internal/services/validation"
)

type serviceHarness struct {
	storage interfaces.StorageManager
	driver  *browsertest.Driver
	events  *events.Service
	service *Service
}

func newServiceHarness(t *testing.T, runner JobRunner, config ServiceConfig, start bool) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		storage: newTestStorage(t),
		driver:  browsertest.NewDriver(),
		events:  events.NewService(arbor.NewLogger()),
	}
	if runner == nil {
		runner = newTestRunner(t, h.storage, h.driver)
	}
	h.service = NewService(h.storage.JobStorage(), h.storage.ArtifactStorage(), validation.NewJobValidationService(), runner, h.events, config, arbor.NewLogger())

	if start {
		require.NoError(t, h.service.Start(context.Background()))
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h.service.Stop(ctx)
		})
	}
	return h
}

func (h *serviceHarness) waitTerminal(t *testing.T, id string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		got, err := h.service.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func gotoConfig(extra ...models.ActionSpec) *models.JobConfig {
	return &models.JobConfig{
		DeviceType:  models.DeviceDesktop,
		BrowserType: models.BrowserChromium,
		Actions:     append([]models.ActionSpec{{Type: models.ActionGoto, URL: "https://example.com"}}, extra...),
	}
}

type panickingRunner struct{}

func (panickingRunner) Run(ctx context.Context, job *models.Job) *models.JobResult {
	panic("browser exploded")
}

type nilRunner struct{}

func (nilRunner) Run(ctx context.Context, job *models.Job) *models.JobResult {
	return nil
}

func TestService_SubmitAndPoll(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 2, QueueSize: 10}, true)

	var mu sync.Mutex
	var statuses []models.JobStatus
	h.events.Subscribe(interfaces.EventJobStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, event.Payload.(models.JobEvent).Status)
		return nil
	})

	job, err := h.service.Submit(context.Background(), gotoConfig(models.ActionSpec{Type: models.ActionScreenshot}))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.CompletedAt)

	done := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, models.ResultSuccess, done.Result.Status)
	assert.Equal(t, "https://example.com/", done.Result.Statistics.FinalURL)
	assert.Len(t, done.Result.Statistics.Screenshots, 1)
	assert.Len(t, done.Result.Trace.Steps, 2)

	// The terminal event is published right after the record is written
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 3
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []models.JobStatus{models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted}, statuses)
	mu.Unlock()

	// Terminal records read back identically
	first, err := h.service.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	second, err := h.service.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, a, b)
}

func TestService_FailingJob(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)

	job, err := h.service.Submit(context.Background(), &models.JobConfig{
		DeviceType:  models.DeviceDesktop,
		BrowserType: models.BrowserChromium,
		Actions:     []models.ActionSpec{{Type: models.ActionClick, Selector: "#does-not-exist", Timeout: intPtr(500)}},
	})
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Result.Error)
	assert.NotEmpty(t, done.Result.Error.Message)
	require.Len(t, done.Result.Trace.Steps, 1)
	assert.False(t, done.Result.Trace.Steps[0].Success)
}

func TestService_GenerateTrace(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)

	config := gotoConfig()
	config.Options = &models.JobOptions{GenerateTrace: true}
	job, err := h.service.Submit(context.Background(), config)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	assert.NotEmpty(t, done.Result.Trace.TraceFile)
	assert.NotEmpty(t, done.Result.Trace.TraceViewerURL)

	bundle, err := h.service.GetTrace(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle)
}

func TestService_SubmitRejectsInvalidConfig(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)

	_, err := h.service.Submit(context.Background(), &models.JobConfig{
		DeviceType:  models.DeviceDesktop,
		BrowserType: models.BrowserChromium,
	})
	var validationErr *validation.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.NotEmpty(t, validationErr.Details)
	assert.Equal(t, "actions", validationErr.Details[0].Field)

	jobs, err := h.service.ListJobs(context.Background(), interfaces.JobListOptions{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestService_DeleteRemovesRecordAndArtifacts(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)
	ctx := context.Background()

	config := gotoConfig(models.ActionSpec{Type: models.ActionScreenshot}, models.ActionSpec{Type: models.ActionScreenshot})
	config.Options = &models.JobOptions{GenerateTrace: true}
	job, err := h.service.Submit(ctx, config)
	require.NoError(t, err)
	done := h.waitTerminal(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	keys, err := h.storage.ArtifactStorage().ListArtifactKeys(ctx, models.ScreenshotPrefix(job.ID))
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, h.service.DeleteJob(ctx, job.ID))

	_, err = h.service.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
	_, err = h.service.GetTrace(ctx, job.ID)
	assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
	keys, err = h.storage.ArtifactStorage().ListArtifactKeys(ctx, models.ScreenshotPrefix(job.ID))
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, h.service.DeleteJob(ctx, job.ID), interfaces.ErrJobNotFound)
	assert.ErrorIs(t, h.service.DeleteJob(ctx, "not-a-uuid"), ErrInvalidJobID)

	// Finished jobs are deleted without a tombstone
	h.service.mu.Lock()
	assert.Empty(t, h.service.deleted)
	h.service.mu.Unlock()
}

type unlistableArtifacts struct {
	interfaces.ArtifactStorage
}

func (unlistableArtifacts) ListArtifactKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, errors.New("listing unavailable")
}

func TestService_DeleteUsesResultScreenshotsWhenListingFails(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)
	ctx := context.Background()

	job, err := h.service.Submit(ctx, gotoConfig(models.ActionSpec{Type: models.ActionScreenshot}))
	require.NoError(t, err)
	done := h.waitTerminal(t, job.ID)
	require.Len(t, done.Result.Statistics.Screenshots, 1)

	h.service.artifacts = unlistableArtifacts{h.storage.ArtifactStorage()}
	require.NoError(t, h.service.DeleteJob(ctx, job.ID))

	keys, err := h.storage.ArtifactStorage().ListArtifactKeys(ctx, models.ScreenshotPrefix(job.ID))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestService_MissingArtifacts(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)
	ctx := context.Background()

	job, err := h.service.Submit(ctx, gotoConfig())
	require.NoError(t, err)
	h.waitTerminal(t, job.ID)

	_, err = h.service.GetTrace(ctx, job.ID)
	assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
	_, err = h.service.GetScreenshot(ctx, job.ID, "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
}

func TestService_DeleteWhileRunning(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, false)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.driver.BeforeAction = func(ctx context.Context, call string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	require.NoError(t, h.service.Start(ctx))
	t.Cleanup(func() { h.service.Stop(context.Background()) })

	job, err := h.service.Submit(ctx, gotoConfig())
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, h.service.DeleteJob(ctx, job.ID))
	close(release)

	// The terminal write is dropped once the job has been deleted
	require.Eventually(t, func() bool {
		return len(h.driver.Sessions()) == 1 && h.driver.Sessions()[0].CloseCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		h.service.mu.Lock()
		defer h.service.mu.Unlock()
		return len(h.service.deleted) == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.service.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestForcedFailureReportsZeroDuration(t *testing.T) {
	h := newServiceHarness(t, panickingRunner{}, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)

	job, err := h.service.Submit(context.Background(), gotoConfig())
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, models.ResultFail, done.Result.Status)
	assert.Equal(t, int64(0), done.Result.Duration)
	require.NotNil(t, done.Result.Error)
	assert.Contains(t, done.Result.Error.Message, "browser exploded")
	assert.NotNil(t, done.CompletedAt)
}

func TestService_NilResultIsForcedFailure(t *testing.T) {
	h := newServiceHarness(t, nilRunner{}, ServiceConfig{Concurrency: 1, QueueSize: 10}, true)

	job, err := h.service.Submit(context.Background(), gotoConfig())
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Contains(t, done.Result.Error.Message, "no result")
}

func TestService_QueueFull(t *testing.T) {
	// Workers are never started so the buffer fills up
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 1}, false)
	ctx := context.Background()

	first, err := h.service.Submit(ctx, gotoConfig())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, first.Status)

	second, err := h.service.Submit(ctx, gotoConfig())
	require.ErrorIs(t, err, ErrQueueFull)
	require.NotNil(t, second)

	stored, err := h.service.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, ErrQueueFull.Error(), stored.Result.Error.Message)
}

func TestService_RecoverInterrupted(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, false)
	ctx := context.Background()
	jobs := h.storage.JobStorage()

	pending := models.NewJob("11111111-1111-4111-8111-111111111111", *gotoConfig(), time.Now())
	running := models.NewJob("22222222-2222-4222-8222-222222222222", *gotoConfig(), time.Now()).Running()
	completed := models.NewJob("33333333-3333-4333-8333-333333333333", *gotoConfig(), time.Now()).Running().
		Finished(&models.JobResult{Status: models.ResultSuccess}, time.Now())
	for _, job := range []*models.Job{pending, running, completed} {
		require.NoError(t, jobs.SaveJob(ctx, job))
	}

	recovered, err := h.service.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	for _, id := range []string{pending.ID, running.ID} {
		job, err := jobs.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Equal(t, interruptedMessage, job.Result.Error.Message)
	}

	job, err := jobs.GetJob(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestService_StatusEventsAreMonotonic(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 4, QueueSize: 20}, true)

	var mu sync.Mutex
	seen := map[string][]models.JobStatus{}
	h.events.Subscribe(interfaces.EventJobStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		payload := event.Payload.(models.JobEvent)
		mu.Lock()
		defer mu.Unlock()
		seen[payload.JobID] = append(seen[payload.JobID], payload.Status)
		return nil
	})

	var ids []string
	for i := 0; i < 8; i++ {
		job, err := h.service.Submit(context.Background(), gotoConfig())
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		h.waitTerminal(t, id)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range ids {
			statuses := seen[id]
			if len(statuses) == 0 || !statuses[len(statuses)-1].IsTerminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		statuses := seen[id]
		require.NotEmpty(t, statuses)
		for i := 1; i < len(statuses); i++ {
			assert.True(t, statuses[i-1].CanTransitionTo(statuses[i]), "%s: %v", id, statuses)
		}
		assert.True(t, statuses[len(statuses)-1].IsTerminal())
	}
}

func TestService_StopRefusesNewWork(t *testing.T) {
	h := newServiceHarness(t, nil, ServiceConfig{Concurrency: 1, QueueSize: 10}, false)
	require.NoError(t, h.service.Start(context.Background()))
	require.NoError(t, h.service.Stop(context.Background()))

	job, err := h.service.Submit(context.Background(), gotoConfig())
	assert.True(t, errors.Is(err, ErrDispatcherStopped))
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

var errTransientStorage = errors.New("transient storage error")

// flakyJobStorage fails a set number of reads or running writes and records every saved status
type flakyJobStorage struct {
	interfaces.JobStorage

	mu          sync.Mutex
	getFailures int
	runFailures int
	onGet       func(id string)
	saved       []models.JobStatus
}

func (f *flakyJobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	if f.getFailures > 0 {
		f.getFailures--
		f.mu.Unlock()
		return nil, errTransientStorage
	}
	hook := f.onGet
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return f.JobStorage.GetJob(ctx, id)
}

func (f *flakyJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	f.mu.Lock()
	if job.Status == models.JobStatusRunning && f.runFailures > 0 {
		f.runFailures--
		f.mu.Unlock()
		return errTransientStorage
	}
	f.saved = append(f.saved, job.Status)
	f.mu.Unlock()
	return f.JobStorage.SaveJob(ctx, job)
}

func (f *flakyJobStorage) savedStatuses() []models.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.JobStatus(nil), f.saved...)
}

// newFlakyHarness starts a service whose job records go through a flakyJobStorage
func newFlakyHarness(t *testing.T, flaky *flakyJobStorage) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		storage: newTestStorage(t),
		driver:  browsertest.NewDriver(),
		events:  events.NewService(arbor.NewLogger()),
	}
	flaky.JobStorage = h.storage.JobStorage()
	h.service = NewService(flaky, h.storage.ArtifactStorage(), validation.NewJobValidationService(), newTestRunner(t, h.storage, h.driver), h.events, ServiceConfig{Concurrency: 1, QueueSize: 10}, arbor.NewLogger())

	require.NoError(t, h.service.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.service.Stop(ctx)
	})
	return h
}

// storedTerminal polls the underlying store so the flaky reads are left to the worker
func (h *serviceHarness) storedTerminal(t *testing.T, id string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		got, err := h.storage.JobStorage().GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestService_WorkerReadFailureFailsJob(t *testing.T) {
	flaky := &flakyJobStorage{getFailures: 1}
	h := newFlakyHarness(t, flaky)

	job, err := h.service.Submit(context.Background(), gotoConfig())
	require.NoError(t, err)

	done := h.storedTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, models.ResultFail, done.Result.Status)
	assert.Equal(t, int64(0), done.Result.Duration)
	require.NotNil(t, done.Result.Error)
	assert.Contains(t, done.Result.Error.Message, "load job")
	assert.Contains(t, done.Result.Error.Message, errTransientStorage.Error())
	assert.NotNil(t, done.CompletedAt)

	assert.Equal(t, []models.JobStatus{models.JobStatusPending, models.JobStatusFailed}, flaky.savedStatuses())
	assert.Empty(t, h.driver.Sessions())
}

func TestService_RunningWriteFailureFailsJob(t *testing.T) {
	flaky := &flakyJobStorage{runFailures: 1}
	h := newFlakyHarness(t, flaky)

	job, err := h.service.Submit(context.Background(), gotoConfig())
	require.NoError(t, err)

	done := h.storedTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, int64(0), done.Result.Duration)
	require.NotNil(t, done.Result.Error)
	assert.Contains(t, done.Result.Error.Message, "mark job running")

	// The browser is never launched and exactly one terminal record is written
	assert.Empty(t, h.driver.Sessions())
	assert.Equal(t, []models.JobStatus{models.JobStatusPending, models.JobStatusFailed}, flaky.savedStatuses())
}

func TestService_DeleteRacingCompletionLeavesNoTombstone(t *testing.T) {
	flaky := &flakyJobStorage{}
	h := newFlakyHarness(t, flaky)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.driver.BeforeAction = func(ctx context.Context, call string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	job, err := h.service.Submit(ctx, gotoConfig())
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	// Let the run finish while the delete is still reading the record
	var released sync.Once
	flaky.mu.Lock()
	flaky.onGet = func(id string) {
		released.Do(func() { close(release) })
		time.Sleep(100 * time.Millisecond)
	}
	flaky.mu.Unlock()

	require.NoError(t, h.service.DeleteJob(ctx, job.ID))

	require.Eventually(t, func() bool {
		return len(h.driver.Sessions()) == 1 && h.driver.Sessions()[0].CloseCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		h.service.mu.Lock()
		defer h.service.mu.Unlock()
		return len(h.service.deleted) == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.storage.JobStorage().GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}
