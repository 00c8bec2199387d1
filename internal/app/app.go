// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 10:40:12 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/handlers"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/jobs"
	"github.com/ternarybob/ghostrun/internal/services/browser"
	"github.com/ternarybob/ghostrun/internal/services/events"
	"github.com/ternarybob/ghostrun/internal/services/validation"
	"github.com/ternarybob/ghostrun/internal/storage"
)

// shutdownTimeout bounds how long Close waits for running jobs
const shutdownTimeout = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Job execution
	BrowserDriver interfaces.BrowserDriver
	JobService    *jobs.Service
	Janitor       *jobs.Janitor

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	JobHandler       *handlers.JobHandler
	JobEventsHandler *handlers.JobEventsHandler
}

// New initializes the application with all dependencies.
// The browser driver is built from config unless driver is non-nil.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	return NewWithDriver(cfg, logger, nil)
}

// NewWithDriver is New with an injectable browser driver
func NewWithDriver(cfg *common.Config, logger arbor.ILogger, driver interfaces.BrowserDriver) (*App, error) {
	app := &App{
		Config:        cfg,
		Logger:        logger,
		BrowserDriver: driver,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("concurrency", cfg.Jobs.Concurrency).
		Int("queue_size", cfg.Jobs.QueueSize).
		Str("retention", cfg.RetentionDuration().String()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the job pipeline: driver -> executor -> runner -> service
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	if a.BrowserDriver == nil {
		a.BrowserDriver = browser.NewDriver(a.Config.Browser, a.Logger)
	}

	artifacts := a.StorageManager.ArtifactStorage()
	executor := jobs.NewExecutor(artifacts, a.Logger)

	runner := jobs.NewRunner(
		a.BrowserDriver,
		executor,
		artifacts,
		a.EventService,
		jobs.RunnerConfig{
			DefaultTimeout: a.Config.ActionTimeout(),
			PublicURL:      a.publicURL(),
			TraceViewerURL: a.Config.Jobs.TraceViewerURL,
		},
		a.Logger,
	)

	a.JobService = jobs.NewService(
		a.StorageManager.JobStorage(),
		artifacts,
		validation.NewJobValidationService(),
		runner,
		a.EventService,
		jobs.ServiceConfig{
			Concurrency: a.Config.Jobs.Concurrency,
			QueueSize:   a.Config.Jobs.QueueSize,
		},
		a.Logger,
	)

	a.Janitor = jobs.NewJanitor(a.StorageManager, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Config.API, a.Logger)
	a.JobEventsHandler = handlers.NewJobEventsHandler(a.JobService, a.EventService, a.Logger)
}

// publicURL returns the configured public base URL or one derived from the listen address
func (a *App) publicURL() string {
	if a.Config.Server.PublicURL != "" {
		return strings.TrimRight(a.Config.Server.PublicURL, "/")
	}
	host := a.Config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, a.Config.Server.Port)
}

// Start recovers interrupted jobs, starts the workers and schedules cleanup
func (a *App) Start(ctx context.Context) error {
	if err := a.JobService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job service: %w", err)
	}

	if err := a.Janitor.Start(a.Config.Jobs.CleanupSchedule); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	// Sweep records left past their expiry while the service was down
	a.Janitor.RunNow(ctx)

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.JobService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.JobService.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Running jobs did not finish before shutdown deadline")
		} else {
			a.Logger.Info().Msg("Job service stopped")
		}
		cancel()
	}

	if a.Janitor != nil {
		a.Janitor.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
