package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
)

const defaultCleanupSchedule = "0 */15 * * * *"

// Janitor periodically removes expired job records and compacts the value log.
// Artifact blobs expire on their own.
type Janitor struct {
	storage interfaces.StorageManager
	cron    *cron.Cron
	logger  arbor.ILogger
}

// NewJanitor creates a janitor for storage
func NewJanitor(storage interfaces.StorageManager, logger arbor.ILogger) *Janitor {
	return &Janitor{
		storage: storage,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}
}

// Start schedules cleanup using a six-field cron expression
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultCleanupSchedule
	}

	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		j.RunNow(ctx)
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info().
		Str("schedule", schedule).
		Msg("Expired job janitor started")

	return nil
}

// Stop stops the schedule and waits for a running cleanup
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info().Msg("Expired job janitor stopped")
}

// RunNow performs one cleanup pass and returns the number of records removed
func (j *Janitor) RunNow(ctx context.Context) int {
	removed, err := j.storage.JobStorage().DeleteExpiredJobs(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("Failed to delete expired jobs")
		return 0
	}

	if err := j.storage.RunValueLogGC(); err != nil {
		j.logger.Warn().Err(err).Msg("Value log GC failed")
	}

	if removed > 0 {
		j.logger.Info().
			Int("removed", removed).
			Msg("Expired jobs removed")
	}
	return removed
}
