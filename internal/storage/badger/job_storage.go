package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// jobRecord wraps the public job with the fields badgerhold queries on.
// ExpiresAt never leaves the storage layer.
type jobRecord struct {
	ID        string
	Status    models.JobStatus `badgerhold:"index"`
	CreatedAt time.Time
	ExpiresAt time.Time
	Job       *models.Job
}

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	record := &jobRecord{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		ExpiresAt: job.CreatedAt.Add(s.db.Retention()),
		Job:       job,
	}

	if err := s.db.Store().Upsert(job.ID, record); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var record jobRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if record.Job == nil || !s.now().Before(record.ExpiresAt) {
		return nil, interfaces.ErrJobNotFound
	}
	return record.Job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ExpiresAt").Gt(s.now())
	if opts.Status != "" {
		query = query.And("Status").Eq(opts.Status)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var records []jobRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return unwrapRecords(records), nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, jobRecord{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrJobNotFound
		}
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

func (s *JobStorage) GetUnfinishedJobs(ctx context.Context) ([]*models.Job, error) {
	var records []jobRecord
	query := badgerhold.Where("Status").In(models.JobStatusPending, models.JobStatusRunning).SortBy("CreatedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to find unfinished jobs: %w", err)
	}
	return unwrapRecords(records), nil
}

func (s *JobStorage) DeleteExpiredJobs(ctx context.Context) (int, error) {
	query := badgerhold.Where("ExpiresAt").Le(s.now())

	count, err := s.db.Store().Count(jobRecord{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired jobs: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(jobRecord{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}

	s.logger.Debug().Int("count", int(count)).Msg("Deleted expired job records")
	return int(count), nil
}

func unwrapRecords(records []jobRecord) []*models.Job {
	jobs := make([]*models.Job, 0, len(records))
	for i := range records {
		if records[i].Job != nil {
			jobs = append(jobs, records[i].Job)
		}
	}
	return jobs
}

var _ interfaces.JobStorage = (*JobStorage)(nil)
