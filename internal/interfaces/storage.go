// -----------------------------------------------------------------------
// Last Modified: Tuesday, 13th October 2026 4:41:10 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/ghostrun/internal/models"
)

// ErrJobNotFound is returned when a job record does not exist or has expired
var ErrJobNotFound = errors.New("job not found")

// JobListOptions filters ListJobs
type JobListOptions struct {
	Status models.JobStatus // Empty matches every status
	Limit  int              // <= 0 means no limit
}

// JobStorage persists whole job snapshots. Every save overwrites the previous record.
type JobStorage interface {
	// SaveJob writes the job record with the configured expiry
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob returns ErrJobNotFound for missing or expired records
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// ListJobs returns jobs newest first
	ListJobs(ctx context.Context, opts JobListOptions) ([]*models.Job, error)

	// DeleteJob returns ErrJobNotFound if the record does not exist
	DeleteJob(ctx context.Context, id string) error

	// GetUnfinishedJobs returns jobs still pending or running
	GetUnfinishedJobs(ctx context.Context) ([]*models.Job, error)

	// DeleteExpiredJobs removes records past their expiry and returns how many were removed
	DeleteExpiredJobs(ctx context.Context) (int, error)
}

// StorageManager owns the database and the stores built on it
type StorageManager interface {
	JobStorage() JobStorage
	ArtifactStorage() ArtifactStorage
	RunValueLogGC() error
	Close() error
}
