package handlers

import (
	"context"

	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

// JobService is the controller surface the job endpoints depend on
type JobService interface {
	Submit(ctx context.Context, config *models.JobConfig) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	GetTrace(ctx context.Context, jobID string) ([]byte, error)
	GetScreenshot(ctx context.Context, jobID, shotID string) ([]byte, error)
}
