// -----------------------------------------------------------------------
// Storage interfaces - implemented by internal/storage/badger
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/subfetch/subfetch/internal/models"
)

// JobStorage is the durable job store (C1). Update operations enforce the
// state-machine preconditions and fail without modifying the row when the
// precondition no longer holds.
type JobStorage interface {
	// InsertJob persists a new PENDING job.
	InsertJob(ctx context.Context, job *models.Job) error

	// GetJob returns the job or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// SetJobTaskHandle records the broker task handle on a PENDING job so
	// CancelJob can revoke the queued delivery.
	SetJobTaskHandle(ctx context.Context, id, taskHandle string) error

	// UpdateJobStartDetails moves PENDING -> RUNNING, recording the broker
	// task handle and start time. Fails if the job is not PENDING.
	UpdateJobStartDetails(ctx context.Context, id, taskHandle string, startedAt time.Time) error

	// UpdateJobCancelRequested moves PENDING|RUNNING -> CANCELLING.
	UpdateJobCancelRequested(ctx context.Context, id string) error

	// UpdateJobCompletionDetails writes the terminal state exactly once.
	// Fails without modifying the row if the job is already terminal.
	UpdateJobCompletionDetails(ctx context.Context, id string, status models.JobStatus, exitCode int, completedAt time.Time, resultMessage, logSnippet string) error

	// ListJobsForOwner returns the owner's jobs, newest first.
	ListJobsForOwner(ctx context.Context, ownerID string, offset, limit int) ([]*models.Job, error)

	// ListJobs returns all jobs, newest first.
	ListJobs(ctx context.Context, offset, limit int) ([]*models.Job, error)

	// CountJobsByStatus returns per-status counts for the stats endpoint.
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// UserStorage resolves principals for authorization.
type UserStorage interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error)
}

// PathStorage holds the job-folder allow-list.
type PathStorage interface {
	AddPath(ctx context.Context, path *models.StoragePath) error
	ListPaths(ctx context.Context) ([]*models.StoragePath, error)
	RemovePath(ctx context.Context, path string) error
}

// KeyValueStorage carries dynamic configuration overrides. Values found here
// take precedence over file and environment values at startup.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// StorageManager owns the database connection and hands out typed storages.
type StorageManager interface {
	JobStorage() JobStorage
	UserStorage() UserStorage
	PathStorage() PathStorage
	KVStorage() KeyValueStorage
	Close() error
}
