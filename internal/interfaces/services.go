package interfaces

import (
	"context"

	"github.com/subfetch/subfetch/internal/models"
)

// JobService is the dispatcher surface exposed to HTTP handlers (C6).
type JobService interface {
	CreateJob(ctx context.Context, caller *models.User, folder, language, logLevel string) (*models.Job, error)
	CancelJob(ctx context.Context, caller *models.User, id string) (*models.Job, error)
	RetryJob(ctx context.Context, caller *models.User, id string) (*models.Job, error)
	GetJob(ctx context.Context, caller *models.User, id string) (*models.Job, error)
	ListJobs(ctx context.Context, caller *models.User, offset, limit int) ([]*models.Job, error)
	JobStats(ctx context.Context) (map[models.JobStatus]int, error)
}

// LogBus is the per-job publish/subscribe fan-out (C3). One publisher per
// job, any number of subscribers. History is bounded; publishing never
// blocks on a slow subscriber.
type LogBus interface {
	// Publish appends the envelope to the job's history and delivers it to
	// current subscribers best-effort.
	Publish(jobID string, env models.LogEnvelope)

	// Subscribe registers a live listener first, then returns the history
	// snapshot, so no envelope published after the call is lost. The caller
	// must invoke cancel exactly once.
	Subscribe(jobID string) (history []models.LogEnvelope, live <-chan models.LogEnvelope, cancel func())

	// CloseTopic drops the live subscriber channels for a job. History is
	// retained for late joiners.
	CloseTopic(jobID string)
}

// AuthService resolves principals from credentials.
type AuthService interface {
	// ResolveBearer resolves a long-lived API bearer credential.
	ResolveBearer(ctx context.Context, token string) (*models.User, error)

	// IssueStreamToken mints a short-lived token for WebSocket query auth.
	IssueStreamToken(ctx context.Context, user *models.User) (string, error)

	// ResolveStreamToken validates a short-lived stream token.
	ResolveStreamToken(ctx context.Context, token string) (*models.User, error)
}
