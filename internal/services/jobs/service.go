// -----------------------------------------------------------------------
// Job Service - dispatcher between the API surface and the broker
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
	"github.com/subfetch/subfetch/internal/queue"
	storage "github.com/subfetch/subfetch/internal/storage/badger"
	"github.com/subfetch/subfetch/internal/supervisor"
)

// jobInput is the validated shape of a job submission.
type jobInput struct {
	Folder   string `validate:"required"`
	Language string `validate:"required,len=2,alpha"`
	LogLevel string `validate:"omitempty,oneof=debug info warning error"`
}

// Service implements the JobService interface. It owns input validation,
// the allow-list policy check, and the insert-before-enqueue ordering that
// guarantees every queued task has a job row behind it.
type Service struct {
	jobs     interfaces.JobStorage
	paths    interfaces.PathStorage
	broker   *queue.Broker
	registry *supervisor.Registry
	bus      interfaces.LogBus
	cfg      common.JobsConfig
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates the dispatcher.
func NewService(jobs interfaces.JobStorage, paths interfaces.PathStorage, broker *queue.Broker, registry *supervisor.Registry, bus interfaces.LogBus, cfg common.JobsConfig, logger arbor.ILogger) interfaces.JobService {
	return &Service{
		jobs:     jobs,
		paths:    paths,
		broker:   broker,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateJob validates the submission, checks the folder against the
// allow-list, persists a PENDING job, and enqueues its task.
func (s *Service) CreateJob(ctx context.Context, caller *models.User, folder, language, logLevel string) (*models.Job, error) {
	if language == "" {
		language = "ro"
	}
	if logLevel == "" {
		logLevel = "info"
	}

	input := jobInput{Folder: folder, Language: language, LogLevel: logLevel}
	if err := s.validate.Struct(input); err != nil {
		return nil, models.ErrInvalidInput("invalid job submission: %v", err)
	}

	resolved, err := s.authorizeFolder(ctx, caller, folder)
	if err != nil {
		return nil, err
	}

	job := models.NewJob(caller.ID, resolved, language, logLevel)
	if err := s.jobs.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	return s.enqueue(ctx, job)
}

// enqueue hands the job's task to the broker and records the handle. A
// broker failure settles the job as FAILED so no row stays PENDING forever.
func (s *Service) enqueue(ctx context.Context, job *models.Job) (*models.Job, error) {
	task := queue.Task{
		JobID:    job.ID,
		Folder:   job.Folder,
		Language: job.Language,
		LogLevel: job.LogLevel,
	}
	handle, err := s.broker.Enqueue(ctx, task)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue job task")
		msg := "Failed to enqueue job"
		if uerr := s.jobs.UpdateJobCompletionDetails(ctx, job.ID, models.JobStatusFailed, models.ExitCodeSpawn, time.Now().UTC(), msg, ""); uerr != nil {
			s.logger.Error().Err(uerr).Str("job_id", job.ID).Msg("Failed to settle unqueued job")
		}
		return nil, models.ErrInternal(fmt.Errorf("failed to enqueue job: %w", err))
	}

	if err := s.jobs.SetJobTaskHandle(ctx, job.ID, handle); err != nil {
		// The supervisor records the handle again when it claims the task,
		// so losing this write only narrows the revocation window.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record task handle")
	}
	job.TaskHandle = handle

	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner", job.OwnerID).
		Str("folder", job.Folder).
		Str("language", job.Language).
		Msg("Job submitted")

	return job, nil
}

// authorizeFolder resolves the folder through the file system and applies
// the allow-list policy to the resolved path, so a symlink inside an allowed
// folder cannot smuggle in a target outside it. Superusers extend the
// allow-list with the submitted folder instead of bypassing it.
func (s *Service) authorizeFolder(ctx context.Context, caller *models.User, folder string) (string, error) {
	if !filepath.IsAbs(folder) {
		return "", models.ErrInvalidInput("folder must be an absolute path: %s", folder)
	}
	cleaned := filepath.Clean(folder)

	resolved, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		// The path does not resolve. Unauthorized callers get the same
		// answer as for a denied path, so they learn nothing about the
		// file system.
		if !caller.Superuser {
			allowed, aerr := s.folderAllowed(ctx, cleaned)
			if aerr != nil {
				return "", aerr
			}
			if !allowed {
				return "", models.ErrUnauthorizedPath(cleaned)
			}
		}
		return "", models.ErrPathNotFound(cleaned)
	}

	if !caller.Superuser {
		allowed, err := s.folderAllowed(ctx, resolved)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", models.ErrUnauthorizedPath(resolved)
		}
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", models.ErrPathNotFound(resolved)
	}

	if caller.Superuser {
		if err := s.extendAllowList(ctx, caller, resolved); err != nil {
			return "", err
		}
	}
	return resolved, nil
}

// extendAllowList persists a superuser-submitted folder so later submissions
// of the same folder by regular users pass the policy check.
func (s *Service) extendAllowList(ctx context.Context, caller *models.User, resolved string) error {
	allowed, err := s.folderAllowed(ctx, resolved)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	entry, err := models.NewStoragePath(resolved, "superuser", caller.ID)
	if err != nil {
		return models.ErrInvalidInput("invalid folder: %v", err)
	}
	if err := s.paths.AddPath(ctx, entry); err != nil {
		return fmt.Errorf("failed to extend allow-list: %w", err)
	}
	s.logger.Info().
		Str("folder", resolved).
		Str("user", caller.ID).
		Msg("Allow-list extended")
	return nil
}

func (s *Service) folderAllowed(ctx context.Context, resolved string) (bool, error) {
	for _, seed := range s.cfg.AllowedMediaFolders {
		entry := models.StoragePath{Path: filepath.Clean(seed)}
		if entry.Contains(resolved) {
			return true, nil
		}
	}

	entries, err := s.paths.ListPaths(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load allow-list: %w", err)
	}
	for _, entry := range entries {
		if entry.Contains(resolved) {
			return true, nil
		}
	}
	return false, nil
}

// CancelJob moves the job to CANCELLING and reaches whichever side owns it:
// the in-process supervisor for a RUNNING job, the broker for a queued one.
func (s *Service) CancelJob(ctx context.Context, caller *models.User, id string) (*models.Job, error) {
	job, err := s.loadAuthorized(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !job.IsCancellable() {
		return nil, models.ErrJobNotCancellable(id, job.Status)
	}

	if err := s.jobs.UpdateJobCancelRequested(ctx, id); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			fresh, _ := s.jobs.GetJob(ctx, id)
			status := job.Status
			if fresh != nil {
				status = fresh.Status
			}
			return nil, models.ErrJobNotCancellable(id, status)
		}
		return nil, fmt.Errorf("failed to request cancellation: %w", err)
	}

	if s.registry.Cancel(id) {
		s.logger.Info().Str("job_id", id).Msg("Cancellation signalled to running supervisor")
	} else if job.TaskHandle != "" {
		switch err := s.broker.Revoke(ctx, job.TaskHandle); {
		case err == nil:
			// The queued delivery is gone, so no supervisor will ever see
			// this job again; the cancel has to finish here.
			s.finalizeCancelled(ctx, id)
		case errors.Is(err, queue.ErrTaskNotFound):
			// Already claimed; the supervisor observes CANCELLING and
			// settles the row itself.
		default:
			s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to revoke queued task")
		}
	}

	return s.jobs.GetJob(ctx, id)
}

// finalizeCancelled settles a revoked job as CANCELLED: commit first, then
// announce on the log bus, the same ordering the supervisor uses.
func (s *Service) finalizeCancelled(ctx context.Context, id string) {
	err := s.jobs.UpdateJobCompletionDetails(ctx, id, models.JobStatusCancelled, models.ExitCodeSoftKill, time.Now().UTC(), "Job cancelled before start", "")
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			// Another writer settled the row already.
			return
		}
		s.logger.Error().Err(err).Str("job_id", id).Msg("Failed to settle cancelled job")
		return
	}

	s.logger.Info().Str("job_id", id).Msg("Queued job cancelled")
	s.bus.Publish(id, models.NewStatusEnvelope(id, models.JobStatusCancelled, models.ExitCodeSoftKill))
	s.bus.Publish(id, models.NewSystemEnvelope(id, "Job cancelled before start"))
	s.bus.CloseTopic(id)
}

// RetryJob resubmits a terminal FAILED or CANCELLED job as a fresh one.
func (s *Service) RetryJob(ctx context.Context, caller *models.User, id string) (*models.Job, error) {
	prev, err := s.loadAuthorized(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !prev.IsRetriable() {
		return nil, models.ErrJobNotRetriable(id, prev.Status)
	}

	// Re-run the policy check: the allow-list may have changed since the
	// original submission.
	if _, err := s.authorizeFolder(ctx, caller, prev.Folder); err != nil {
		return nil, err
	}

	job := models.RetryJob(prev)
	job.OwnerID = caller.ID
	if err := s.jobs.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist retry job: %w", err)
	}
	return s.enqueue(ctx, job)
}

// GetJob returns the job if the caller may read it.
func (s *Service) GetJob(ctx context.Context, caller *models.User, id string) (*models.Job, error) {
	return s.loadAuthorized(ctx, caller, id)
}

// ListJobs returns the caller's jobs, or all jobs for admins.
func (s *Service) ListJobs(ctx context.Context, caller *models.User, offset, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if caller.Admin {
		return s.jobs.ListJobs(ctx, offset, limit)
	}
	return s.jobs.ListJobsForOwner(ctx, caller.ID, offset, limit)
}

// JobStats returns per-status job counts.
func (s *Service) JobStats(ctx context.Context) (map[models.JobStatus]int, error) {
	return s.jobs.CountJobsByStatus(ctx)
}

func (s *Service) loadAuthorized(ctx context.Context, caller *models.User, id string) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			return nil, models.ErrJobNotFoundAPI(id)
		}
		return nil, err
	}
	if !caller.CanReadJob(job) {
		return nil, models.ErrForbidden("you do not have access to this job")
	}
	return job, nil
}
