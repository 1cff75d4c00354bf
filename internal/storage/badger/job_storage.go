package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// ErrJobNotFound is returned when no job exists for the given id.
var ErrJobNotFound = errors.New("job not found")

// ErrPreconditionFailed is returned when a state-machine precondition does
// not hold, e.g. a second terminal write for the same job.
var ErrPreconditionFailed = errors.New("job state precondition failed")

// JobStorage implements the JobStorage interface for Badger.
//
// BadgerHold has no row-level transactions for read-modify-write, so every
// conditional update is serialized behind a store-wide mutex. Jobs are
// small and updates are rare (three per job lifetime), so contention is not
// a concern.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) InsertJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) SetJobTaskHandle(ctx context.Context, id, taskHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: job %s is %s, expected PENDING", ErrPreconditionFailed, id, job.Status)
	}

	job.TaskHandle = taskHandle
	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to set job task handle: %w", err)
	}
	return nil
}

func (s *JobStorage) UpdateJobStartDetails(ctx context.Context, id, taskHandle string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: job %s is %s, expected PENDING", ErrPreconditionFailed, id, job.Status)
	}

	job.Status = models.JobStatusRunning
	job.TaskHandle = taskHandle
	job.StartedAt = &startedAt

	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to update job start details: %w", err)
	}
	return nil
}

func (s *JobStorage) UpdateJobCancelRequested(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsCancellable() {
		return fmt.Errorf("%w: job %s is %s, expected PENDING or RUNNING", ErrPreconditionFailed, id, job.Status)
	}

	job.Status = models.JobStatusCancelling
	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to mark job cancelling: %w", err)
	}
	return nil
}

func (s *JobStorage) UpdateJobCompletionDetails(ctx context.Context, id string, status models.JobStatus, exitCode int, completedAt time.Time, resultMessage, logSnippet string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("completion status must be terminal, got %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		// A job never leaves a terminal state.
		return fmt.Errorf("%w: job %s already terminal (%s)", ErrPreconditionFailed, id, job.Status)
	}

	job.Status = status
	job.ExitCode = &exitCode
	job.CompletedAt = &completedAt
	job.ResultMessage = resultMessage
	job.LogSnippet = logSnippet

	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to update job completion details: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobsForOwner(ctx context.Context, ownerID string, offset, limit int) ([]*models.Job, error) {
	query := badgerhold.Where("OwnerID").Eq(ownerID).SortBy("SubmittedAt").Reverse()
	return s.findJobs(query, offset, limit)
}

func (s *JobStorage) ListJobs(ctx context.Context, offset, limit int) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("SubmittedAt").Reverse()
	return s.findJobs(query, offset, limit)
}

func (s *JobStorage) findJobs(query *badgerhold.Query, offset, limit int) ([]*models.Job, error) {
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	counts := make(map[models.JobStatus]int)
	statuses := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCancelling,
		models.JobStatusCancelled,
		models.JobStatusSucceeded,
		models.JobStatusFailed,
	}
	for _, status := range statuses {
		n, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count jobs by status: %w", err)
		}
		counts[status] = int(n)
	}
	return counts, nil
}
