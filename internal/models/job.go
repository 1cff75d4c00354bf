// -----------------------------------------------------------------------
// Job - durable record of one subtitle acquisition run
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusCancelling JobStatus = "CANCELLING"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Synthetic exit codes used when the OS does not provide one.
const (
	ExitCodeSoftKill = -15 // process ended by SIGTERM during the termination protocol
	ExitCodeHardKill = -9  // process ended by SIGKILL after the grace window
	ExitCodeTimeout  = -99 // job wall-clock timeout fired
	ExitCodeSpawn    = -97 // worker binary missing or spawn failed
)

// IsTerminal reports whether the status can never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is the durable record of a single subtitle acquisition run.
//
// Lifecycle: created PENDING by the dispatcher, moved to RUNNING by exactly
// one supervisor before the worker process is spawned, and moved to exactly
// one terminal state by the same supervisor. CANCELLING is the only
// externally requested intermediate state; the supervisor completes it.
type Job struct {
	ID      string `json:"id" badgerhold:"key"`
	OwnerID string `json:"owner_id" badgerhold:"index"`

	// Input captured at submission time.
	Folder   string `json:"folder"`
	Language string `json:"language"`
	LogLevel string `json:"log_level"`
	RetryOf  string `json:"retry_of,omitempty"` // predecessor job id when resubmitted

	Status JobStatus `json:"status" badgerhold:"index"`

	// Broker binding, set when the supervisor claims the task.
	TaskHandle string `json:"task_handle,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Outcome, populated only on terminal transition.
	ExitCode      *int   `json:"exit_code,omitempty"`
	ResultMessage string `json:"result_message"`
	LogSnippet    string `json:"log_snippet"`
}

// NewJob creates a PENDING job for the given owner and input.
func NewJob(ownerID, folder, language, logLevel string) *Job {
	return &Job{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Folder:      folder,
		Language:    language,
		LogLevel:    logLevel,
		Status:      JobStatusPending,
		SubmittedAt: time.Now().UTC(),
	}
}

// RetryJob creates a fresh PENDING job copying the input of a terminal one.
func RetryJob(prev *Job) *Job {
	j := NewJob(prev.OwnerID, prev.Folder, prev.Language, prev.LogLevel)
	j.RetryOf = prev.ID
	return j
}

// IsCancellable reports whether CancelJob is permitted from the current state.
func (j *Job) IsCancellable() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// IsRetriable reports whether RetryJob is permitted from the current state.
func (j *Job) IsRetriable() bool {
	return j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// Validate checks the invariants that must hold for any persisted job.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.OwnerID == "" {
		return fmt.Errorf("job owner is required")
	}
	if j.Folder == "" {
		return fmt.Errorf("job folder is required")
	}
	if j.Status.IsTerminal() {
		if j.CompletedAt == nil {
			return fmt.Errorf("terminal job %s missing completed_at", j.ID)
		}
		if j.ExitCode == nil {
			return fmt.Errorf("terminal job %s missing exit_code", j.ID)
		}
	}
	if j.Status == JobStatusRunning {
		if j.StartedAt == nil {
			return fmt.Errorf("running job %s missing started_at", j.ID)
		}
		if j.TaskHandle == "" {
			return fmt.Errorf("running job %s missing task handle", j.ID)
		}
	}
	return nil
}

// TruncateTail keeps the final max bytes of s, cutting at a line boundary
// where possible. Used to derive result_message and log_snippet from the
// captured output.
func TruncateTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	tail := s[len(s)-max:]
	// Drop the partial first line so the snippet starts clean.
	for i := 0; i < len(tail); i++ {
		if tail[i] == '\n' {
			if i+1 < len(tail) {
				return tail[i+1:]
			}
			return ""
		}
	}
	return tail
}
