// -----------------------------------------------------------------------
// Supervisor - hosts one worker process per delivery and owns its lifecycle
// -----------------------------------------------------------------------

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
	"github.com/subfetch/subfetch/internal/queue"
	storage "github.com/subfetch/subfetch/internal/storage/badger"
)

// maxLineBytes caps a single captured output line. Longer lines are split by
// the scanner rather than aborting the stream.
const maxLineBytes = 1024 * 1024

type stopReason int

const (
	reasonNone stopReason = iota
	reasonCancel
	reasonTimeout
	reasonShutdown
)

func (r stopReason) String() string {
	switch r {
	case reasonCancel:
		return "cancel requested"
	case reasonTimeout:
		return "timeout"
	case reasonShutdown:
		return "service shutdown"
	default:
		return "none"
	}
}

// Supervisor executes queued jobs. For each delivery it claims the job row,
// spawns the worker process, multiplexes its output onto the log bus, and
// commits exactly one terminal state. The delivery is acked by the pool only
// after Handle returns, so a crash before the terminal commit leads to
// redelivery, never a lost job.
type Supervisor struct {
	store    interfaces.JobStorage
	bus      interfaces.LogBus
	registry *Registry
	cfg      common.JobsConfig
	logger   arbor.ILogger
}

// New creates a supervisor bound to the job store and log bus.
func New(store interfaces.JobStorage, bus interfaces.LogBus, registry *Registry, cfg common.JobsConfig, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		store:    store,
		bus:      bus,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// outcome is the result of one worker run, before truncation.
type outcome struct {
	status        models.JobStatus
	exitCode      int
	resultMessage string
	snippet       string
}

// Handle processes one delivery. Re-entry is idempotent: a delivery for a
// job that is no longer PENDING settles the row if it can and never runs a
// second worker process.
func (s *Supervisor) Handle(ctx context.Context, delivery *queue.Delivery) error {
	job, err := s.store.GetJob(ctx, delivery.Task.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			s.logger.Warn().
				Str("job_id", delivery.Task.JobID).
				Msg("Delivery references unknown job, dropping")
			return nil
		}
		return err
	}

	switch {
	case job.Status.IsTerminal():
		// Redelivery after a crash between commit and ack.
		return nil

	case job.Status == models.JobStatusRunning:
		if job.TaskHandle == delivery.Handle {
			// The row says RUNNING but the task came back: the supervisor
			// that claimed it is gone. Settle the row so the job does not
			// stay RUNNING forever.
			return s.finalize(ctx, job, outcome{
				status:        models.JobStatusFailed,
				exitCode:      models.ExitCodeHardKill,
				resultMessage: "Job orphaned by service restart",
			})
		}
		return nil

	case job.Status == models.JobStatusCancelling:
		return s.finalize(ctx, job, outcome{
			status:        models.JobStatusCancelled,
			exitCode:      models.ExitCodeSoftKill,
			resultMessage: "Job cancelled before start",
		})
	}

	// Register for cancellation before claiming the delivery, so a cancel
	// arriving between the claim and the spawn reaches the supervisor
	// instead of falling into a gap where nobody owns it.
	cancelCh := make(chan struct{}, 1)
	s.registry.register(job.ID, func() {
		select {
		case cancelCh <- struct{}{}:
		default:
		}
	})
	defer s.registry.unregister(job.ID)

	startedAt := time.Now().UTC()
	if err := s.store.UpdateJobStartDetails(ctx, job.ID, delivery.Handle, startedAt); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			// Cancel raced in between GetJob and the claim.
			if fresh, gerr := s.store.GetJob(ctx, job.ID); gerr == nil && fresh.Status == models.JobStatusCancelling {
				return s.finalize(ctx, fresh, outcome{
					status:        models.JobStatusCancelled,
					exitCode:      models.ExitCodeSoftKill,
					resultMessage: "Job cancelled before start",
				})
			}
			return nil
		}
		return err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("folder", job.Folder).
		Str("language", job.Language).
		Msg("Job started")

	s.bus.Publish(job.ID, models.NewSystemEnvelope(job.ID, "Job started"))
	s.bus.Publish(job.ID, models.NewStatusEnvelope(job.ID, models.JobStatusRunning, -1))

	result := s.run(ctx, job, cancelCh)
	return s.finalize(ctx, job, result)
}

// run spawns the worker and drives it to completion, applying the timeout
// and the termination protocol.
func (s *Supervisor) run(ctx context.Context, job *models.Job, cancelCh <-chan struct{}) outcome {
	cmd, err := startWorker(s.cfg.WorkerPath, workerInput{
		JobID:    job.ID,
		Folder:   job.Folder,
		Language: job.Language,
		LogLevel: job.LogLevel,
	})
	var stdout, stderr io.Reader
	if err == nil {
		stdout, stderr, err = start(cmd)
	}
	if err != nil {
		msg := fmt.Sprintf("Failed to start worker: %v", err)
		s.bus.Publish(job.ID, models.NewErrorEnvelope(msg))
		return outcome{
			status:        models.JobStatusFailed,
			exitCode:      models.ExitCodeSpawn,
			resultMessage: msg,
		}
	}

	tail := newTailBuffer(s.cfg.LogSnippetMaxLen)
	var mu sync.Mutex
	var lastStdout, lastStderr string

	var readers sync.WaitGroup
	readers.Add(2)
	go s.pump(job.ID, models.StreamStdout, stdout, tail, &mu, &lastStdout, &readers)
	go s.pump(job.ID, models.StreamStderr, stderr, tail, &mu, &lastStderr, &readers)

	waitDone := make(chan struct{})
	var waitErr error
	go func() {
		readers.Wait()
		waitErr = cmd.Wait()
		close(waitDone)
	}()

	// A zero timeout means every job times out immediately.
	timer := time.NewTimer(time.Duration(s.cfg.TimeoutSec) * time.Second)
	defer timer.Stop()

	reason := reasonNone
	select {
	case <-waitDone:
	case <-timer.C:
		reason = reasonTimeout
	case <-cancelCh:
		reason = reasonCancel
	case <-ctx.Done():
		reason = reasonShutdown
	}

	hardKill := false
	if reason != reasonNone {
		s.bus.Publish(job.ID, models.NewSystemEnvelope(job.ID,
			fmt.Sprintf("Terminating worker: %s", reason)))
		hardKill = terminate(cmd, s.terminateGrace(), waitDone)
	}

	mu.Lock()
	snippet := tail.String()
	stdoutLine, stderrLine := lastStdout, lastStderr
	mu.Unlock()

	return s.resolve(reason, hardKill, waitErr, snippet, stdoutLine, stderrLine)
}

// start wires the output pipes and launches the process.
func start(cmd *exec.Cmd) (io.Reader, io.Reader, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func (s *Supervisor) terminateGrace() time.Duration {
	return time.Duration(s.cfg.TerminateGraceSec) * time.Second
}

// resolve maps the stop reason and process exit to a job outcome.
func (s *Supervisor) resolve(reason stopReason, hardKill bool, waitErr error, snippet, lastStdout, lastStderr string) outcome {
	killCode := models.ExitCodeSoftKill
	if hardKill {
		killCode = models.ExitCodeHardKill
	}

	switch reason {
	case reasonTimeout:
		return outcome{
			status:        models.JobStatusFailed,
			exitCode:      models.ExitCodeTimeout,
			resultMessage: fmt.Sprintf("Job timed out after %d seconds", s.cfg.TimeoutSec),
			snippet:       snippet,
		}
	case reasonCancel:
		return outcome{
			status:        models.JobStatusCancelled,
			exitCode:      killCode,
			resultMessage: "Job cancelled by user",
			snippet:       snippet,
		}
	case reasonShutdown:
		return outcome{
			status:        models.JobStatusFailed,
			exitCode:      killCode,
			resultMessage: "Job interrupted by service shutdown",
			snippet:       snippet,
		}
	}

	exitCode := exitCodeOf(waitErr)
	if exitCode == 0 {
		return outcome{
			status:        models.JobStatusSucceeded,
			exitCode:      0,
			resultMessage: lastStdout,
			snippet:       snippet,
		}
	}
	msg := lastStderr
	if msg == "" {
		msg = fmt.Sprintf("Worker exited with code %d", exitCode)
	}
	return outcome{
		status:        models.JobStatusFailed,
		exitCode:      exitCode,
		resultMessage: msg,
		snippet:       snippet,
	}
}

// exitCodeOf extracts the process exit code. A process killed by a signal
// outside our termination protocol reports the negated signal number, the
// shell convention made explicit.
func exitCodeOf(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal())
		}
		return ee.ExitCode()
	}
	return models.ExitCodeSpawn
}

// pump forwards one output stream to the log bus line by line.
func (s *Supervisor) pump(jobID string, stream models.Stream, r io.Reader, tail *tailBuffer, mu *sync.Mutex, last *string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()

		mu.Lock()
		tail.Add(line)
		*last = line
		mu.Unlock()

		s.bus.Publish(jobID, models.NewLogEnvelope(stream, line))
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("stream", string(stream)).
			Msg("Output stream reader failed")
	}
}

// finalize commits the terminal state, then announces it on the log bus.
// Commit comes first so a subscriber that sees the terminal envelope can
// trust the store. A precondition failure means another writer already
// settled the job; the row is left untouched. A commit failure is returned
// so the delivery stays unacked and comes back.
func (s *Supervisor) finalize(ctx context.Context, job *models.Job, result outcome) error {
	// A cancel acknowledged while the worker was finishing still ends
	// CANCELLED, even when the process exited cleanly.
	if result.status == models.JobStatusSucceeded {
		if fresh, err := s.store.GetJob(ctx, job.ID); err == nil && fresh.Status == models.JobStatusCancelling {
			result.status = models.JobStatusCancelled
			result.exitCode = models.ExitCodeSoftKill
			result.resultMessage = "Job cancelled by user"
		}
	}

	message := truncateMessage(result.resultMessage, s.cfg.ResultMessageMaxLen)
	completedAt := time.Now().UTC()

	err := s.store.UpdateJobCompletionDetails(ctx, job.ID, result.status, result.exitCode, completedAt, message, result.snippet)
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			s.logger.Debug().
				Str("job_id", job.ID).
				Msg("Job already settled by another writer")
			return nil
		}
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("status", string(result.status)).
			Msg("Failed to commit terminal job state")
		s.bus.Publish(job.ID, models.NewErrorEnvelope("Failed to persist job outcome"))
		return err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(result.status)).
		Int("exit_code", result.exitCode).
		Msg("Job finished")

	s.bus.Publish(job.ID, models.NewStatusEnvelope(job.ID, result.status, result.exitCode))
	s.bus.Publish(job.ID, models.NewSystemEnvelope(job.ID,
		fmt.Sprintf("Job finished: %s (exit code %d)", result.status, result.exitCode)))
	s.bus.CloseTopic(job.ID)
	return nil
}

func truncateMessage(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	return msg[:max]
}
