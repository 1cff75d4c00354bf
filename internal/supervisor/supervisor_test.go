package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/logbus"
	"github.com/subfetch/subfetch/internal/models"
	"github.com/subfetch/subfetch/internal/queue"
	storage "github.com/subfetch/subfetch/internal/storage/badger"
)

type testEnv struct {
	sup      *Supervisor
	store    interfaces.JobStorage
	registry *Registry
}

func newTestEnv(t *testing.T, cfg common.JobsConfig) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := storage.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewJobStorage(db, logger)
	bus := logbus.NewBus(common.LogBusConfig{HistoryMaxEntries: 1000, HistoryMaxBytes: 1 << 20}, logger)
	registry := NewRegistry()

	if cfg.ResultMessageMaxLen == 0 {
		cfg.ResultMessageMaxLen = 300
	}
	if cfg.LogSnippetMaxLen == 0 {
		cfg.LogSnippetMaxLen = 4096
	}

	return &testEnv{
		sup:      New(store, bus, registry, cfg, logger),
		store:    store,
		registry: registry,
	}
}

// writeScript materializes a worker stand-in. The real worker accepts the
// same flags; the scripts here ignore them.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func (e *testEnv) newPendingJob(t *testing.T) *models.Job {
	t.Helper()
	job := models.NewJob("user-1", "/media/test", "ro", "info")
	require.NoError(t, e.store.InsertJob(context.Background(), job))
	return job
}

func delivery(job *models.Job) *queue.Delivery {
	return &queue.Delivery{
		Task:   queue.Task{JobID: job.ID, Folder: job.Folder, Language: job.Language, LogLevel: job.LogLevel},
		Handle: "handle-" + job.ID,
	}
}

func TestHandleSuccess(t *testing.T) {
	script := writeScript(t, "echo processing\necho all done\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Equal(t, "all done", got.ResultMessage, "last stdout line becomes the result message")
	assert.Contains(t, got.LogSnippet, "processing")
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestHandleSuccessEmptyOutput(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.Equal(t, "", got.ResultMessage, "no output means an empty result message")
}

func TestHandleWorkerFailure(t *testing.T) {
	script := writeScript(t, "echo oops >&2\nexit 3\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, *got.ExitCode)
	assert.Equal(t, "oops", got.ResultMessage, "last stderr line becomes the failure message")
}

func TestHandleWorkerFailureNoStderr(t *testing.T) {
	script := writeScript(t, "exit 7\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Worker exited with code 7", got.ResultMessage)
}

func TestHandleTimeout(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	// Zero timeout: the timer fires immediately and every job times out.
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 0, TerminateGraceSec: 1})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, models.ExitCodeTimeout, *got.ExitCode)
	assert.Equal(t, "Job timed out after 0 seconds", got.ResultMessage)
}

func TestHandleCancelDuringRun(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 60, TerminateGraceSec: 5})

	job := env.newPendingJob(t)

	done := make(chan error, 1)
	go func() {
		done <- env.sup.Handle(context.Background(), delivery(job))
	}()

	// Wait until the supervisor registered the running job, then cancel.
	require.Eventually(t, func() bool {
		return env.registry.Cancel(job.ID)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, <-done)

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, models.ExitCodeSoftKill, *got.ExitCode)
	assert.Equal(t, "Job cancelled by user", got.ResultMessage)
}

func TestFinalizeCancelWinsOverCleanExit(t *testing.T) {
	env := newTestEnv(t, common.JobsConfig{WorkerPath: "/bin/true", TimeoutSec: 30, TerminateGraceSec: 5})
	ctx := context.Background()

	// The worker finished cleanly, but a cancel was acknowledged while it
	// was finishing. The cancel wins.
	job := env.newPendingJob(t)
	require.NoError(t, env.store.UpdateJobStartDetails(ctx, job.ID, "handle-"+job.ID, time.Now()))
	require.NoError(t, env.store.UpdateJobCancelRequested(ctx, job.ID))

	require.NoError(t, env.sup.finalize(ctx, job, outcome{
		status:        models.JobStatusSucceeded,
		exitCode:      0,
		resultMessage: "all done",
	}))

	got, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, models.ExitCodeSoftKill, *got.ExitCode)
	assert.Equal(t, "Job cancelled by user", got.ResultMessage)
}

func TestHandleShutdownInterruptsJob(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 60, TerminateGraceSec: 1})

	job := env.newPendingJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.sup.Handle(ctx, delivery(job))
	}()

	require.Eventually(t, func() bool {
		return env.registry.Running() == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, <-done)

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Job interrupted by service shutdown", got.ResultMessage)
}

func TestHandleSpawnFailure(t *testing.T) {
	env := newTestEnv(t, common.JobsConfig{WorkerPath: "/no/such/worker", TimeoutSec: 30, TerminateGraceSec: 5})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, models.ExitCodeSpawn, *got.ExitCode)
	assert.Contains(t, got.ResultMessage, "Failed to start worker")
}

func TestHandleUnknownJobIsDropped(t *testing.T) {
	env := newTestEnv(t, common.JobsConfig{WorkerPath: "/bin/true", TimeoutSec: 30, TerminateGraceSec: 5})

	d := &queue.Delivery{Task: queue.Task{JobID: "ghost"}, Handle: "h"}
	assert.NoError(t, env.sup.Handle(context.Background(), d))
}

func TestHandleTerminalJobIsIdempotent(t *testing.T) {
	script := writeScript(t, "echo done\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5})

	job := env.newPendingJob(t)
	d := delivery(job)
	require.NoError(t, env.sup.Handle(context.Background(), d))

	first, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	// Redelivery after the terminal commit must not run a second worker or
	// touch the row.
	require.NoError(t, env.sup.Handle(context.Background(), d))
	second, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.Equal(t, first.ResultMessage, second.ResultMessage)
}

func TestHandleCancellingJobSettlesWithoutRunning(t *testing.T) {
	env := newTestEnv(t, common.JobsConfig{WorkerPath: "/no/such/worker", TimeoutSec: 30, TerminateGraceSec: 5})
	ctx := context.Background()

	job := env.newPendingJob(t)
	require.NoError(t, env.store.UpdateJobCancelRequested(ctx, job.ID))

	require.NoError(t, env.sup.Handle(ctx, delivery(job)))

	got, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, models.ExitCodeSoftKill, *got.ExitCode)
	assert.Equal(t, "Job cancelled before start", got.ResultMessage)
}

func TestHandleOrphanedRunningJob(t *testing.T) {
	env := newTestEnv(t, common.JobsConfig{WorkerPath: "/no/such/worker", TimeoutSec: 30, TerminateGraceSec: 5})
	ctx := context.Background()

	job := env.newPendingJob(t)
	d := delivery(job)
	require.NoError(t, env.store.UpdateJobStartDetails(ctx, job.ID, d.Handle, time.Now()))

	// The row says RUNNING and the same task came back: the claiming
	// supervisor died. The row is settled as failed.
	require.NoError(t, env.sup.Handle(ctx, d))

	got, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, models.ExitCodeHardKill, *got.ExitCode)
	assert.Equal(t, "Job orphaned by service restart", got.ResultMessage)
}

func TestHandleRunningJobOtherHandle(t *testing.T) {
	env := newTestEnv(t, common.JobsConfig{WorkerPath: "/no/such/worker", TimeoutSec: 30, TerminateGraceSec: 5})
	ctx := context.Background()

	job := env.newPendingJob(t)
	require.NoError(t, env.store.UpdateJobStartDetails(ctx, job.ID, "someone-elses-handle", time.Now()))

	require.NoError(t, env.sup.Handle(ctx, delivery(job)))

	got, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status, "a job owned by another supervisor is left alone")
}

func TestResultMessageTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "0123456789"
	}
	script := writeScript(t, fmt.Sprintf("echo %s\n", long))
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5, ResultMessageMaxLen: 100})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, got.ResultMessage, 100)
}

func TestLogSnippetBounded(t *testing.T) {
	script := writeScript(t, "i=0\nwhile [ $i -lt 200 ]; do echo \"log line number $i with some padding text\"; i=$((i+1)); done\n")
	env := newTestEnv(t, common.JobsConfig{WorkerPath: script, TimeoutSec: 30, TerminateGraceSec: 5, LogSnippetMaxLen: 500})

	job := env.newPendingJob(t)
	require.NoError(t, env.sup.Handle(context.Background(), delivery(job)))

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got.LogSnippet), 500)
	assert.Contains(t, got.LogSnippet, "log line number 199", "snippet keeps the newest lines")
}
