package supervisor

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

// startWorker configures and starts the worker process for a job. The worker
// runs in its own process group so termination signals reach any children it
// spawns (ffprobe, sync tools).
func startWorker(workerPath string, job workerInput) (*exec.Cmd, error) {
	cmd := exec.Command(workerPath,
		"-folder", job.Folder,
		"-language", job.Language,
		"-log-level", job.LogLevel,
	)
	cmd.Env = append(os.Environ(),
		"SUBFETCH_JOB_ID="+job.JobID,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

type workerInput struct {
	JobID    string
	Folder   string
	Language string
	LogLevel string
}

// terminate runs the two-phase termination protocol against the worker's
// process group: SIGTERM, then SIGKILL once the grace window elapses without
// the process exiting. waitDone closes when cmd.Wait has returned.
//
// Returns true when SIGKILL was needed.
func terminate(cmd *exec.Cmd, grace time.Duration, waitDone <-chan struct{}) bool {
	if cmd.Process == nil {
		return false
	}
	pgid := -cmd.Process.Pid

	// Negative pid signals the whole group.
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-waitDone:
		return false
	case <-time.After(grace):
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-waitDone
	return true
}
