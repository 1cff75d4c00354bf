package supervisor

import "sync"

// Registry tracks the jobs currently hosted by this process. CancelJob uses
// it to reach the supervisor goroutine that owns a RUNNING job.
type Registry struct {
	mu sync.Mutex
	m  map[string]func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]func())}
}

func (r *Registry) register(jobID string, requestCancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[jobID] = requestCancel
}

func (r *Registry) unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, jobID)
}

// Cancel asks the supervisor owning the job to start the termination
// protocol. Returns false when no supervisor in this process owns the job.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	fn, ok := r.m[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	fn()
	return true
}

// Running returns the number of jobs currently hosted.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
