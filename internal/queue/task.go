package queue

// Task is the payload carried by one queued job delivery. The supervisor
// re-reads the authoritative job row; the payload only carries what the
// worker process needs on its command line.
type Task struct {
	JobID    string `json:"job_id"`
	Folder   string `json:"folder"`
	Language string `json:"language"`
	LogLevel string `json:"level"`
}
