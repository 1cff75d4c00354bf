// -----------------------------------------------------------------------
// Log Envelope - wire format shared by supervisor and log-stream clients
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeType tags the payload variant of a log envelope.
type EnvelopeType string

const (
	EnvelopeLog    EnvelopeType = "log"
	EnvelopeStatus EnvelopeType = "status"
	EnvelopeSystem EnvelopeType = "system"
	EnvelopeError  EnvelopeType = "error"
)

// Stream identifies the origin of a captured log line.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamSystem Stream = "system"
)

// LogEnvelope is the self-describing message published on a job's log topic
// and forwarded verbatim to WebSocket clients. Seq is monotonic per job
// starting at 0; clients use it to validate ordering.
type LogEnvelope struct {
	Type    EnvelopeType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      time.Time       `json:"ts"`
	Seq     uint64          `json:"seq"`
}

// LogPayload carries one captured output line.
type LogPayload struct {
	Stream  Stream `json:"stream"`
	Message string `json:"message"`
}

// StatusPayload announces a job status transition.
type StatusPayload struct {
	Status   JobStatus `json:"status"`
	ExitCode int       `json:"exit_code"`
	JobID    string    `json:"job_id"`
}

// MessagePayload carries system and error notices.
type MessagePayload struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

// NewLogEnvelope builds a log envelope for one output line. Seq is assigned
// by the log bus at publish time.
func NewLogEnvelope(stream Stream, message string) LogEnvelope {
	return newEnvelope(EnvelopeLog, LogPayload{Stream: stream, Message: message})
}

// NewStatusEnvelope builds a status envelope. exitCode is -1 while running.
func NewStatusEnvelope(jobID string, status JobStatus, exitCode int) LogEnvelope {
	return newEnvelope(EnvelopeStatus, StatusPayload{Status: status, ExitCode: exitCode, JobID: jobID})
}

// NewSystemEnvelope builds a system notice envelope.
func NewSystemEnvelope(jobID, message string) LogEnvelope {
	return newEnvelope(EnvelopeSystem, MessagePayload{Message: message, JobID: jobID})
}

// NewErrorEnvelope builds an error notice envelope.
func NewErrorEnvelope(message string) LogEnvelope {
	return newEnvelope(EnvelopeError, MessagePayload{Message: message})
}

func newEnvelope(t EnvelopeType, payload interface{}) LogEnvelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload structs above only carry strings and ints; marshal cannot
		// fail for them, but keep the envelope well formed regardless.
		raw = []byte(fmt.Sprintf(`{"message":%q}`, err.Error()))
	}
	return LogEnvelope{Type: t, Payload: raw, TS: time.Now().UTC()}
}

// ToJSON serializes the envelope for the wire.
func (e LogEnvelope) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log envelope: %w", err)
	}
	return data, nil
}

// EnvelopeFromJSON deserializes an envelope received from the wire.
func EnvelopeFromJSON(data []byte) (LogEnvelope, error) {
	var e LogEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return LogEnvelope{}, fmt.Errorf("failed to unmarshal log envelope: %w", err)
	}
	return e, nil
}

// ApproxSize returns the approximate byte cost of the envelope, used by the
// replay buffer's byte cap.
func (e LogEnvelope) ApproxSize() int {
	return len(e.Payload) + 64
}
