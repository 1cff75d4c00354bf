// -----------------------------------------------------------------------
// Log Stream Handler - WebSocket subscription to a job's log topic
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// LogStreamHandler serves GET /api/jobs/{id}/logs as a WebSocket. The client
// authenticates with a short-lived stream token in the query string, receives
// one system envelope, then the replay history, then live envelopes until
// the job finishes or either side disconnects.
//
// Close codes: 1008 for auth or authorization failures, 1003 when the client
// sends a data frame, 1011 on internal errors, 1001 when the topic closes.
type LogStreamHandler struct {
	jobs   interfaces.JobService
	auth   interfaces.AuthService
	bus    interfaces.LogBus
	logger arbor.ILogger
}

// NewLogStreamHandler creates a new log stream handler.
func NewLogStreamHandler(jobs interfaces.JobService, auth interfaces.AuthService, bus interfaces.LogBus, logger arbor.ILogger) *LogStreamHandler {
	return &LogStreamHandler{jobs: jobs, auth: auth, bus: bus, logger: logger}
}

// session is one connected subscriber. Writes are serialized by mu; gorilla
// connections allow only one concurrent writer.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) writeEnvelope(env models.LogEnvelope) error {
	data, err := env.ToJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.conn.Close()
}

func (s *session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Handle upgrades the connection and runs the subscription.
func (h *LogStreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromLogsPath(r.URL.Path)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	sess := &session{conn: conn}

	// Authentication and authorization failures close with 1008 after the
	// upgrade so the client sees a proper close frame, not an HTTP error.
	caller, err := h.auth.ResolveStreamToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		sess.close(websocket.ClosePolicyViolation, "invalid stream token")
		return
	}
	if jobID == "" {
		sess.close(websocket.ClosePolicyViolation, "missing job id")
		return
	}
	job, err := h.jobs.GetJob(r.Context(), caller, jobID)
	if err != nil {
		apiErr := models.AsAPIError(err)
		sess.writeEnvelope(models.NewErrorEnvelope(apiErr.Message))
		switch apiErr.Code {
		case "NOT_FOUND":
			sess.close(websocket.CloseUnsupportedData, "job not found")
		case "FORBIDDEN":
			sess.close(websocket.ClosePolicyViolation, "forbidden")
		default:
			sess.close(websocket.CloseInternalServerErr, "job lookup failed")
		}
		return
	}

	h.logger.Debug().
		Str("job_id", jobID).
		Str("user", caller.ID).
		Msg("Log stream subscriber connected")

	h.stream(sess, job)
}

func (h *LogStreamHandler) stream(sess *session, job *models.Job) {
	jobID := job.ID
	history, live, cancel := h.bus.Subscribe(jobID)
	defer cancel()

	// First frame is always a system envelope so clients can sync before any
	// replayed output arrives.
	started := models.NewSystemEnvelope(jobID, "Log streaming started")
	if err := sess.writeEnvelope(started); err != nil {
		sess.close(websocket.CloseInternalServerErr, "write failed")
		return
	}

	var lastSeq uint64
	haveSeq := false
	for _, env := range history {
		if err := sess.writeEnvelope(env); err != nil {
			sess.close(websocket.CloseInternalServerErr, "write failed")
			return
		}
		lastSeq = env.Seq
		haveSeq = true
	}

	// For a job that already finished there is nothing live to wait for:
	// the client gets the replay and a clean end of stream.
	if job.Status.IsTerminal() {
		sess.close(websocket.CloseGoingAway, "job finished")
		return
	}

	// The reader only consumes control frames. A data frame is a protocol
	// violation; a read error means the client went away.
	clientGone := make(chan int, 1)
	go func() {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		sess.conn.SetPongHandler(func(string) error {
			sess.conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := sess.conn.ReadMessage(); err != nil {
				clientGone <- 0
				return
			}
			clientGone <- websocket.CloseUnsupportedData
			return
		}
	}()

	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	for {
		select {
		case env, ok := <-live:
			if !ok {
				// Topic closed: the job reached a terminal state.
				sess.close(websocket.CloseGoingAway, "job finished")
				return
			}
			if haveSeq && env.Seq <= lastSeq {
				// Published between live registration and the history
				// snapshot; already replayed.
				continue
			}
			if err := sess.writeEnvelope(env); err != nil {
				sess.close(websocket.CloseInternalServerErr, "write failed")
				return
			}
			lastSeq = env.Seq
			haveSeq = true

		case code := <-clientGone:
			if code == websocket.CloseUnsupportedData {
				sess.close(code, "data frames are not accepted")
			} else {
				sess.conn.Close()
			}
			return

		case <-pinger.C:
			if err := sess.ping(); err != nil {
				sess.conn.Close()
				return
			}
		}
	}
}

// jobIDFromLogsPath extracts {id} from /api/jobs/{id}/logs.
func jobIDFromLogsPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[1] == "logs" {
		return parts[0]
	}
	return ""
}
