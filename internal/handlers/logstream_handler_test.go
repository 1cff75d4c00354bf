package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/logbus"
	"github.com/subfetch/subfetch/internal/models"
	"github.com/subfetch/subfetch/internal/queue"
	"github.com/subfetch/subfetch/internal/services/auth"
	"github.com/subfetch/subfetch/internal/services/jobs"
	storage "github.com/subfetch/subfetch/internal/storage/badger"
	"github.com/subfetch/subfetch/internal/supervisor"
)

type streamFixture struct {
	server *httptest.Server
	svc    interfaces.JobService
	jobs   interfaces.JobStorage
	auth   interfaces.AuthService
	users  interfaces.UserStorage
	bus    interfaces.LogBus
	folder string
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := storage.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queueDB, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { queueDB.Close() })

	broker, err := queue.NewBroker(queueDB, "test", time.Minute, 3, logger)
	require.NoError(t, err)

	jobStorage := storage.NewJobStorage(db, logger)
	pathStorage := storage.NewPathStorage(db, logger)
	userStorage := storage.NewUserStorage(db, logger)

	folder, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	cfg := common.JobsConfig{AllowedMediaFolders: []string{folder}}
	bus := logbus.NewBus(common.LogBusConfig{HistoryMaxEntries: 100, HistoryMaxBytes: 64 * 1024}, logger)
	svc := jobs.NewService(jobStorage, pathStorage, broker, supervisor.NewRegistry(), bus, cfg, logger)
	authSvc := auth.NewService(userStorage, logger)

	handler := NewLogStreamHandler(svc, authSvc, bus, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/", handler.Handle)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &streamFixture{
		server: server,
		svc:    svc,
		jobs:   jobStorage,
		auth:   authSvc,
		users:  userStorage,
		bus:    bus,
		folder: folder,
	}
}

func (f *streamFixture) user(t *testing.T, id string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Name: id, APIKey: "key-" + id}
	require.NoError(t, f.users.SaveUser(context.Background(), user))
	return user
}

func (f *streamFixture) streamToken(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := f.auth.IssueStreamToken(context.Background(), user)
	require.NoError(t, err)
	return token
}

func (f *streamFixture) dial(t *testing.T, jobID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/jobs/" + jobID + "/logs?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.LogEnvelope {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.LogEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close frame, got %v", err)
	return closeErr
}

func TestStreamInvalidToken(t *testing.T) {
	f := newStreamFixture(t)

	conn := f.dial(t, "some-job", "bogus-token")
	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestStreamTokenForUnknownUser(t *testing.T) {
	f := newStreamFixture(t)

	// A token whose user no longer resolves is as good as expired.
	ghost := &models.User{ID: "ghost", Name: "ghost"}
	token := f.streamToken(t, ghost)

	conn := f.dial(t, "some-job", token)
	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestStreamUnknownJob(t *testing.T) {
	f := newStreamFixture(t)
	user := f.user(t, "alice")

	conn := f.dial(t, "no-such-job", f.streamToken(t, user))

	// The client gets a structured error before the close frame.
	env := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeError, env.Type)

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseUnsupportedData, closeErr.Code)
}

func TestStreamForbiddenJob(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	mallory := f.user(t, "mallory")

	job, err := f.svc.CreateJob(ctx, alice, f.folder, "ro", "info")
	require.NoError(t, err)

	conn := f.dial(t, job.ID, f.streamToken(t, mallory))

	env := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeError, env.Type)

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestStreamTerminalJobReplaysAndCloses(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")

	job, err := f.svc.CreateJob(ctx, alice, f.folder, "ro", "info")
	require.NoError(t, err)

	f.bus.Publish(job.ID, models.NewLogEnvelope(models.StreamStdout, "line one"))
	f.bus.Publish(job.ID, models.NewLogEnvelope(models.StreamStdout, "line two"))

	require.NoError(t, f.jobs.UpdateJobStartDetails(ctx, job.ID, job.TaskHandle, time.Now()))
	require.NoError(t, f.jobs.UpdateJobCompletionDetails(ctx, job.ID, models.JobStatusSucceeded, 0, time.Now(), "done", ""))

	conn := f.dial(t, job.ID, f.streamToken(t, alice))

	// First frame is the system sync envelope, then the replay in order.
	env := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeSystem, env.Type)

	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeLog, first.Type)
	assert.Equal(t, models.EnvelopeLog, second.Type)
	assert.Less(t, first.Seq, second.Seq)

	var payload models.LogPayload
	require.NoError(t, json.Unmarshal(first.Payload, &payload))
	assert.Equal(t, "line one", payload.Message)

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestStreamLiveEnvelopes(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")

	job, err := f.svc.CreateJob(ctx, alice, f.folder, "ro", "info")
	require.NoError(t, err)

	conn := f.dial(t, job.ID, f.streamToken(t, alice))

	env := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeSystem, env.Type)

	f.bus.Publish(job.ID, models.NewLogEnvelope(models.StreamStdout, "live line"))

	live := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeLog, live.Type)
	var payload models.LogPayload
	require.NoError(t, json.Unmarshal(live.Payload, &payload))
	assert.Equal(t, "live line", payload.Message)

	// Closing the topic ends the stream with a clean going-away frame.
	f.bus.CloseTopic(job.ID)
	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestStreamRejectsDataFrames(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")

	job, err := f.svc.CreateJob(ctx, alice, f.folder, "ro", "info")
	require.NoError(t, err)

	conn := f.dial(t, job.ID, f.streamToken(t, alice))

	env := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeSystem, env.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseUnsupportedData, closeErr.Code)
}

func TestJobIDFromLogsPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/jobs/abc-123/logs", "abc-123"},
		{"/api/jobs/abc-123/logs/", "abc-123"},
		{"/api/jobs/abc-123", ""},
		{"/api/jobs//logs", ""},
		{"/api/jobs/abc-123/extra/logs", ""},
		{"/other/path", ""},
	}
	for _, tt := range tests {
		if got := jobIDFromLogsPath(tt.path); got != tt.want {
			t.Errorf("jobIDFromLogsPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
