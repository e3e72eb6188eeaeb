package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/pool"
	"github.com/smash0190/endlesspool/internal/store"
	"github.com/smash0190/endlesspool/internal/strava"
)

// stubLink keeps commands in memory and lets tests inject status.
type stubLink struct {
	mu     sync.Mutex
	sent   []pool.Command
	latest pool.DerivedStatus
	has    bool
	event  *events.ChannelEvent[pool.DerivedStatus]
}

var _ pool.DeviceLink = (*stubLink)(nil)

func newStubLink() *stubLink {
	return &stubLink{event: events.NewChannelEvent[pool.DerivedStatus](false)}
}

func (l *stubLink) SendCommand(cmd pool.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, cmd)
	return nil
}

func (l *stubLink) Latest() (pool.DerivedStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest, l.has
}

func (l *stubLink) ListenToStatus(ch chan<- pool.DerivedStatus) func() {
	return l.event.Listen(ch)
}

func (l *stubLink) sentCommands() []pool.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]pool.Command, len(l.sent))
	copy(out, l.sent)
	return out
}

type testEnv struct {
	srv  *Server
	link *stubLink
	http *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	dataStore, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)

	link := newStubLink()
	recorder := pool.NewRecorder(dataStore.Workouts(), logger)
	hub := pool.NewHub(link, recorder, logger)
	t.Cleanup(hub.Shutdown)
	runner := pool.NewRunner(link, logger, time.Minute)
	t.Cleanup(runner.Shutdown)
	stravaClient := strava.NewClient(dataStore, logger)

	srv := New(Config{ListenAddr: ":0"}, hub, runner, recorder,
		dataStore.Users(), dataStore.Programs(), dataStore.Workouts(),
		stravaClient, logger)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, link: link, http: ts}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	return resp, raw
}

func (e *testEnv) createUser(t *testing.T) pool.User {
	t.Helper()
	resp, raw := e.request(t, http.MethodPost, "/api/users",
		map[string]string{"name": "Alice", "pin": "1234"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var user pool.User
	require.NoError(t, json.Unmarshal(raw, &user))
	return user
}

func TestStatusBeforeFirstBroadcast(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.request(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUserLifecycle(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	resp, raw := env.request(t, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var users []pool.User
	require.NoError(t, json.Unmarshal(raw, &users))
	require.Len(t, users, 1)
	assert.Equal(t, user.ID, users[0].ID)

	resp, _ = env.request(t, http.MethodPost, "/api/users/"+user.ID+"/login",
		map[string]string{"pin": "9999"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/users/"+user.ID+"/login",
		map[string]string{"pin": "1234"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodDelete, "/api/users/"+user.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProgramsSeededForNewUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	resp, raw := env.request(t, http.MethodGet, "/api/users/"+user.ID+"/programs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var programs []pool.Program
	require.NoError(t, json.Unmarshal(raw, &programs))
	assert.NotEmpty(t, programs)
}

func TestRunStartUnknownProgram(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	resp, _ := env.request(t, http.MethodPost, "/api/run",
		map[string]string{"user_id": user.ID, "program_id": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunStartLaunchesProgram(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	resp, raw := env.request(t, http.MethodPost, "/api/run",
		map[string]string{"user_id": user.ID, "program_id": "tempo"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	require.Eventually(t, func() bool {
		return len(env.link.sentCommands()) == 3
	}, time.Second, 5*time.Millisecond)

	sent := env.link.sentCommands()
	assert.Equal(t, pool.CmdSpeed, sent[0].Op())
	assert.Equal(t, pool.CmdTimer, sent[1].Op())
	assert.Equal(t, pool.CmdStart, sent[2].Op())

	resp, raw = env.request(t, http.MethodGet, "/api/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state pool.RunState
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, pool.PhaseAwaitingAck, state.Phase)
	assert.Equal(t, user.ID, state.UserID)

	resp, _ = env.request(t, http.MethodDelete, "/api/run", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportUnknownWorkout(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	resp, _ := env.request(t, http.MethodGet,
		"/api/users/"+user.ID+"/workouts/missing/export", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsHideClientSecret(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	resp, _ := env.request(t, http.MethodPost, "/api/users/"+user.ID+"/settings",
		map[string]string{"strava_client_id": "cid", "strava_client_secret": "sekrit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.request(t, http.MethodGet, "/api/users/"+user.ID+"/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "cid")
	assert.NotContains(t, string(raw), "sekrit")

	var settings map[string]any
	require.NoError(t, json.Unmarshal(raw, &settings))
	assert.Equal(t, false, settings["strava_connected"])
}

func TestWebSocketCommandDecoding(t *testing.T) {
	env := newTestEnv(t)

	sess, cancel := env.srv.hub.Subscribe()
	defer cancel()

	env.srv.handleClientMessage(sess, clientMessage{Type: "command", Cmd: "speed", Value: 130})
	sent := env.link.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, pool.CmdSpeed, sent[0].Op())
	assert.Equal(t, 130, sent[0].Value())

	// Malformed commands are dropped, not sent.
	env.srv.handleClientMessage(sess, clientMessage{Type: "command", Cmd: "warp", Value: 9})
	env.srv.handleClientMessage(sess, clientMessage{Type: "command", Cmd: "timer", Value: 10})
	assert.Len(t, env.link.sentCommands(), 1)

	env.srv.handleClientMessage(sess, clientMessage{Type: "set_user", UserID: "u1"})
	assert.Equal(t, "u1", sess.User())
}
