package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
	"github.com/GriffinCanCode/sessiond/internal/testutil"
)

type fixture struct {
	server  *httptest.Server
	manager *session.Manager
	spawner *testutil.FakeSpawner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	spawner := testutil.NewFakeSpawner()
	metrics := monitoring.NewMetrics()
	manager := session.NewManager(spawner, nil, session.DefaultOptions()).WithMetrics(metrics)
	g := New(Config{
		Version:     "1.2.3",
		Development: true,
		DefaultSize: terminal.Size{Cols: 100, Rows: 30},
	}, manager, nil, metrics)

	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		srv.Close()
		manager.TerminateAll(session.ReasonShutdown)
	})
	return &fixture{server: srv, manager: manager, spawner: spawner}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) create(t *testing.T) protocol.SessionInfo {
	t.Helper()
	resp, body := f.do(t, "POST", "/sessions", `{"name":"web","type":"Local"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var info protocol.SessionInfo
	require.NoError(t, json.Unmarshal(body, &info))
	return info
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	resp, body := f.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "1.2.3", health["version"])
	assert.Equal(t, float64(1), health["num_sessions"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	resp, body := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sessiond_sessions_created_total")
	assert.Contains(t, string(body), "sessiond_http_requests_total")
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)

	assert.Equal(t, "web", info.Name)
	assert.Equal(t, "Detached", info.State)
	assert.Equal(t, uint16(100), info.Cols)
	assert.Equal(t, uint16(30), info.Rows)

	resp, body := f.do(t, "GET", "/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list protocol.ListSessionsResult
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, info.ID, list.Sessions[0].ID)

	resp, _ = f.do(t, "GET", "/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, "POST", "/sessions/"+info.ID+"/resize", `{"cols":120,"rows":40}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []terminal.Size{{Cols: 120, Rows: 40}}, f.spawner.Last().Sizes())

	resp, _ = f.do(t, "POST", "/sessions/"+info.ID+"/resize", `{"cols":0,"rows":40}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, "DELETE", "/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, "DELETE", "/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, "GET", "/sessions/"+info.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stopped protocol.SessionInfo
	require.NoError(t, json.Unmarshal(body, &stopped))
	assert.Equal(t, "Stopped", stopped.State)
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "GET", "/sessions/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "1001")

	resp, _ = f.do(t, "POST", "/sessions", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, "POST", "/sessions", `{"type":{"Ssh":{}}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, "POST", "/sessions", `{"type":"Local","session_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	const fixed = "550e8400-e29b-41d4-a716-446655440000"
	resp, _ = f.do(t, "POST", "/sessions", `{"type":"Local","session_id":"`+fixed+`"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = f.do(t, "POST", "/sessions", `{"type":"Local","session_id":"`+fixed+`"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSendInput(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)

	resp, body := f.do(t, "POST", "/sessions/"+info.ID+"/input", "ls\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"bytes_written":3}`, string(body))

	resp, _ = f.do(t, "POST", "/sessions/"+info.ID+"/input?encoding=base64", "aGk=")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, "POST", "/sessions/"+info.ID+"/input?encoding=base64", "***")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, [][]byte{[]byte("ls\n"), []byte("hi")}, f.spawner.Last().Inputs())
}

func wsURL(f *fixture, sid string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + sid
}

func TestWebSocketBridge(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, info.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		got, err := f.manager.Get(sessionID(info.ID))
		return err == nil && got.Clients == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("echo")))

	var out bytes.Buffer
	for out.Len() < 4 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, kind)
		out.Write(data)
	}
	assert.Equal(t, "echo", out.String())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"resize","cols":90,"rows":20}`)))
	require.Eventually(t, func() bool {
		return len(f.spawner.Last().Sizes()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(data), `"type":"error"`)

	require.NoError(t, f.manager.Terminate(sessionID(info.ID)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "session stopped", closeErr.Text)
}

func TestWebSocketDisconnectDetaches(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, info.ID), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.manager.Get(sessionID(info.ID))
		return err == nil && got.State == session.StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		got, err := f.manager.Get(sessionID(info.ID))
		return err == nil && got.Clients == 0 && got.State == session.StateDetached
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f, "missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func sessionID(s string) id.SessionID { return id.SessionID(s) }
