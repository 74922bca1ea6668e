package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/sessiond/internal/client"
	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/testutil"
)

type harness struct {
	server  *Server
	manager *session.Manager
	spawner *testutil.FakeSpawner
	path    string
	cancel  context.CancelFunc
	served  chan error
}

// socketPath stays short; unix socket paths are limited to ~100 bytes
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	return startServerWith(t, testutil.NewFakeSpawner(), configure)
}

func startServerWith(t *testing.T, spawner *testutil.FakeSpawner, configure func(*Config)) *harness {
	t.Helper()

	manager := session.NewManager(spawner, nil, session.DefaultOptions())

	cfg := DefaultConfig(socketPath(t))
	cfg.ShutdownGrace = time.Second
	if configure != nil {
		configure(&cfg)
	}

	srv := New(cfg, manager, nil).WithMetrics(monitoring.NewMetrics())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		server:  srv,
		manager: manager,
		spawner: spawner,
		path:    cfg.SocketPath,
		cancel:  cancel,
		served:  make(chan error, 1),
	}
	go func() { h.served <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		h.stop(t)
		manager.TerminateAll(session.ReasonShutdown)
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	h.cancel()
	select {
	case err := <-h.served:
		assert.NoError(t, err)
		h.served <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func (h *harness) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, h.path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// rawConn speaks frames directly, for inputs the client never produces
type rawConn struct {
	nc net.Conn
	r  *bufio.Reader
}

func (h *harness) raw(t *testing.T) *rawConn {
	t.Helper()
	nc, err := net.Dial("unix", h.path)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return &rawConn{nc: nc, r: bufio.NewReader(nc)}
}

func (rc *rawConn) roundTrip(t *testing.T, line string) protocol.Response {
	t.Helper()
	_, err := rc.nc.Write([]byte(line + "\n"))
	require.NoError(t, err)
	return rc.read(t)
}

func (rc *rawConn) read(t *testing.T) protocol.Response {
	t.Helper()
	require.NoError(t, rc.nc.SetReadDeadline(time.Now().Add(3*time.Second)))
	line, err := rc.r.ReadBytes('\n')
	require.NoError(t, err)
	resp, _, isEvent, err := protocol.DecodeResponse(line)
	require.NoError(t, err)
	require.False(t, isEvent)
	return resp
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr), "expected protocol error, got %v", err)
	assert.Equal(t, code, perr.Code)
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateListGet(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Name: "dev", Kind: terminal.Local{}})
	require.NoError(t, err)

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sid, sessions[0].ID)

	info, err := c.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "dev", info.Name)
	assert.Equal(t, "Detached", info.State)
	assert.Equal(t, uint16(80), info.Cols)
	assert.Equal(t, uint16(24), info.Rows)
	assert.Equal(t, terminal.TypeLocal, info.SessionType.Type())

	_, err = c.GetSession(ctx, "does-not-exist")
	requireCode(t, err, protocol.CodeSessionNotFound)
}

func TestCreateWithExplicitID(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	const fixed = "550e8400-e29b-41d4-a716-446655440000"
	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}, SessionID: fixed, Cols: 120, Rows: 40})
	require.NoError(t, err)
	assert.Equal(t, fixed, sid)

	info, err := c.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, uint16(120), info.Cols)
	assert.Equal(t, "session-550e8400", info.Name)

	_, err = c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}, SessionID: fixed})
	requireCode(t, err, protocol.CodeSessionExists)

	_, err = c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}, SessionID: "not-a-uuid"})
	requireCode(t, err, protocol.CodeInvalidParams)
}

func TestCreateInvalidParams(t *testing.T) {
	h := startServer(t, nil)
	rc := h.raw(t)

	resp := rc.roundTrip(t, `{"id":"1","method":"create_session","params":{"name":"x"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)

	resp = rc.roundTrip(t, `{"id":"2","method":"create_session","params":{"type":"Telnet"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)

	resp = rc.roundTrip(t, `{"id":"3","method":"create_session","params":{"type":"Local","cols":0}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestCreateSpawnFailure(t *testing.T) {
	spawner := testutil.NewFakeSpawner()
	spawner.Err = errors.New("no pty")
	h := startServerWith(t, spawner, nil)
	c := h.dial(t)

	_, err := c.CreateSession(ctxTimeout(t), client.CreateOptions{Kind: terminal.Local{}})
	requireCode(t, err, protocol.CodeInternalError)
	assert.Contains(t, err.Error(), "no pty")
	assert.Equal(t, 0, h.manager.CountSessions())
}

func TestUnknownMethodKeepsConnection(t *testing.T) {
	h := startServer(t, nil)
	rc := h.raw(t)

	resp := rc.roundTrip(t, `{"id":"7","method":"bogus"}`)
	assert.Equal(t, "7", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)

	resp = rc.roundTrip(t, `{"id":"8","method":"get_status"}`)
	assert.Equal(t, "8", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestMalformedFrames(t *testing.T) {
	h := startServer(t, nil)
	rc := h.raw(t)

	resp := rc.roundTrip(t, `{not json`)
	assert.Equal(t, protocol.UnknownID, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)

	resp = rc.roundTrip(t, `{"id":"1"}`)
	assert.Equal(t, "1", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)

	resp = rc.roundTrip(t, `{"id":"2","method":"get_status","params":null}`)
	assert.Nil(t, resp.Error)
}

func TestOversizedFrameRejected(t *testing.T) {
	h := startServer(t, func(cfg *Config) { cfg.MaxMessageSize = 1024 })
	rc := h.raw(t)

	big := `{"id":"1","method":"get_status","params":{"pad":"` + strings.Repeat("x", 4096) + `"}}`
	resp := rc.roundTrip(t, big)
	assert.Equal(t, protocol.UnknownID, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "1024")

	resp = rc.roundTrip(t, `{"id":"2","method":"get_status"}`)
	assert.Equal(t, "2", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestConnectionLimit(t *testing.T) {
	h := startServer(t, func(cfg *Config) { cfg.MaxConnections = 1 })

	first := h.dial(t)
	_, err := first.Status(ctxTimeout(t))
	require.NoError(t, err)

	rc := h.raw(t)
	resp := rc.read(t)
	assert.Equal(t, protocol.UnknownID, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "too many connections")

	_, err = rc.r.ReadByte()
	assert.Error(t, err)

	// The rejected connection never counted against the limit
	_, err = first.Status(ctxTimeout(t))
	assert.NoError(t, err)
}

func TestAttachDetach(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)

	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid}))
	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid, ClientID: "second"}))

	info, err := c.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "Running", info.State)
	assert.Equal(t, 2, info.NumClients)

	require.NoError(t, c.Detach(ctx, sid, "second"))
	require.NoError(t, c.Detach(ctx, sid, ""))

	info, err = c.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "Detached", info.State)
	assert.Equal(t, 0, info.NumClients)

	err = c.Attach(ctx, protocol.AttachSessionParams{SessionID: "missing"})
	requireCode(t, err, protocol.CodeSessionNotFound)
}

func TestDisconnectDetachesClients(t *testing.T) {
	h := startServer(t, nil)
	observer := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := observer.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)

	c := h.dial(t)
	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid}))
	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid, ClientID: "extra"}))
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		info, err := observer.GetSession(ctx, sid)
		return err == nil && info.NumClients == 0 && info.State == "Detached"
	}, 3*time.Second, 10*time.Millisecond)

	// The session survives its clients
	info, err := observer.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, info.ExitReason)
}

func TestDisconnectKeepsClientHeldElsewhere(t *testing.T) {
	h := startServer(t, nil)
	observer := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := observer.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)

	first := h.dial(t)
	second := h.dial(t)
	require.NoError(t, first.Attach(ctx, protocol.AttachSessionParams{SessionID: sid, ClientID: "shared"}))
	require.NoError(t, second.Attach(ctx, protocol.AttachSessionParams{SessionID: sid, ClientID: "shared"}))
	require.NoError(t, first.Close())

	// Give the first connection's teardown time to run
	time.Sleep(100 * time.Millisecond)
	info, err := observer.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, info.NumClients)
	assert.Equal(t, "Running", info.State)

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool {
		info, err := observer.GetSession(ctx, sid)
		return err == nil && info.NumClients == 0 && info.State == "Detached"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStreamedOutput(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)
	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid, Stream: true}))

	n, err := c.SendInput(ctx, sid, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	var got []byte
	for len(got) < 5 {
		select {
		case event := <-c.Events():
			require.Equal(t, protocol.EventOutput, event.Event)
			assert.Equal(t, sid, event.SessionID)
			data, err := client.DecodeEvent(event)
			require.NoError(t, err)
			got = append(got, data...)
		case <-time.After(3 * time.Second):
			t.Fatal("no output event")
		}
	}
	assert.Equal(t, "hello", string(got))

	require.NoError(t, c.Terminate(ctx, sid))

	select {
	case event := <-c.Events():
		assert.Equal(t, protocol.EventClosed, event.Event)
		assert.Equal(t, sid, event.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("no closed event")
	}

	info, err := c.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "Stopped", info.State)
	assert.NotNil(t, info.StoppedAt)
}

func TestReceiveOutput(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)

	_, err = c.ReceiveOutput(ctx, sid, 0)
	requireCode(t, err, protocol.CodeInvalidParams)

	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid}))

	out, err := c.ReceiveOutput(ctx, sid, 0)
	require.NoError(t, err)
	assert.Empty(t, out.Data)
	assert.False(t, out.Closed)

	_, err = c.SendInput(ctx, sid, []byte("ping"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		out, err := c.ReceiveOutput(ctx, sid, 200*time.Millisecond)
		if err != nil {
			return false
		}
		got = append(got, out.Data...)
		return len(got) >= 4
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ping", string(got))

	h.spawner.Last().Hangup(nil)
	require.Eventually(t, func() bool {
		out, err := c.ReceiveOutput(ctx, sid, 100*time.Millisecond)
		return err == nil && out.Closed
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReceiveOutputWhileStreaming(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)
	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid, Stream: true}))

	_, err = c.ReceiveOutput(ctx, sid, 0)
	requireCode(t, err, protocol.CodeInvalidParams)
}

func TestSendInputValidation(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)

	rc := h.raw(t)
	resp := rc.roundTrip(t, `{"id":"1","method":"send_input","params":{"session_id":"`+sid+`","data":"!!!"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)

	resp = rc.roundTrip(t, `{"id":"2","method":"send_input","params":{"data":"aGk="}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)

	_, err = c.SendInput(ctx, "missing", []byte("x"))
	requireCode(t, err, protocol.CodeSessionNotFound)
}

func TestResizeAndTerminate(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	ctx := ctxTimeout(t)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)

	require.NoError(t, c.Resize(ctx, sid, 132, 50))
	assert.Equal(t, []terminal.Size{{Cols: 132, Rows: 50}}, h.spawner.Last().Sizes())

	err = c.Resize(ctx, sid, 0, 50)
	requireCode(t, err, protocol.CodeInvalidParams)

	require.NoError(t, c.Terminate(ctx, sid))
	require.NoError(t, c.Terminate(ctx, sid))
	assert.True(t, h.spawner.Last().ClosedByCaller())

	err = c.Resize(ctx, sid, 100, 30)
	requireCode(t, err, protocol.CodeSessionNotFound)

	err = c.Terminate(ctx, "missing")
	requireCode(t, err, protocol.CodeSessionNotFound)
}

func TestStatus(t *testing.T) {
	h := startServer(t, func(cfg *Config) { cfg.Version = "9.9.9" })
	c := h.dial(t)
	ctx := ctxTimeout(t)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", status.Version)
	assert.Equal(t, 0, status.NumSessions)

	sid, err := c.CreateSession(ctx, client.CreateOptions{Kind: terminal.Local{}})
	require.NoError(t, err)
	require.NoError(t, c.Attach(ctx, protocol.AttachSessionParams{SessionID: sid}))

	status, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumSessions)
	assert.Equal(t, 1, status.NumClients)
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := socketPath(t)

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)

	manager := session.NewManager(testutil.NewFakeSpawner(), nil, session.DefaultOptions())
	srv := New(DefaultConfig(path), manager, nil)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestListenRefusesLiveDaemon(t *testing.T) {
	h := startServer(t, nil)

	manager := session.NewManager(testutil.NewFakeSpawner(), nil, session.DefaultOptions())
	second := New(DefaultConfig(h.path), manager, nil)
	err := second.Listen()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = os.Stat(h.path)
	assert.NoError(t, err)
}

func TestShutdownRemovesSocket(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)

	_, err := c.Status(ctxTimeout(t))
	require.NoError(t, err)

	h.stop(t)

	_, err = os.Stat(h.path)
	assert.True(t, os.IsNotExist(err))

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client connection was not closed")
	}
	assert.Equal(t, 0, h.server.ConnectionCount())
}
