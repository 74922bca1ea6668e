// Package client is a Go client for the daemon's IPC socket.
package client

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
)

// ErrClosed is returned for calls on a closed client
var ErrClosed = errors.New("client closed")

const (
	maxFrameSize = 16 * 1024 * 1024
	eventBuffer  = 256
)

// Client multiplexes calls over one connection. Responses are matched to
// calls by id; pushed events are delivered on Events.
type Client struct {
	conn   net.Conn
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response // Protected by mu
	err     error                             // Protected by mu

	events    chan protocol.Event
	done      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the daemon socket
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return New(conn), nil
}

// New wraps an established connection
func New(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.Response),
		events:  make(chan protocol.Event, eventBuffer),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events delivers pushed output and closed events. When the consumer falls
// behind, output events are dropped and their byte count is added to the
// Missed of the next event for that session; closed events are never
// dropped. The channel is closed when the connection ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var failure error
	missed := make(map[string]uint64)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, event, isEvent, err := protocol.DecodeResponse(line)
		if err != nil {
			failure = fmt.Errorf("malformed frame from daemon: %w", err)
			break
		}
		if isEvent {
			if !c.dispatchEvent(event, missed) {
				break
			}
			continue
		}
		if resp.Error != nil && (resp.ID == protocol.UnknownID || resp.ID == "") {
			// The daemon could not read the frame's id; requests are answered
			// in order, so the error belongs to the oldest outstanding call.
			// With none outstanding it precedes a close by the daemon.
			if !c.deliverOldest(resp) {
				failure = resp.Error
			}
			continue
		}
		c.deliver(resp)
	}

	if failure == nil {
		failure = scanner.Err()
	}
	if failure == nil {
		failure = ErrClosed
	}
	c.fail(failure)
}

// dispatchEvent hands event to the consumer. It reports false when the
// client is closing.
func (c *Client) dispatchEvent(event protocol.Event, missed map[string]uint64) bool {
	event.Missed += missed[event.SessionID]

	if event.Event == protocol.EventClosed {
		delete(missed, event.SessionID)
		select {
		case c.events <- event:
			return true
		case <-c.quit:
			return false
		}
	}

	select {
	case c.events <- event:
		delete(missed, event.SessionID)
	default:
		missed[event.SessionID] = event.Missed + uint64(base64.StdEncoding.DecodedLen(len(event.Data))) - padding(event.Data)
	}
	return true
}

func padding(data string) uint64 {
	var n uint64
	for i := len(data) - 1; i >= 0 && data[i] == '='; i-- {
		n++
	}
	return n
}

func (c *Client) deliverOldest(resp protocol.Response) bool {
	c.mu.Lock()
	oldest, key := uint64(0), ""
	for k := range c.pending {
		n, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		if key == "" || n < oldest {
			oldest, key = n, k
		}
	}
	c.mu.Unlock()

	if key == "" {
		return false
	}
	resp.ID = key
	c.deliver(resp)
	return true
}

func (c *Client) deliver(resp protocol.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
}

// Call sends one request and decodes its result into result, which may be
// nil. Daemon errors are returned as *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	reqID := strconv.FormatUint(c.nextID.Add(1), 10)

	raw, err := protocol.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	frame, err := protocol.Encode(protocol.Request{ID: reqID, Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[reqID] = ch
	c.mu.Unlock()

	if err := c.write(ctx, frame); err != nil {
		c.forget(reqID)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return c.Err()
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return protocol.UnmarshalResult(resp, result)
	case <-ctx.Done():
		c.forget(reqID)
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func (c *Client) forget(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// CreateOptions describes a new session
type CreateOptions struct {
	Name      string
	Kind      terminal.Kind
	Cols      uint16
	Rows      uint16
	SessionID string
}

// CreateSession starts a session and returns its id
func (c *Client) CreateSession(ctx context.Context, opts CreateOptions) (string, error) {
	params := protocol.CreateSessionParams{
		Name:      opts.Name,
		Type:      protocol.NewKind(opts.Kind),
		SessionID: opts.SessionID,
	}
	if opts.Cols > 0 {
		params.Cols = &opts.Cols
	}
	if opts.Rows > 0 {
		params.Rows = &opts.Rows
	}

	var result protocol.CreateSessionResult
	if err := c.Call(ctx, protocol.MethodCreateSession, params, &result); err != nil {
		return "", err
	}
	return result.SessionID, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]protocol.SessionInfo, error) {
	var result protocol.ListSessionsResult
	if err := c.Call(ctx, protocol.MethodListSessions, struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (protocol.SessionInfo, error) {
	var result protocol.SessionInfo
	err := c.Call(ctx, protocol.MethodGetSession, protocol.SessionParams{SessionID: sessionID}, &result)
	return result, err
}

// Attach registers a client on the session. With stream set, output
// arrives as events.
func (c *Client) Attach(ctx context.Context, params protocol.AttachSessionParams) error {
	return c.Call(ctx, protocol.MethodAttachSession, params, nil)
}

func (c *Client) Detach(ctx context.Context, sessionID, clientID string) error {
	return c.Call(ctx, protocol.MethodDetachSession,
		protocol.DetachSessionParams{SessionID: sessionID, ClientID: clientID}, nil)
}

func (c *Client) Terminate(ctx context.Context, sessionID string) error {
	return c.Call(ctx, protocol.MethodTerminateSession, protocol.SessionParams{SessionID: sessionID}, nil)
}

func (c *Client) Resize(ctx context.Context, sessionID string, cols, rows uint16) error {
	return c.Call(ctx, protocol.MethodResizeTerminal,
		protocol.ResizeTerminalParams{SessionID: sessionID, Cols: cols, Rows: rows}, nil)
}

// SendInput writes raw bytes to the session
func (c *Client) SendInput(ctx context.Context, sessionID string, data []byte) (int, error) {
	var result protocol.SendInputResult
	err := c.Call(ctx, protocol.MethodSendInput, protocol.SendInputParams{
		SessionID: sessionID,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, &result)
	return result.BytesWritten, err
}

// Output is one decoded receive_output result
type Output struct {
	Data   []byte
	Missed uint64
	Closed bool
}

// ReceiveOutput polls queued output, waiting up to timeout when none is
// queued
func (c *Client) ReceiveOutput(ctx context.Context, sessionID string, timeout time.Duration) (Output, error) {
	params := protocol.ReceiveOutputParams{SessionID: sessionID}
	if timeout > 0 {
		ms := uint64(timeout / time.Millisecond)
		params.TimeoutMs = &ms
	}

	var result protocol.ReceiveOutputResult
	if err := c.Call(ctx, protocol.MethodReceiveOutput, params, &result); err != nil {
		return Output{}, err
	}
	data, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return Output{}, fmt.Errorf("daemon sent invalid output: %w", err)
	}
	return Output{Data: data, Missed: result.Missed, Closed: result.Closed}, nil
}

func (c *Client) Status(ctx context.Context) (protocol.StatusResult, error) {
	var result protocol.StatusResult
	err := c.Call(ctx, protocol.MethodGetStatus, struct{}{}, &result)
	return result, err
}

// DecodeEvent returns the raw bytes of an output event
func DecodeEvent(event protocol.Event) ([]byte, error) {
	if event.Data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(event.Data)
}
