package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

const writeTimeout = 10 * time.Second

// attachment is this connection's view of one session: the clients it
// attached and the output subscription shared by them
type attachment struct {
	clients map[id.ClientID]struct{}
	sub     *session.Subscriber
	stream  context.CancelFunc
}

// conn is one accepted client connection. Requests are handled strictly
// in arrival order; output events are written concurrently under writeMu.
type conn struct {
	id      id.ConnectionID
	nc      net.Conn
	server  *Server
	logger  *zap.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu          sync.Mutex
	attachments map[id.SessionID]*attachment // Protected by mu

	afterWrite []func()
	streams    sync.WaitGroup
	stopping   atomic.Bool
}

func newConn(s *Server, nc net.Conn) *conn {
	connID := id.NewConnectionID()
	ctx, cancel := context.WithCancel(context.Background())

	limit := rate.Inf
	if s.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(s.cfg.RequestsPerSecond)
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &conn{
		id:          connID,
		nc:          nc,
		server:      s,
		logger:      s.logger.ForConnection(connID.String()),
		limiter:     rate.NewLimiter(limit, burst),
		ctx:         ctx,
		cancel:      cancel,
		attachments: make(map[id.SessionID]*attachment),
	}
}

func (c *conn) serve() {
	c.logger.Debug("Connection opened")
	defer c.close()

	frames := newFrameReader(c.nc, c.server.cfg.MaxMessageSize)
	for {
		frame, err := frames.Next()
		if errors.Is(err, errFrameTooLarge) {
			c.server.metrics.OversizedFrame()
			c.logger.Warn("Oversized message rejected", zap.Int("limit", c.server.cfg.MaxMessageSize))
			perr := protocol.NewError(protocol.CodeInvalidRequest,
				"Invalid request: message exceeds %d bytes", c.server.cfg.MaxMessageSize)
			c.writeResponse(protocol.Response{ID: protocol.UnknownID, Error: perr})
			continue
		}
		if err != nil {
			if !isClosedConn(err) && !c.stopping.Load() {
				c.logger.Debug("Read failed", zap.Error(err))
			}
			return
		}

		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}

		resp := c.dispatch(frame)
		if !c.writeResponse(resp) {
			return
		}
		c.runAfterWrite()
	}
}

// interrupt wakes an idle read so the loop exits once the current request
// is answered
func (c *conn) interrupt() {
	c.stopping.Store(true)
	_ = c.nc.SetReadDeadline(time.Now())
}

// forceClose abandons in-flight work
func (c *conn) forceClose() {
	c.stopping.Store(true)
	c.cancel()
	c.nc.Close()
}

// close releases everything the connection holds. Disconnecting is an
// implicit detach of every client attached through this connection, unless
// another live connection attached the same client id.
func (c *conn) close() {
	c.cancel()
	c.nc.Close()
	c.streams.Wait()

	c.mu.Lock()
	attachments := c.attachments
	c.attachments = make(map[id.SessionID]*attachment)
	c.mu.Unlock()

	for sid, att := range attachments {
		att.sub.Close()
		for client := range att.clients {
			detach := func() error { return c.server.manager.DetachClient(sid, client) }
			if err := c.server.claims.release(sid, client, detach); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				c.logger.Warn("Implicit detach failed", zap.String("session_id", sid.String()), zap.Error(err))
			}
		}
	}
	c.logger.Debug("Connection closed", zap.Int("detached_sessions", len(attachments)))
}

func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

func (c *conn) writeResponse(resp protocol.Response) bool {
	return c.writeFrame(resp)
}

func (c *conn) writeFrame(v any) bool {
	frame, err := protocol.Encode(v)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.Error(err))
		return true
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.nc.Write(frame); err != nil {
		if !isClosedConn(err) {
			c.logger.Debug("Write failed", zap.Error(err))
		}
		return false
	}
	return true
}

// after schedules fn to run once the current response has been written
func (c *conn) after(fn func()) {
	c.afterWrite = append(c.afterWrite, fn)
}

func (c *conn) runAfterWrite() {
	pending := c.afterWrite
	c.afterWrite = nil
	for _, fn := range pending {
		fn()
	}
}

func (c *conn) attachmentFor(sid id.SessionID) (*attachment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	att, ok := c.attachments[sid]
	return att, ok
}

// startStream pushes the subscription's output as events until the
// session stops or the connection ends
func (c *conn) startStream(sid id.SessionID, sub *session.Subscriber) context.CancelFunc {
	ctx, cancel := context.WithCancel(c.ctx)

	c.after(func() {
		c.streams.Add(1)
		go func() {
			defer c.streams.Done()
			c.pump(ctx, sid, sub)
		}()
	})
	return cancel
}

func (c *conn) pump(ctx context.Context, sid id.SessionID, sub *session.Subscriber) {
	for {
		chunk, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, session.ErrClosed) && ctx.Err() == nil {
				c.writeFrame(protocol.Event{Event: protocol.EventClosed, SessionID: sid.String()})
			}
			return
		}

		event := protocol.Event{
			Event:     protocol.EventOutput,
			SessionID: sid.String(),
			Data:      base64.StdEncoding.EncodeToString(chunk.Data),
			Missed:    chunk.Missed,
		}
		if !c.writeFrame(event) {
			return
		}
	}
}
