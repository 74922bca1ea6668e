package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// maxReceiveWait caps how long receive_output holds the connection
const maxReceiveWait = 30 * time.Second

type handlerFunc func(c *conn, params json.RawMessage) (any, error)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.MethodCreateSession:    s.createSession,
		protocol.MethodListSessions:     s.listSessions,
		protocol.MethodGetSession:       s.getSession,
		protocol.MethodAttachSession:    s.attachSession,
		protocol.MethodDetachSession:    s.detachSession,
		protocol.MethodTerminateSession: s.terminateSession,
		protocol.MethodResizeTerminal:   s.resizeTerminal,
		protocol.MethodSendInput:        s.sendInput,
		protocol.MethodReceiveOutput:    s.receiveOutput,
		protocol.MethodGetStatus:        s.getStatus,
	}
}

// dispatch decodes one frame and runs its handler. Every failure,
// including a panic, becomes an error response.
func (c *conn) dispatch(frame []byte) (resp protocol.Response) {
	req, err := protocol.Decode(frame)
	if err != nil {
		c.server.metrics.RecordRequest("invalid", protocol.CodeInvalidRequest, 0)
		return protocol.NewErrorResponse(req.ID, err)
	}

	handler, ok := c.server.handlers[req.Method]
	if !ok {
		c.server.metrics.RecordRequest("unknown", protocol.CodeMethodNotFound, 0)
		return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound(req.Method))
	}

	timer := monitoring.NewTimer(c.server.metrics, req.Method)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			c.afterWrite = nil
			resp = protocol.NewErrorResponse(req.ID, protocol.InternalError("unexpected failure"))
		}
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}
		timer.Stop(code)
	}()

	result, err := handler(c, req.Params)
	if err != nil {
		perr := protocol.FromError(err)
		if perr.Code == protocol.CodeInternalError {
			c.logger.Warn("Request failed", zap.String("method", req.Method), zap.Error(err))
		} else {
			c.logger.Debug("Request rejected", zap.String("method", req.Method), zap.Error(err))
		}
		return protocol.Response{ID: req.ID, Error: perr}
	}

	resp, err = protocol.NewResult(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.InternalError(err.Error()))
	}
	return resp
}

func parseSessionID(raw string) (id.SessionID, error) {
	if raw == "" {
		return "", protocol.InvalidParams("session_id is required")
	}
	return id.SessionID(raw), nil
}

func (c *conn) clientFor(raw string) id.ClientID {
	if raw == "" {
		return c.server.defaultClient(c)
	}
	return id.ClientID(raw)
}

func (s *Server) createSession(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.CreateSessionParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Type.Kind == nil {
		return nil, protocol.InvalidParams("type is required")
	}

	size := s.cfg.DefaultSize
	if params.Cols != nil {
		size.Cols = *params.Cols
	}
	if params.Rows != nil {
		size.Rows = *params.Rows
	}

	opts := session.CreateOptions{
		Name: params.Name,
		Kind: params.Type.Kind,
		Size: size,
	}
	if params.SessionID != "" {
		if !id.ValidSessionID(params.SessionID) {
			return nil, protocol.InvalidParams("session_id must be a UUID")
		}
		opts.ID = id.SessionID(params.SessionID)
	}

	info, err := s.manager.Create(c.ctx, opts)
	if err != nil {
		return nil, err
	}
	return protocol.CreateSessionResult{SessionID: info.ID.String()}, nil
}

func (s *Server) listSessions(c *conn, raw json.RawMessage) (any, error) {
	return protocol.ListSessionsResult{Sessions: protocol.FromInfos(s.manager.List())}, nil
}

func (s *Server) getSession(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.SessionParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}

	info, err := s.manager.Get(sid)
	if err != nil {
		return nil, err
	}
	return protocol.FromInfo(info), nil
}

func (s *Server) attachSession(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.AttachSessionParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}
	client := c.clientFor(params.ClientID)
	attach := func() error { return s.manager.AttachClient(sid, client) }
	detach := func() error { return s.manager.DetachClient(sid, client) }

	c.mu.Lock()
	defer c.mu.Unlock()

	att, ok := c.attachments[sid]
	held := false
	if ok {
		_, held = att.clients[client]
	}
	if held {
		err = attach()
	} else {
		err = s.claims.acquire(sid, client, attach)
	}
	if err != nil {
		return nil, err
	}

	if !ok {
		sub, err := s.manager.Subscribe(sid, params.Replay)
		if err != nil {
			_ = s.claims.release(sid, client, detach)
			return nil, err
		}
		att = &attachment{
			clients: make(map[id.ClientID]struct{}),
			sub:     sub,
		}
		c.attachments[sid] = att
	}
	att.clients[client] = struct{}{}

	if params.Stream && att.stream == nil {
		att.stream = c.startStream(sid, att.sub)
	}
	return struct{}{}, nil
}

func (s *Server) detachSession(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.DetachSessionParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}
	client := c.clientFor(params.ClientID)

	err = s.manager.DetachClient(sid, client)

	// Local bookkeeping is released even when the session is already gone
	c.mu.Lock()
	if att, ok := c.attachments[sid]; ok {
		if _, held := att.clients[client]; held {
			_ = s.claims.release(sid, client, nil)
		}
		delete(att.clients, client)
		if len(att.clients) == 0 {
			if att.stream != nil {
				att.stream()
			}
			att.sub.Close()
			delete(c.attachments, sid)
		}
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) terminateSession(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.SessionParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Terminate(sid); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) resizeTerminal(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.ResizeTerminalParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Resize(sid, terminal.Size{Cols: params.Cols, Rows: params.Rows}); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) sendInput(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.SendInputParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(params.Data)
	if err != nil {
		return nil, protocol.InvalidParams(fmt.Sprintf("data is not valid base64: %v", err))
	}

	n, err := s.manager.SendInput(sid, data)
	if err != nil {
		return nil, err
	}
	return protocol.SendInputResult{BytesWritten: n}, nil
}

func (s *Server) receiveOutput(c *conn, raw json.RawMessage) (any, error) {
	var params protocol.ReceiveOutputParams
	if err := protocol.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sid, err := parseSessionID(params.SessionID)
	if err != nil {
		return nil, err
	}

	att, ok := c.attachmentFor(sid)
	if !ok {
		if _, err := s.manager.Get(sid); err != nil {
			return nil, err
		}
		return nil, protocol.InvalidParams("not attached to session")
	}
	if att.stream != nil {
		return nil, protocol.InvalidParams("output is streamed on this connection")
	}

	if params.TimeoutMs != nil && *params.TimeoutMs > 0 {
		wait := time.Duration(*params.TimeoutMs) * time.Millisecond
		if wait > maxReceiveWait {
			wait = maxReceiveWait
		}
		ctx, cancel := context.WithTimeout(c.ctx, wait)
		// A timeout simply yields an empty read
		_ = att.sub.Wait(ctx)
		cancel()
	}

	chunk, closed := att.sub.Drain()
	return protocol.ReceiveOutputResult{
		Data:      base64.StdEncoding.EncodeToString(chunk.Data),
		BytesRead: len(chunk.Data),
		Missed:    chunk.Missed,
		Closed:    closed,
	}, nil
}

func (s *Server) getStatus(c *conn, raw json.RawMessage) (any, error) {
	return protocol.StatusResult{
		Version:       s.cfg.Version,
		UptimeSeconds: s.uptime(),
		NumSessions:   s.manager.CountSessions(),
		NumClients:    s.manager.CountClients(),
	}, nil
}
