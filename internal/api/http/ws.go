package http

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
)

// Control messages travel as text frames; terminal bytes as binary frames
const (
	controlInput  = "input"
	controlResize = "resize"
	controlMissed = "missed"
	controlError  = "error"
)

type controlMessage struct {
	Type   string `json:"type"`
	Data   string `json:"data,omitempty"`
	Cols   uint16 `json:"cols,omitempty"`
	Rows   uint16 `json:"rows,omitempty"`
	Missed uint64 `json:"missed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// wsBridge couples one websocket to one session as an attached client
type wsBridge struct {
	gateway *Gateway
	conn    *websocket.Conn
	sid     id.SessionID
	client  id.ClientID
	logger  *zap.Logger

	writeMu sync.Mutex
}

// handleWebSocket upgrades to a websocket attached to the session. Output
// is sent as binary frames; binary frames received are written as input.
// Text frames carry JSON control messages.
func (g *Gateway) handleWebSocket(c *gin.Context) {
	sid := id.SessionID(c.Param("session_id"))
	if _, err := g.manager.Get(sid); err != nil {
		g.abortWithError(c, err)
		return
	}
	replay := c.Query("replay") == "true" || c.Query("replay") == "1"

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	g.track(conn)
	defer g.untrack(conn)
	g.metrics.WSOpened()
	defer g.metrics.WSClosed()

	b := &wsBridge{
		gateway: g,
		conn:    conn,
		sid:     sid,
		client:  id.NewClientID(id.WebSocketPrefix),
	}
	b.logger = g.logger.ForSession(sid.String()).With(zap.String("client_id", b.client.String()))
	b.run(replay)
}

func (b *wsBridge) run(replay bool) {
	manager := b.gateway.manager

	if err := manager.AttachClient(b.sid, b.client); err != nil {
		b.closeWith(websocket.CloseTryAgainLater, err.Error())
		return
	}
	defer func() {
		if err := manager.DetachClient(b.sid, b.client); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			b.logger.Debug("Detach failed", zap.Error(err))
		}
	}()

	sub, err := manager.Subscribe(b.sid, replay)
	if err != nil {
		b.closeWith(websocket.CloseTryAgainLater, err.Error())
		return
	}
	defer sub.Close()

	b.logger.Info("WebSocket attached")

	ctx, cancel := context.WithCancel(context.Background())
	written := make(chan struct{})
	go func() {
		defer close(written)
		b.writePump(ctx, sub)
	}()
	go b.pingPump(ctx)

	b.readPump()
	cancel()
	<-written

	b.logger.Info("WebSocket detached")
}

func (b *wsBridge) readPump() {
	b.conn.SetReadLimit(wsMaxMessageSize)
	_ = b.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		kind, message, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}
		b.gateway.metrics.RecordWSMessage("in")

		switch kind {
		case websocket.BinaryMessage:
			b.input(message)
		case websocket.TextMessage:
			b.control(message)
		}
	}
}

func (b *wsBridge) input(data []byte) {
	if _, err := b.gateway.manager.SendInput(b.sid, data); err != nil {
		b.sendControl(controlMessage{Type: controlError, Error: err.Error()})
	}
}

func (b *wsBridge) control(message []byte) {
	var msg controlMessage
	if err := sonic.ConfigStd.Unmarshal(message, &msg); err != nil {
		b.sendControl(controlMessage{Type: controlError, Error: "invalid control message"})
		return
	}

	switch msg.Type {
	case controlInput:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			b.sendControl(controlMessage{Type: controlError, Error: "data is not valid base64"})
			return
		}
		b.input(data)
	case controlResize:
		size := terminal.Size{Cols: msg.Cols, Rows: msg.Rows}
		if err := b.gateway.manager.Resize(b.sid, size); err != nil {
			b.sendControl(controlMessage{Type: controlError, Error: err.Error()})
		}
	default:
		b.sendControl(controlMessage{Type: controlError, Error: "unknown control message: " + msg.Type})
	}
}

// writePump forwards session output until the session stops or ctx ends
func (b *wsBridge) writePump(ctx context.Context, sub *session.Subscriber) {
	for {
		chunk, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, session.ErrClosed) {
				b.closeWith(websocket.CloseNormalClosure, "session stopped")
				// Bound the wait for the peer's close reply
				_ = b.conn.SetReadDeadline(time.Now().Add(wsWriteWait))
			}
			return
		}

		if chunk.Missed > 0 {
			b.sendControl(controlMessage{Type: controlMissed, Missed: chunk.Missed})
		}
		if !b.write(websocket.BinaryMessage, chunk.Data) {
			return
		}
	}
}

func (b *wsBridge) pingPump(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (b *wsBridge) sendControl(msg controlMessage) {
	data, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return
	}
	b.write(websocket.TextMessage, data)
}

// write serializes data frames; pings and close frames use WriteControl,
// which is safe alongside it
func (b *wsBridge) write(kind int, data []byte) bool {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_ = b.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := b.conn.WriteMessage(kind, data); err != nil {
		b.logger.Debug("WebSocket write failed", zap.Error(err))
		return false
	}
	b.gateway.metrics.RecordWSMessage("out")
	return true
}

func (b *wsBridge) closeWith(code int, reason string) {
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
}
