package http

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// maxInputBody bounds POST /sessions/:id/input
const maxInputBody = 1 << 20

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        g.cfg.Version,
		"uptime_seconds": uint64(time.Since(g.started).Seconds()),
		"num_sessions":   g.manager.CountSessions(),
		"num_clients":    g.manager.CountClients(),
	})
}

func (g *Gateway) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, protocol.ListSessionsResult{
		Sessions: protocol.FromInfos(g.manager.List()),
	})
}

func (g *Gateway) getSession(c *gin.Context) {
	info, err := g.manager.Get(id.SessionID(c.Param("session_id")))
	if err != nil {
		g.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.FromInfo(info))
}

func (g *Gateway) createSession(c *gin.Context) {
	var params protocol.CreateSessionParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if params.Type.Kind == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}

	size := g.cfg.DefaultSize
	if params.Cols != nil {
		size.Cols = *params.Cols
	}
	if params.Rows != nil {
		size.Rows = *params.Rows
	}

	opts := session.CreateOptions{Name: params.Name, Kind: params.Type.Kind, Size: size}
	if params.SessionID != "" {
		if !id.ValidSessionID(params.SessionID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id must be a UUID"})
			return
		}
		opts.ID = id.SessionID(params.SessionID)
	}

	info, err := g.manager.Create(c.Request.Context(), opts)
	if err != nil {
		g.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, protocol.FromInfo(info))
}

func (g *Gateway) terminateSession(c *gin.Context) {
	if err := g.manager.Terminate(id.SessionID(c.Param("session_id"))); err != nil {
		g.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) resizeSession(c *gin.Context) {
	var body struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	size := terminal.Size{Cols: body.Cols, Rows: body.Rows}
	if err := g.manager.Resize(id.SessionID(c.Param("session_id")), size); err != nil {
		g.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// sendInput writes the raw request body, or base64 text when called with
// ?encoding=base64
func (g *Gateway) sendInput(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInputBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.Query("encoding") == "base64" {
		if data, err = base64.StdEncoding.DecodeString(string(data)); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "data is not valid base64"})
			return
		}
	}

	n, err := g.manager.SendInput(id.SessionID(c.Param("session_id")), data)
	if err != nil {
		g.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.SendInputResult{BytesWritten: n})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionStopped), errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidKind), errors.Is(err, session.ErrInvalidSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	perr := protocol.FromError(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": perr.Message,
		"code":  perr.Code,
	})
}
