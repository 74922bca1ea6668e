package protocol

import (
	"time"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
)

// Methods
const (
	MethodCreateSession    = "create_session"
	MethodListSessions     = "list_sessions"
	MethodGetSession       = "get_session"
	MethodAttachSession    = "attach_session"
	MethodDetachSession    = "detach_session"
	MethodTerminateSession = "terminate_session"
	MethodResizeTerminal   = "resize_terminal"
	MethodSendInput        = "send_input"
	MethodReceiveOutput    = "receive_output"
	MethodGetStatus        = "get_status"
)

// CreateSessionParams for create_session. Cols and rows fall back to the
// daemon defaults; SessionID requests a deterministic identifier.
type CreateSessionParams struct {
	Name      string  `json:"name"`
	Type      Kind    `json:"type"`
	Cols      *uint16 `json:"cols,omitempty"`
	Rows      *uint16 `json:"rows,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
}

type CreateSessionResult struct {
	SessionID string `json:"session_id"`
}

// SessionParams addresses one session
type SessionParams struct {
	SessionID string `json:"session_id"`
}

// AttachSessionParams for attach_session. ClientID defaults to the
// connection; Stream pushes output events; Replay sends scrollback first.
type AttachSessionParams struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
	Replay    bool   `json:"replay,omitempty"`
}

type DetachSessionParams struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id,omitempty"`
}

type ResizeTerminalParams struct {
	SessionID string `json:"session_id"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

// SendInputParams carries base64 encoded input
type SendInputParams struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

type SendInputResult struct {
	BytesWritten int `json:"bytes_written"`
}

// ReceiveOutputParams waits up to TimeoutMs for output when none is queued
type ReceiveOutputParams struct {
	SessionID string  `json:"session_id"`
	TimeoutMs *uint64 `json:"timeout_ms,omitempty"`
}

type ReceiveOutputResult struct {
	Data      string `json:"data"`
	BytesRead int    `json:"bytes_read"`
	Missed    uint64 `json:"missed"`
	Closed    bool   `json:"closed"`
}

type ListSessionsResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

type StatusResult struct {
	Version       string `json:"version"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
	NumSessions   int    `json:"num_sessions"`
	NumClients    int    `json:"num_clients"`
}

// SessionInfo is the wire snapshot of a session
type SessionInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	SessionType Kind       `json:"session_type"`
	State       string     `json:"state"`
	NumClients  int        `json:"num_clients"`
	Cols        uint16     `json:"cols"`
	Rows        uint16     `json:"rows"`
	CreatedAt   time.Time  `json:"created_at"`
	LastActive  time.Time  `json:"last_active"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	ExitReason  string     `json:"exit_reason,omitempty"`
}

// FromInfo converts a domain snapshot
func FromInfo(info session.Info) SessionInfo {
	out := SessionInfo{
		ID:          info.ID.String(),
		Name:        info.Name,
		SessionType: NewKind(info.Kind),
		State:       string(info.State),
		NumClients:  info.Clients,
		Cols:        info.Size.Cols,
		Rows:        info.Size.Rows,
		CreatedAt:   info.CreatedAt.UTC(),
		LastActive:  info.LastActive.UTC(),
		ExitReason:  info.ExitReason,
	}
	if !info.StoppedAt.IsZero() {
		stopped := info.StoppedAt.UTC()
		out.StoppedAt = &stopped
	}
	return out
}

// FromInfos converts a list of snapshots
func FromInfos(infos []session.Info) []SessionInfo {
	out := make([]SessionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, FromInfo(info))
	}
	return out
}
