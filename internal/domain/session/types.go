package session

import (
	"time"

	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// State represents a session lifecycle state
type State string

const (
	StateRunning  State = "Running"
	StateDetached State = "Detached"
	StateStopped  State = "Stopped"
)

// Stop reasons, used as metric labels
const (
	ReasonRequested = "requested"
	ReasonExited    = "exited"
	ReasonError     = "error"
	ReasonShutdown  = "shutdown"
)

// Info is a point-in-time snapshot of a session
type Info struct {
	ID         id.SessionID
	Name       string
	Kind       terminal.Kind
	State      State
	Clients    int
	Size       terminal.Size
	CreatedAt  time.Time
	LastActive time.Time
	StoppedAt  time.Time
	ExitReason string
}

// CreateOptions describes a new session
type CreateOptions struct {
	// ID requests a specific identifier; a random one is generated when empty
	ID   id.SessionID
	Name string
	Kind terminal.Kind
	Size terminal.Size
}

// Chunk is one unit of output delivered to a subscriber. Missed counts the
// bytes discarded for this subscriber since the previous chunk.
type Chunk struct {
	Data   []byte
	Missed uint64
}
