package session

import (
	"errors"

	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionStopped  = errors.New("session is stopped")
	ErrClosed          = errors.New("subscription closed")

	ErrInvalidKind = terminal.ErrInvalidKind
	ErrInvalidSize = terminal.ErrInvalidSize
)
