package terminal

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKind reports a session kind with missing or malformed fields
	ErrInvalidKind = errors.New("invalid session kind")
	// ErrInvalidSize reports zero terminal dimensions
	ErrInvalidSize = errors.New("invalid terminal size")
)

// Kind type names as they appear on the wire
const (
	TypeLocal  = "Local"
	TypeSSH    = "Ssh"
	TypeSerial = "Serial"
)

// Kind selects how a session's endpoint is started. The set of variants
// is closed: Local, SSH and Serial.
type Kind interface {
	Type() string
	Validate() error
	sealed()
}

// Local runs a shell on a pseudo-terminal
type Local struct {
	Shell string
}

// SSH opens an interactive shell on a remote host
type SSH struct {
	Host string
	Port int
	User string
}

// Serial attaches to a serial line device
type Serial struct {
	Device string
	Baud   int
}

func (Local) Type() string  { return TypeLocal }
func (SSH) Type() string    { return TypeSSH }
func (Serial) Type() string { return TypeSerial }

func (Local) sealed()  {}
func (SSH) sealed()    {}
func (Serial) sealed() {}

// Validate accepts any shell; an empty one is resolved at launch
func (Local) Validate() error { return nil }

func (k SSH) Validate() error {
	if k.Host == "" {
		return fmt.Errorf("%w: ssh host is required", ErrInvalidKind)
	}
	if k.Port < 0 || k.Port > 65535 {
		return fmt.Errorf("%w: ssh port %d out of range", ErrInvalidKind, k.Port)
	}
	return nil
}

func (k Serial) Validate() error {
	if k.Device == "" {
		return fmt.Errorf("%w: serial device is required", ErrInvalidKind)
	}
	if k.Baud != 0 && !SupportedBaud(k.Baud) {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidKind, k.Baud)
	}
	return nil
}

// Addr returns host:port, defaulting the port to 22
func (k SSH) Addr() string {
	port := k.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", k.Host, port)
}

var baudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// SupportedBaud reports whether rate is a standard serial speed
func SupportedBaud(rate int) bool {
	for _, r := range baudRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Size holds terminal dimensions in character cells
type Size struct {
	Cols uint16
	Rows uint16
}

// Validate rejects zero dimensions
func (s Size) Validate() error {
	if s.Cols == 0 || s.Rows == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, s.Cols, s.Rows)
	}
	return nil
}

// Endpoint is a running byte-stream endpoint. Read returns io.EOF once the
// far side is gone; Close tears the endpoint down and unblocks Read.
type Endpoint interface {
	io.ReadWriteCloser
	Resize(size Size) error
}

// Waiter is implemented by endpoints that can report why they ended
type Waiter interface {
	Wait() error
}
