package terminal

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SerialOpener attaches sessions to serial line devices
type SerialOpener struct {
	DefaultBaud int
}

func (o *SerialOpener) baud(kind Serial) int {
	if kind.Baud != 0 {
		return kind.Baud
	}
	if o.DefaultBaud != 0 {
		return o.DefaultBaud
	}
	return 115200
}

type serialEndpoint struct {
	file *os.File
}

func (e *serialEndpoint) Read(p []byte) (int, error) {
	n, err := e.file.Read(p)
	if errors.Is(err, os.ErrClosed) || errors.Is(err, unix.EIO) {
		err = io.EOF
	}
	return n, err
}

func (e *serialEndpoint) Write(p []byte) (int, error) { return e.file.Write(p) }

// Resize is a no-op: a serial line has no window
func (e *serialEndpoint) Resize(Size) error { return nil }

func (e *serialEndpoint) Close() error {
	err := e.file.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
