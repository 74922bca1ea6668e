//go:build linux

package terminal

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var baudFlags = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// Open configures the device for raw 8N1 at the requested speed
func (o *SerialOpener) Open(ctx context.Context, kind Serial) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := o.baud(kind)
	speed, ok := baudFlags[baud]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidKind, baud)
	}

	// Non-blocking so the runtime poller owns the fd and Close unblocks Read
	fd, err := unix.Open(kind.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", kind.Device, err)
	}

	if err := makeRaw(fd, speed); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure %s: %w", kind.Device, err)
	}

	return &serialEndpoint{file: os.NewFile(uintptr(fd), kind.Device)}, nil
}

func makeRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
