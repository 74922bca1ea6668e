package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// LocalLauncher starts shells on pseudo-terminals
type LocalLauncher struct {
	// DefaultShell is used when the kind names none; $SHELL and then
	// /bin/sh are the fallbacks.
	DefaultShell string
	// Dir is the working directory; $HOME when empty.
	Dir string
	// Env is appended to the daemon's environment.
	Env []string
}

// Launch starts the shell and returns its PTY as an endpoint. The process
// is not bound to ctx: sessions outlive the request that created them.
func (l *LocalLauncher) Launch(ctx context.Context, kind Local, size Size) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shell := l.resolveShell(kind.Shell)

	dir := l.Dir
	if dir == "" {
		dir = os.Getenv("HOME")
		if dir == "" {
			dir = "/"
		}
	}

	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, l.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY for %s: %w", shell, err)
	}

	ep := &localEndpoint{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}
	go ep.monitorProcess()

	return ep, nil
}

func (l *LocalLauncher) resolveShell(requested string) string {
	for _, candidate := range []string{requested, l.DefaultShell, os.Getenv("SHELL")} {
		if candidate != "" {
			return candidate
		}
	}
	return "/bin/sh"
}

type localEndpoint struct {
	cmd  *exec.Cmd
	ptmx *os.File

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// monitorProcess reaps the child so it never lingers as a zombie
func (e *localEndpoint) monitorProcess() {
	e.waitErr = e.cmd.Wait()
	close(e.done)
}

func (e *localEndpoint) Read(p []byte) (int, error) {
	n, err := e.ptmx.Read(p)
	// Linux reports EIO on the master once the slave side is gone
	if err != nil && (errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

func (e *localEndpoint) Write(p []byte) (int, error) {
	return e.ptmx.Write(p)
}

func (e *localEndpoint) Resize(size Size) error {
	return pty.Setsize(e.ptmx, &pty.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
	})
}

// Close hangs up the shell and releases the PTY
func (e *localEndpoint) Close() error {
	e.closeOnce.Do(func() {
		select {
		case <-e.done:
		default:
			if e.cmd.Process != nil {
				_ = e.cmd.Process.Kill()
			}
		}
		e.closeErr = e.ptmx.Close()
	})
	return e.closeErr
}

// Wait blocks until the shell exits and returns its exit error
func (e *localEndpoint) Wait() error {
	<-e.done
	return e.waitErr
}
