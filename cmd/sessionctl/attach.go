package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/GriffinCanCode/sessiond/internal/client"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
)

var (
	attachReplay bool
	attachClient string
)

var attachCmd = &cobra.Command{
	Use:   "attach <session-id>",
	Short: "Stream a session's output and forward stdin to it",
	Long: `Attaches to a session, copies its output to stdout and forwards stdin
as input. On a terminal, stdin is put in raw mode, the session is resized
to match and Ctrl-] detaches; otherwise Ctrl-C detaches. The session keeps
running either way.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().BoolVar(&attachReplay, "replay", true, "Print scrollback before live output")
	attachCmd.Flags().StringVar(&attachClient, "client", "", "Client id (default: this connection)")
	rootCmd.AddCommand(attachCmd)
}

// detachKey is Ctrl-]
const detachKey = 0x1d

func runAttach(cmd *cobra.Command, args []string) error {
	sid := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, detach := context.WithCancel(ctx)
	defer detach()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	err = c.Attach(callCtx, protocol.AttachSessionParams{
		SessionID: sid,
		ClientID:  attachClient,
		Stream:    true,
		Replay:    attachReplay,
	})
	cancel()
	if err != nil {
		return err
	}

	con := newConsole(os.Stdin, os.Stdout)
	if err := con.makeRaw(); err != nil {
		return err
	}
	defer con.restore()

	if con.raw {
		con.notef("Attached to %s. Press Ctrl-] to detach.", sid)
		go con.followSize(ctx, c, sid)
	} else {
		con.notef("Attached to %s. Press Ctrl-C to detach.", sid)
	}

	go forwardInput(ctx, c, sid, os.Stdin, con.raw, detach)

	return streamOutput(ctx, c, sid, os.Stdout, con)
}

// console tracks the local terminal while attached
type console struct {
	in, out int
	raw     bool
	state   *term.State
}

func newConsole(in, out *os.File) *console {
	return &console{in: int(in.Fd()), out: int(out.Fd())}
}

// makeRaw switches a terminal stdin to raw mode; pipes are left alone
func (t *console) makeRaw() error {
	if !term.IsTerminal(t.in) {
		return nil
	}
	state, err := term.MakeRaw(t.in)
	if err != nil {
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	t.state = state
	t.raw = true
	return nil
}

func (t *console) restore() {
	if t.state != nil {
		_ = term.Restore(t.in, t.state)
		t.state = nil
		t.raw = false
	}
}

// notef prints a status line on stderr; raw mode needs explicit carriage returns
func (t *console) notef(format string, args ...any) {
	nl := "\n"
	if t.raw {
		nl = "\r\n"
	}
	fmt.Fprintf(os.Stderr, nl+format+nl, args...)
}

// followSize resizes the session to the local terminal now and on SIGWINCH
func (t *console) followSize(ctx context.Context, c *client.Client, sid string) {
	if !term.IsTerminal(t.out) {
		return
	}
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	for {
		if cols, rows, err := term.GetSize(t.out); err == nil && cols > 0 && rows > 0 {
			resizeCtx, cancel := context.WithTimeout(ctx, timeout)
			_ = c.Resize(resizeCtx, sid, uint16(cols), uint16(rows))
			cancel()
		}
		select {
		case <-ctx.Done():
			return
		case <-winch:
		}
	}
}

// streamOutput copies output events to w until the session closes, the
// connection drops or ctx is cancelled
func streamOutput(ctx context.Context, c *client.Client, sid string, w io.Writer, con *console) error {
	for {
		select {
		case <-ctx.Done():
			detachCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := c.Detach(detachCtx, sid, attachClient)
			con.restore()
			if err != nil {
				return err
			}
			con.notef("Detached.")
			return nil

		case event, ok := <-c.Events():
			if !ok {
				con.restore()
				if err := c.Err(); err != nil && !errors.Is(err, client.ErrClosed) {
					return err
				}
				return errors.New("daemon closed the connection")
			}
			if event.SessionID != sid {
				continue
			}

			if event.Missed > 0 {
				con.notef("[%d bytes of output dropped]", event.Missed)
			}
			switch event.Event {
			case protocol.EventOutput:
				data, err := client.DecodeEvent(event)
				if err != nil {
					return err
				}
				if _, err := w.Write(data); err != nil {
					return err
				}
			case protocol.EventClosed:
				con.restore()
				con.notef("Session closed.")
				return nil
			}
		}
	}
}

// forwardInput sends stdin to the session. In raw mode the detach key ends
// the attachment; bytes typed before it are still sent.
func forwardInput(ctx context.Context, c *client.Client, sid string, r io.Reader, raw bool, detach func()) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		data, detached := buf[:n], false
		if raw {
			data, detached = splitDetach(data)
		}
		if len(data) > 0 {
			sendCtx, cancel := context.WithTimeout(ctx, timeout)
			_, sendErr := c.SendInput(sendCtx, sid, data)
			cancel()
			if sendErr != nil {
				return
			}
		}
		if detached {
			detach()
			return
		}
		if err != nil {
			return
		}
	}
}

// splitDetach returns the input before the detach key and whether it was seen
func splitDetach(data []byte) ([]byte, bool) {
	if i := bytes.IndexByte(data, detachKey); i >= 0 {
		return data[:i], true
	}
	return data, false
}
