package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/sessiond/internal/client"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
)

var (
	createName   string
	createShell  string
	createSSH    string
	createSerial string
	createBaud   int
	createCols   uint16
	createRows   uint16
	createID     string

	clientID   string
	sendNoLine bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Long: `Creates a local shell session unless --ssh or --serial is given.

Examples:
  sessionctl create --name dev
  sessionctl create --ssh ops@build.example.com:2222
  sessionctl create --serial /dev/ttyUSB0 --baud 9600`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var getCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var detachCmd = &cobra.Command{
	Use:   "detach <session-id>",
	Short: "Detach a client from a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return c.Detach(ctx, args[0], clientID)
		})
	},
}

var terminateCmd = &cobra.Command{
	Use:     "terminate <session-id>",
	Aliases: []string{"kill"},
	Short:   "Terminate a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return c.Terminate(ctx, args[0])
		})
	},
}

var resizeCmd = &cobra.Command{
	Use:   "resize <session-id> <cols> <rows>",
	Short: "Resize a session's terminal",
	Args:  cobra.ExactArgs(3),
	RunE:  runResize,
}

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <text>...",
	Short: "Send input to a session",
	Long:  `Sends the arguments joined by spaces, followed by a newline unless --no-newline is set.`,
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Session name")
	createCmd.Flags().StringVar(&createShell, "shell", "", "Shell for a local session")
	createCmd.Flags().StringVar(&createSSH, "ssh", "", "Remote target as [user@]host[:port]")
	createCmd.Flags().StringVar(&createSerial, "serial", "", "Serial device path")
	createCmd.Flags().IntVar(&createBaud, "baud", 0, "Serial baud rate")
	createCmd.Flags().Uint16Var(&createCols, "cols", 0, "Terminal columns")
	createCmd.Flags().Uint16Var(&createRows, "rows", 0, "Terminal rows")
	createCmd.Flags().StringVar(&createID, "id", "", "Explicit session id (UUID)")
	createCmd.MarkFlagsMutuallyExclusive("shell", "ssh", "serial")

	detachCmd.Flags().StringVar(&clientID, "client", "", "Client id to detach")
	sendCmd.Flags().BoolVar(&sendNoLine, "no-newline", false, "Do not append a newline")

	rootCmd.AddCommand(createCmd, listCmd, getCmd, detachCmd, terminateCmd, resizeCmd, sendCmd, statusCmd)
}

func runCreate(cmd *cobra.Command, _ []string) error {
	kind, err := parseKind(createShell, createSSH, createSerial, createBaud)
	if err != nil {
		return err
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		sid, err := c.CreateSession(ctx, client.CreateOptions{
			Name:      createName,
			Kind:      kind,
			Cols:      createCols,
			Rows:      createRows,
			SessionID: createID,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(protocol.CreateSessionResult{SessionID: sid})
		}
		fmt.Println(sid)
		return nil
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		sessions, err := c.ListSessions(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sessions)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATE\tCLIENTS\tSIZE\tCREATED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%dx%d\t%s\n",
				s.ID, s.Name, describeKind(s.SessionType), s.State, s.NumClients,
				s.Cols, s.Rows, s.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		info, err := c.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(info)
	})
}

func runResize(cmd *cobra.Command, args []string) error {
	cols, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid cols %q", args[1])
	}
	rows, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid rows %q", args[2])
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return c.Resize(ctx, args[0], uint16(cols), uint16(rows))
	})
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	if !sendNoLine {
		text += "\n"
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		n, err := c.SendInput(ctx, args[0], []byte(text))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(protocol.SendInputResult{BytesWritten: n})
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(status)
		}
		fmt.Printf("version:  %s\n", status.Version)
		fmt.Printf("uptime:   %s\n", time.Duration(status.UptimeSeconds)*time.Second)
		fmt.Printf("sessions: %d\n", status.NumSessions)
		fmt.Printf("clients:  %d\n", status.NumClients)
		return nil
	})
}
