package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/sessiond/internal/client"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/config"
)

var (
	socketPath string
	timeout    time.Duration
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Control the terminal session daemon",
	Long: `sessionctl talks to sessiond over its unix socket. Sessions created here
keep running after sessionctl exits and can be attached from anywhere.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket path (default from config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON results")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	return config.LoadOrDefault().Daemon.SocketPath
}

func connect(ctx context.Context) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := resolveSocket()
	c, err := client.Dial(dialCtx, path)
	if err != nil {
		return nil, fmt.Errorf("%w (is sessiond running?)", err)
	}
	return c, nil
}

// withClient runs fn with a connected client and a request deadline
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func printJSON(v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
