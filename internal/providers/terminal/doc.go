// Package terminal starts the byte-stream endpoints that back sessions.
//
// A session kind is one of three closed variants:
//   - Local: a shell on a pseudo-terminal (creack/pty)
//   - SSH: an interactive remote shell (x/crypto/ssh, agent and key auth,
//     known_hosts verification)
//   - Serial: a raw 8N1 serial line (termios via x/sys/unix, Linux only)
//
// Every variant yields an Endpoint: read output, write input, resize and
// close. Callers depend on the Spawner interface; Factory is the
// production implementation.
//
// Example:
//
//	factory := terminal.NewFactory(
//		&terminal.LocalLauncher{DefaultShell: "/bin/zsh"},
//		&terminal.SSHDialer{KnownHostsFile: paths.KnownHostsFile(), UseAgent: true},
//		&terminal.SerialOpener{DefaultBaud: 115200},
//	)
//	ep, err := factory.Spawn(ctx, terminal.Local{}, terminal.Size{Cols: 80, Rows: 24})
package terminal
