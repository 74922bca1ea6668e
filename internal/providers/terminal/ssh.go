package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/GriffinCanCode/sessiond/internal/infrastructure/resilience"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHDialer opens interactive shells on remote hosts
type SSHDialer struct {
	KnownHostsFile string
	IdentityFiles  []string
	DefaultUser    string
	DialTimeout    time.Duration
	UseAgent       bool

	// HostKeyCallback overrides known_hosts verification when set
	HostKeyCallback ssh.HostKeyCallback
	// Auth is tried before agent and identity file methods
	Auth []ssh.AuthMethod
	// Breakers fail fast for hosts that keep refusing connections
	Breakers *resilience.Group
}

// Dial connects, requests a PTY and starts the remote login shell
func (d *SSHDialer) Dial(ctx context.Context, kind SSH, size Size) (Endpoint, error) {
	user := kind.User
	if user == "" {
		user = d.DefaultUser
	}
	if user == "" {
		return nil, fmt.Errorf("%w: ssh user is required", ErrInvalidKind)
	}

	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	auth, closeAgent := d.authMethods()
	defer closeAgent()
	if len(auth) == 0 {
		return nil, errors.New("no ssh authentication methods available")
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	addr := kind.Addr()
	var client *ssh.Client
	connect := func() error {
		client, err = d.connect(ctx, addr, config, timeout)
		return err
	}
	if d.Breakers == nil {
		err = connect()
	} else if err = d.Breakers.Get(addr).Do(connect); errors.Is(err, resilience.ErrOpen) {
		return nil, fmt.Errorf("ssh %s is failing, retry later: %w", addr, err)
	}
	if err != nil {
		return nil, err
	}

	ep, err := startRemoteShell(client, size)
	if err != nil {
		client.Close()
		return nil, err
	}
	return ep, nil
}

// connect dials addr and completes the ssh handshake
func (d *SSHDialer) connect(ctx context.Context, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	// Handshake honours the dial timeout as a deadline
	_ = conn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func startRemoteShell(client *ssh.Client, size Size) (*sshEndpoint, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", int(size.Rows), int(size.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start remote shell: %w", err)
	}

	ep := &sshEndpoint{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		done:    make(chan struct{}),
	}
	go ep.monitorSession()

	return ep, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.HostKeyCallback != nil {
		return d.HostKeyCallback, nil
	}
	if d.KnownHostsFile == "" {
		return nil, errors.New("no known_hosts file configured")
	}
	callback, err := knownhosts.New(d.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return callback, nil
}

// authMethods collects explicit, agent and identity file credentials.
// The returned func releases the agent connection after the handshake.
func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, func()) {
	methods := append([]ssh.AuthMethod(nil), d.Auth...)
	release := func() {}

	if d.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				release = func() { conn.Close() }
			}
		}
	}

	var signers []ssh.Signer
	for _, path := range d.IdentityFiles {
		pem, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// Encrypted keys are left to the agent
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	return methods, release
}

type sshEndpoint struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (e *sshEndpoint) monitorSession() {
	e.waitErr = e.session.Wait()
	close(e.done)
}

func (e *sshEndpoint) Read(p []byte) (int, error)  { return e.stdout.Read(p) }
func (e *sshEndpoint) Write(p []byte) (int, error) { return e.stdin.Write(p) }

func (e *sshEndpoint) Resize(size Size) error {
	return e.session.WindowChange(int(size.Rows), int(size.Cols))
}

func (e *sshEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.session.Close()
		err = e.client.Close()
	})
	return err
}

func (e *sshEndpoint) Wait() error {
	<-e.done
	return e.waitErr
}
