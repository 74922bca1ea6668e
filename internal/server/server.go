package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/logging"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// Version is reported by get_status
const Version = "0.1.0"

// ErrAlreadyRunning reports a live daemon on the socket path
var ErrAlreadyRunning = errors.New("another daemon is listening on the socket")

// Config contains IPC server configuration
type Config struct {
	SocketPath        string
	MaxConnections    int
	MaxMessageSize    int
	RequestsPerSecond int
	Burst             int
	ShutdownGrace     time.Duration
	DefaultSize       terminal.Size
	Version           string
}

// DefaultConfig returns the hardening limits used by the daemon
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:        socketPath,
		MaxConnections:    100,
		MaxMessageSize:    1024 * 1024,
		RequestsPerSecond: 200,
		Burst:             400,
		ShutdownGrace:     5 * time.Second,
		DefaultSize:       terminal.Size{Cols: 80, Rows: 24},
		Version:           Version,
	}
}

// Server accepts client connections on a unix socket and dispatches
// their requests to the session manager
type Server struct {
	cfg      Config
	manager  *session.Manager
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	gate     *semaphore.Weighted
	handlers map[string]handlerFunc
	claims   *claims
	started  time.Time

	mu       sync.Mutex
	listener net.Listener       // Protected by mu
	conns    map[*conn]struct{} // Protected by mu
	closing  bool               // Protected by mu
	done     chan struct{}

	wg sync.WaitGroup
}

// New creates a server for the given manager
func New(cfg Config, manager *session.Manager, logger *logging.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}
	if cfg.Version == "" {
		cfg.Version = Version
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
		gate:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
		claims:  newClaims(),
		started: time.Now(),
		conns:   make(map[*conn]struct{}),
		done:    make(chan struct{}),
	}
	s.handlers = s.routes()
	return s
}

// WithMetrics adds metrics tracking to the server
func (s *Server) WithMetrics(metrics *monitoring.Metrics) *Server {
	s.metrics = metrics
	return s
}

// Listen binds the unix socket. A stale socket file is removed; a socket
// with a live daemon behind it is an error. The socket is created 0600
// inside a 0700 directory.
func (s *Server) Listen() error {
	path := s.cfg.SocketPath
	if path == "" {
		return errors.New("socket path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if _, err := os.Lstat(path); err == nil {
		if live, dialErr := net.DialTimeout("unix", path, 500*time.Millisecond); dialErr == nil {
			live.Close()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
		s.logger.Info("Removed stale socket", zap.String("path", path))
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("IPC server listening", zap.String("socket", path))
	return nil
}

// Addr returns the socket path
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

// Serve runs the accept loop until ctx is cancelled, then shuts down
// gracefully within the configured grace period. Listen must be called
// first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	go func() {
		select {
		case <-ctx.Done():
			graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
			defer cancel()
			if err := s.Shutdown(graceCtx); err != nil {
				s.logger.Warn("Shutdown grace period expired", zap.Error(err))
			}
		case <-s.done:
		}
	}()

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				<-s.done
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			// Descriptor exhaustion and aborted handshakes clear on their own
			backoff = nextBackoff(backoff)
			s.metrics.ConnectionRejected("accept_error")
			s.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-s.done:
				return nil
			}
			continue
		}
		backoff = 0

		if !s.gate.TryAcquire(1) {
			s.reject(nc)
			continue
		}

		c := newConn(s, nc)
		if !s.track(c) {
			s.gate.Release(1)
			nc.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.gate.Release(1)
			defer s.untrack(c)
			c.serve()
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// reject answers a connection over the admission limit and closes it
func (s *Server) reject(nc net.Conn) {
	s.metrics.ConnectionRejected("capacity")
	s.logger.Warn("Connection rejected: limit reached", zap.Int("max_connections", s.cfg.MaxConnections))

	frame, err := protocol.Encode(protocol.Response{
		ID:    protocol.UnknownID,
		Error: protocol.InternalError(fmt.Sprintf("too many connections (limit %d)", s.cfg.MaxConnections)),
	})
	if err == nil {
		_ = nc.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = nc.Write(frame)
	}
	nc.Close()
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.metrics.ConnectionOpened()
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.metrics.ConnectionClosed()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, lets in-flight requests finish until ctx is
// done, then force-closes what remains and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.closing = true
	ln := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	defer close(s.done)

	s.logger.Info("IPC server shutting down", zap.Int("connections", len(conns)))
	if ln != nil {
		ln.Close()
	}

	// Idle readers wake immediately; handlers already running finish
	for _, c := range conns {
		c.interrupt()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		s.mu.Lock()
		for c := range s.conns {
			c.forceClose()
		}
		s.mu.Unlock()
		<-drained
	}

	if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logger.Warn("Failed to remove socket", zap.Error(rmErr))
	}
	s.logger.Info("IPC server stopped")
	return err
}

// uptime returns whole seconds since the server was created
func (s *Server) uptime() uint64 {
	return uint64(time.Since(s.started).Seconds())
}

func (s *Server) defaultClient(c *conn) id.ClientID {
	return id.ClientID(c.id)
}
