package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

const readBufferSize = 8 * 1024

// Options tunes output buffering
type Options struct {
	// OutputBuffer bounds each subscriber's queue, in chunks
	OutputBuffer int
	// HistoryBytes is the scrollback retained for replay
	HistoryBytes int
}

// DefaultOptions returns the standard buffering settings
func DefaultOptions() Options {
	return Options{
		OutputBuffer: 256,
		HistoryBytes: 256 * 1024,
	}
}

// Manager is the lifecycle authority over the session registry
type Manager struct {
	registry *Registry
	spawner  terminal.Spawner
	opts     Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewManager creates a manager with an empty registry
func NewManager(spawner terminal.Spawner, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: NewRegistry(),
		spawner:  spawner,
		opts:     opts,
		logger:   logger.Named("session"),
		now:      time.Now,
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithClock replaces the time source
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create starts an endpoint and registers a new Detached session
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (Info, error) {
	if opts.Kind == nil {
		return Info{}, fmt.Errorf("%w: kind is required", ErrInvalidKind)
	}
	if err := opts.Kind.Validate(); err != nil {
		return Info{}, err
	}
	if err := opts.Size.Validate(); err != nil {
		return Info{}, err
	}

	sid := opts.ID
	if sid == "" {
		sid = id.NewSessionID()
	} else if m.registry.Contains(sid) {
		return Info{}, ErrSessionExists
	}
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = defaultName(sid)
	}

	// Spawning does I/O and happens before the record is reachable
	ep, err := m.spawner.Spawn(ctx, opts.Kind, opts.Size)
	if err != nil {
		m.metrics.SpawnFailed(opts.Kind.Type())
		return Info{}, fmt.Errorf("failed to start %s session: %w", opts.Kind.Type(), err)
	}

	output := NewBroadcaster(m.opts.OutputBuffer, m.opts.HistoryBytes, m.metrics)
	s := newSession(sid, opts, ep, output, m.now())

	if err := m.registry.Insert(s); err != nil {
		ep.Close()
		return Info{}, err
	}

	m.metrics.SessionCreated(opts.Kind.Type())
	m.logger.Info("session created",
		zap.String("session_id", sid.String()),
		zap.String("name", opts.Name),
		zap.String("type", opts.Kind.Type()),
		zap.Uint16("cols", opts.Size.Cols),
		zap.Uint16("rows", opts.Size.Rows))

	go m.pump(s)

	return s.snapshot(), nil
}

func defaultName(sid id.SessionID) string {
	short := sid.String()
	if len(short) > 8 {
		short = short[:8]
	}
	return "session-" + short
}

// pump copies endpoint output into the broadcaster until the endpoint ends
func (m *Manager) pump(s *Session) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.endpoint.Read(buf)
		if n > 0 {
			s.output.Publish(buf[:n])
			s.touch(m.now())
			m.metrics.OutputPublished(n)
		}
		if err != nil {
			m.endpointEnded(s, err)
			return
		}
	}
}

func (m *Manager) endpointEnded(s *Session, readErr error) {
	if s.isStopped() {
		return
	}

	label, detail := ReasonExited, "exited"
	if !errors.Is(readErr, io.EOF) {
		label, detail = ReasonError, "endpoint error: "+readErr.Error()
	} else if waiter, ok := s.endpoint.(terminal.Waiter); ok {
		if err := waiter.Wait(); err != nil {
			detail = "exited: " + err.Error()
		}
	}

	m.stop(s, label, detail)
}

// stop tears a session down once; later calls are no-ops
func (m *Manager) stop(s *Session, label, detail string) {
	stopped, clients := s.markStopped(detail, m.now())
	if !stopped {
		return
	}

	if err := s.endpoint.Close(); err != nil {
		m.logger.Debug("endpoint close failed",
			zap.String("session_id", s.id.String()),
			zap.Error(err))
	}
	s.output.Close()

	m.metrics.ClientsDetached(clients)
	m.metrics.SessionTerminated(label)
	m.logger.Info("session stopped",
		zap.String("session_id", s.id.String()),
		zap.String("reason", detail),
		zap.Int("clients", clients))
}

func (m *Manager) lookup(sid id.SessionID) (*Session, error) {
	s, ok := m.registry.Get(sid)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Get returns a snapshot of one session
func (m *Manager) Get(sid id.SessionID) (Info, error) {
	s, err := m.lookup(sid)
	if err != nil {
		return Info{}, err
	}
	return s.snapshot(), nil
}

// List returns snapshots of every session in creation order
func (m *Manager) List() []Info {
	all := m.registry.All()
	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, s.snapshot())
	}
	return infos
}

// AttachClient records client as attached. Attaching twice is a no-op.
func (m *Manager) AttachClient(sid id.SessionID, client id.ClientID) error {
	s, err := m.lookup(sid)
	if err != nil {
		return err
	}

	added, err := s.attach(client, m.now())
	if err != nil {
		return err
	}
	if added {
		m.metrics.ClientAttached()
		m.logger.Debug("client attached",
			zap.String("session_id", sid.String()),
			zap.String("client_id", client.String()))
	}
	return nil
}

// DetachClient removes client. Detaching an unknown client, or from a
// stopped session, is a no-op.
func (m *Manager) DetachClient(sid id.SessionID, client id.ClientID) error {
	s, err := m.lookup(sid)
	if err != nil {
		return err
	}

	if s.detach(client, m.now()) {
		m.metrics.ClientsDetached(1)
		m.logger.Debug("client detached",
			zap.String("session_id", sid.String()),
			zap.String("client_id", client.String()))
	}
	return nil
}

// IsAttached reports whether client is attached to the session
func (m *Manager) IsAttached(sid id.SessionID, client id.ClientID) bool {
	s, ok := m.registry.Get(sid)
	return ok && s.hasClient(client)
}

// Terminate stops the session. Terminating a stopped session succeeds.
func (m *Manager) Terminate(sid id.SessionID) error {
	s, err := m.lookup(sid)
	if err != nil {
		return err
	}
	m.stop(s, ReasonRequested, "terminated")
	return nil
}

// TerminateAll stops every live session and returns how many were stopped
func (m *Manager) TerminateAll(label string) int {
	count := 0
	for _, s := range m.registry.All() {
		if !s.isStopped() {
			m.stop(s, label, label)
			count++
		}
	}
	return count
}

// Subscribe opens an output subscription. With replay the scrollback
// history is delivered first.
func (m *Manager) Subscribe(sid id.SessionID, replay bool) (*Subscriber, error) {
	s, err := m.lookup(sid)
	if err != nil {
		return nil, err
	}
	return s.output.Subscribe(replay)
}

// Resize changes the terminal dimensions
func (m *Manager) Resize(sid id.SessionID, size terminal.Size) error {
	if err := size.Validate(); err != nil {
		return err
	}
	s, err := m.lookup(sid)
	if err != nil {
		return err
	}
	if err := s.setSize(size, m.now()); err != nil {
		return err
	}
	if err := s.endpoint.Resize(size); err != nil {
		if s.isStopped() {
			return ErrSessionStopped
		}
		return fmt.Errorf("failed to resize: %w", err)
	}
	return nil
}

// SendInput writes data to the session's endpoint
func (m *Manager) SendInput(sid id.SessionID, data []byte) (int, error) {
	s, err := m.lookup(sid)
	if err != nil {
		return 0, err
	}
	if s.isStopped() {
		return 0, ErrSessionStopped
	}

	n, err := s.endpoint.Write(data)
	if err != nil {
		if s.isStopped() {
			return n, ErrSessionStopped
		}
		return n, fmt.Errorf("failed to write input: %w", err)
	}
	s.touch(m.now())
	return n, nil
}

// CountSessions returns the number of records, stopped ones included
func (m *Manager) CountSessions() int {
	return m.registry.Len()
}

// CountClients returns the attachments summed over all sessions
func (m *Manager) CountClients() int {
	total := 0
	for _, s := range m.registry.All() {
		total += s.clientCount()
	}
	return total
}

// CleanupDeadSessions removes Stopped records that stopped at least grace
// ago. Running and Detached sessions are never removed.
func (m *Manager) CleanupDeadSessions(grace time.Duration) int {
	cutoff := m.now().Add(-grace)
	removed := m.registry.RemoveIf(func(s *Session) bool {
		return s.stoppedBefore(cutoff)
	})

	if removed > 0 {
		m.metrics.SessionsRemoved(removed)
		m.logger.Debug("reaped stopped sessions", zap.Int("count", removed))
	}
	return removed
}
