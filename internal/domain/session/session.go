package session

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// Session is the canonical record of one terminal session. Identity
// fields are immutable; everything under mu changes through the manager.
type Session struct {
	id        id.SessionID
	name      string
	kind      terminal.Kind
	createdAt time.Time
	seq       uint64

	endpoint terminal.Endpoint
	output   *Broadcaster

	mu         sync.Mutex
	state      State
	clients    map[id.ClientID]struct{}
	size       terminal.Size
	lastActive time.Time
	stoppedAt  time.Time
	exitReason string
}

func newSession(sid id.SessionID, opts CreateOptions, ep terminal.Endpoint, output *Broadcaster, now time.Time) *Session {
	return &Session{
		id:         sid,
		name:       opts.Name,
		kind:       opts.Kind,
		createdAt:  now,
		endpoint:   ep,
		output:     output,
		state:      StateDetached,
		clients:    make(map[id.ClientID]struct{}),
		size:       opts.Size,
		lastActive: now,
	}
}

// ID returns the session identifier
func (s *Session) ID() id.SessionID { return s.id }

func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:         s.id,
		Name:       s.name,
		Kind:       s.kind,
		State:      s.state,
		Clients:    len(s.clients),
		Size:       s.size,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
		StoppedAt:  s.stoppedAt,
		ExitReason: s.exitReason,
	}
}

// attach adds a client; added is false when it was already attached
func (s *Session) attach(client id.ClientID, now time.Time) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return false, ErrSessionStopped
	}
	s.lastActive = now
	if _, ok := s.clients[client]; ok {
		return false, nil
	}
	s.clients[client] = struct{}{}
	s.state = StateRunning
	return true, nil
}

// detach removes a client; removed is false when it was not attached
func (s *Session) detach(client id.ClientID, now time.Time) (removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return false
	}
	s.lastActive = now
	if _, ok := s.clients[client]; !ok {
		return false
	}
	delete(s.clients, client)
	if len(s.clients) == 0 {
		s.state = StateDetached
	}
	return true
}

// markStopped moves the record to Stopped exactly once and reports how
// many clients were attached at that moment
func (s *Session) markStopped(reason string, now time.Time) (stopped bool, clients int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return false, 0
	}
	clients = len(s.clients)
	s.clients = make(map[id.ClientID]struct{})
	s.state = StateStopped
	s.stoppedAt = now
	s.exitReason = reason
	return true, clients
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopped
}

func (s *Session) hasClient(client id.ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[client]
	return ok
}

func (s *Session) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// stoppedBefore reports whether the session stopped at or before cutoff
func (s *Session) stoppedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopped && !s.stoppedAt.After(cutoff)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.lastActive = now
	}
	s.mu.Unlock()
}

func (s *Session) setSize(size terminal.Size, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return ErrSessionStopped
	}
	s.size = size
	s.lastActive = now
	return nil
}
