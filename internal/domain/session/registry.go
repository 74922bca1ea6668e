package session

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// Registry is the in-memory index of session records. The index lock is
// held only for map edits; per-session state has its own lock, so the
// lock order is always registry then session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu
	seq      uint64                    // Protected by mu
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[id.SessionID]*Session),
	}
}

// Insert adds a record, rejecting duplicate IDs
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.id]; exists {
		return ErrSessionExists
	}
	r.seq++
	s.seq = r.seq
	r.sessions[s.id] = s
	return nil
}

// Get looks up a record
func (r *Registry) Get(sid id.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sid]
	return s, ok
}

// Contains reports whether sid is present
func (r *Registry) Contains(sid id.SessionID) bool {
	_, ok := r.Get(sid)
	return ok
}

// All returns every record in creation order
func (r *Registry) All() []*Session {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

// Len returns the number of records, stopped ones included
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RemoveIf deletes every record matching pred and returns how many went
func (r *Registry) RemoveIf(pred func(*Session) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for sid, s := range r.sessions {
		if pred(s) {
			delete(r.sessions, sid)
			removed++
		}
	}
	return removed
}
