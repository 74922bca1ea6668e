package server

import (
	"sync"

	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

type claimKey struct {
	session id.SessionID
	client  id.ClientID
}

// claims counts the live connections holding each caller-chosen client id
// on a session. A disconnect detaches a client only when no other
// connection still holds it.
type claims struct {
	mu   sync.Mutex
	held map[claimKey]int // Protected by mu
}

func newClaims() *claims {
	return &claims{held: make(map[claimKey]int)}
}

// acquire runs attach and records one more holder if it succeeds
func (cl *claims) acquire(sid id.SessionID, client id.ClientID, attach func() error) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if err := attach(); err != nil {
		return err
	}
	cl.held[claimKey{sid, client}]++
	return nil
}

// release drops one holder and runs detach when it was the last
func (cl *claims) release(sid id.SessionID, client id.ClientID, detach func() error) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	key := claimKey{sid, client}
	if n := cl.held[key]; n > 1 {
		cl.held[key] = n - 1
		return nil
	}
	delete(cl.held, key)
	if detach == nil {
		return nil
	}
	return detach()
}

func (cl *claims) holders(sid id.SessionID, client id.ClientID) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.held[claimKey{sid, client}]
}
