package session

import (
	"context"
	"time"
)

// RunReaper sweeps stopped sessions every interval until ctx is done
func (m *Manager) RunReaper(ctx context.Context, interval, grace time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupDeadSessions(grace)
		}
	}
}
