// Package session owns terminal sessions: the registry of records, the
// lifecycle manager, per-session output fan-out and the reaper.
//
// State machine:
//
//	Detached --attach--> Running --last detach--> Detached
//	Running/Detached --terminate or endpoint exit--> Stopped
//
// Stopped is terminal. Stopped records stay listed until the reaper
// removes them after a grace window; live sessions are never reaped.
//
// Output fan-out drops the oldest queued chunk for a subscriber that falls
// behind and reports the discarded byte count with the next chunk it
// receives. A fast subscriber never waits on a slow one.
//
// Example Usage:
//
//	manager := session.NewManager(spawner, logger, session.DefaultOptions()).
//		WithMetrics(metrics)
//	info, err := manager.Create(ctx, session.CreateOptions{
//		Name: "dev",
//		Kind: terminal.Local{},
//		Size: terminal.Size{Cols: 80, Rows: 24},
//	})
//	err = manager.AttachClient(info.ID, clientID)
//	sub, err := manager.Subscribe(info.ID, true)
//	chunk, err := sub.Next(ctx)
package session
