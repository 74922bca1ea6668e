// Package main is the entry point for the terminal session daemon.
//
// The daemon owns every terminal session (local PTY shells, SSH shells,
// serial lines) so they outlive the clients that created them. Clients
// talk to it over a per-user unix socket; an optional local HTTP gateway
// exposes health, Prometheus metrics, a REST view and a websocket bridge.
//
// Configuration:
//   - Defaults
//   - YAML file (~/.config/sessiond/config.yaml or -config)
//   - SESSIOND_* environment variables
//   - CLI flags (override everything)
//
// Usage:
//
//	sessiond
//	sessiond -socket /tmp/sessiond.sock -http 127.0.0.1:3030
//	sessiond -dev
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
