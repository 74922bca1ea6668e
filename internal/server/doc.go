/*
Package server implements the daemon's IPC surface: a unix socket carrying
newline-delimited JSON requests, responses and pushed output events.

Each accepted connection is handled by its own goroutine. Requests on one
connection are answered in order; streamed output events are interleaved
between responses. Closing a connection detaches every client it attached.

The listener enforces the hardening limits from Config: a connection cap
(excess connections receive an error frame and are closed), a maximum
message size, and a per-connection request rate.
*/
package server
