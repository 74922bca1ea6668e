/*
Package tracing propagates request IDs through the HTTP gateway.

Every gateway request carries an ID in its context. A client may supply one
in the X-Request-ID header; otherwise a prefixed ULID ("req_01J...") is
generated. The ID is echoed on the response and attached to request logs,
so a failing call can be matched to the daemon's log lines.

	router.Use(tracing.HTTPMiddleware())

	logger.Debug("HTTP request", tracing.Fields(c.Request.Context())...)
*/
package tracing
