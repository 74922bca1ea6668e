/*
Package monitoring provides Prometheus metrics for the session daemon.

# Overview

Metrics live on a private registry rather than the global default one, so
several daemons (or several tests) can coexist in one process. All
recording methods accept a nil *Metrics and do nothing.

# Metrics

- Session lifecycle (active, created by kind, terminated by reason, reaped)
- Attached clients and output fan-out (bytes published, bytes dropped)
- IPC connections, admission rejections, requests by method and code
- Gateway HTTP requests and websocket streams
- Go runtime, process and uptime

# Usage

	metrics := monitoring.NewMetrics()

	manager := session.NewManager(spawner, session.WithMetrics(metrics))

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", metrics.GinHandler())

	timer := monitoring.NewTimer(metrics, "create_session")
	// ... handle request ...
	timer.Stop(0)
*/
package monitoring
