/*
Package http implements the daemon's local HTTP gateway.

Routes:

	GET    /health                     liveness and counters
	GET    /metrics                    Prometheus metrics
	GET    /sessions                   list sessions
	POST   /sessions                   create a session
	GET    /sessions/:session_id       session snapshot
	DELETE /sessions/:session_id       terminate
	POST   /sessions/:session_id/resize
	POST   /sessions/:session_id/input raw bytes, or ?encoding=base64
	GET    /ws/:session_id             websocket terminal bridge

A websocket attaches as its own client of the session. Session output
arrives as binary frames and binary frames sent are written as input.
Text frames carry JSON control messages: {"type":"resize","cols":..,"rows":..}
and {"type":"input","data":"<base64>"} from the browser, {"type":"missed"}
and {"type":"error"} from the daemon.
*/
package http
