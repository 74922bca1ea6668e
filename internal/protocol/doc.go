// Package protocol defines the daemon's request/response messages and
// their newline-delimited JSON encoding.
//
// Frames:
//
//	→ {"id":"1","method":"create_session","params":{"name":"dev","type":"Local","cols":80,"rows":24}}
//	← {"id":"1","result":{"session_id":"550e8400-e29b-41d4-a716-446655440000"}}
//	← {"id":"4","error":{"code":1001,"message":"Session not found"}}
//	← {"event":"output","session_id":"550e8400-...","data":"aGVsbG8="}
//
// The codec holds no state and performs no I/O. Error codes follow
// JSON-RPC for envelope problems (-32600 to -32603) and use 1001/1002 for
// session errors.
package protocol
