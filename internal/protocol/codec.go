package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"
)

// api is std-compatible so RawMessage and custom marshalers behave as
// with encoding/json
var api = sonic.ConfigStd

// Request is one framed call
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the request with the same ID, carrying either a result
// or an error
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Event is pushed to streaming connections. It has no id, which is how a
// client tells it apart from a response.
type Event struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Data      string `json:"data,omitempty"`
	Missed    uint64 `json:"missed,omitempty"`
}

// Event names
const (
	EventOutput = "output"
	EventClosed = "closed"
)

// UnknownID answers frames whose id could not be read
const UnknownID = "unknown"

type envelope struct {
	ID     *string         `json:"id"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Decode parses one frame into a request. Failures are returned as
// -32600 errors; the partially decoded id, or UnknownID, is still returned
// so the caller can correlate the error response.
func Decode(frame []byte) (Request, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return Request{ID: UnknownID}, InvalidRequest("empty message")
	}

	var env envelope
	if err := api.Unmarshal(frame, &env); err != nil {
		return Request{ID: UnknownID}, InvalidRequest("malformed JSON")
	}

	if env.ID == nil {
		return Request{ID: UnknownID}, InvalidRequest("missing id")
	}
	req := Request{ID: *env.ID}
	if env.Method == nil || *env.Method == "" {
		return req, InvalidRequest("missing method")
	}
	req.Method = *env.Method
	req.Params = env.Params
	return req, nil
}

// DecodeParams unmarshals request params into v. Absent or null params
// decode as an empty object.
func DecodeParams(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if err := api.Unmarshal(trimmed, v); err != nil {
		return InvalidParams(err.Error())
	}
	return nil
}

// NewResult builds a success response
func NewResult(id string, result any) (Response, error) {
	if result == nil {
		result = struct{}{}
	}
	raw, err := api.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for err
func NewErrorResponse(id string, err error) Response {
	return Response{ID: id, Error: FromError(err)}
}

// Encode serializes a message as one newline-terminated frame
func Encode(v any) ([]byte, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses a frame received by a client. Event frames are
// reported through isEvent.
func DecodeResponse(frame []byte) (resp Response, event Event, isEvent bool, err error) {
	var head struct {
		ID    *string `json:"id"`
		Event string  `json:"event"`
	}
	if err := api.Unmarshal(frame, &head); err != nil {
		return Response{}, Event{}, false, err
	}
	if head.ID == nil && head.Event != "" {
		err = api.Unmarshal(frame, &event)
		return Response{}, event, true, err
	}
	err = api.Unmarshal(frame, &resp)
	return resp, Event{}, false, err
}

// UnmarshalResult decodes a success result into v
func UnmarshalResult(resp Response, v any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if v == nil || len(resp.Result) == 0 {
		return nil
	}
	return api.Unmarshal(resp.Result, v)
}

// Marshal encodes v with the codec's JSON settings
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}
