package protocol

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/sessiond/internal/domain/session"
)

// Error codes. These values are part of the wire contract.
const (
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeSessionNotFound = 1001
	CodeSessionExists   = 1002
)

// Error is the structured error carried in a response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewError creates an error with a formatted message
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(detail string) *Error {
	return NewError(CodeInvalidRequest, "Invalid request: %s", detail)
}

func MethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "Method not found: %s", method)
}

func InvalidParams(detail string) *Error {
	return NewError(CodeInvalidParams, "Invalid params: %s", detail)
}

func InternalError(detail string) *Error {
	return NewError(CodeInternalError, "Internal error: %s", detail)
}

// FromError maps a domain or internal error to its wire form
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var perr *Error
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, session.ErrSessionNotFound):
		return NewError(CodeSessionNotFound, "Session not found")
	case errors.Is(err, session.ErrSessionStopped):
		return NewError(CodeSessionNotFound, "Session is stopped")
	case errors.Is(err, session.ErrSessionExists):
		return NewError(CodeSessionExists, "Session already exists")
	case errors.Is(err, session.ErrInvalidKind), errors.Is(err, session.ErrInvalidSize):
		return InvalidParams(err.Error())
	default:
		return InternalError(err.Error())
	}
}
