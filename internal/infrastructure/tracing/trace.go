package tracing

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/sessiond/internal/shared/id"
)

// Header carries the request ID in both directions
const Header = "X-Request-ID"

type contextKey struct{}

// Accepted inbound IDs; anything else is replaced
var validID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// WithRequestID returns ctx carrying requestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// RequestID retrieves the request ID from ctx, or ""
func RequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(contextKey{}).(string)
	return requestID
}

// Resolve returns inbound when it is a usable ID, otherwise a fresh one
func Resolve(inbound string) string {
	if validID.MatchString(inbound) {
		return inbound
	}
	return id.NewRequestID()
}

// Fields returns the log fields identifying the request in ctx
func Fields(ctx context.Context) []zap.Field {
	if requestID := RequestID(ctx); requestID != "" {
		return []zap.Field{zap.String("request_id", requestID)}
	}
	return nil
}
