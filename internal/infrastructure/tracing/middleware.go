package tracing

import (
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware assigns every request an ID, honouring a well-formed
// inbound X-Request-ID, and echoes it on the response
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := Resolve(c.GetHeader(Header))

		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		c.Header(Header, requestID)
		c.Next()
	}
}
