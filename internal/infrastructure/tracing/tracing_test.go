package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "abc-123", Resolve("abc-123"))

	for _, inbound := range []string{"", "has space", strings.Repeat("x", 129), "line\nbreak"} {
		got := Resolve(inbound)
		assert.True(t, strings.HasPrefix(got, "req_"), "inbound %q gave %q", inbound, got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Nil(t, Fields(ctx))

	ctx = WithRequestID(ctx, "req_1")
	assert.Equal(t, "req_1", RequestID(ctx))
	require.Len(t, Fields(ctx), 1)
	assert.Equal(t, "request_id", Fields(ctx)[0].Key)
}

func TestHTTPMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(HTTPMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestID(c.Request.Context()))
	})

	t.Run("generates", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		got := w.Header().Get(Header)
		assert.True(t, strings.HasPrefix(got, "req_"))
		assert.Equal(t, got, w.Body.String())
	})

	t.Run("honours inbound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(Header, "client-7")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "client-7", w.Header().Get(Header))
		assert.Equal(t, "client-7", w.Body.String())
	})
}
