package monitoring

import "github.com/gin-gonic/gin"

// GinHandler serves the exposition format on a gin route
func (m *Metrics) GinHandler() gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}
