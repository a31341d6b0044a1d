package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miracsucu4417/image-processing-service/internal/metrics"
)

// Metrics records request counts and latency keyed by route template.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
