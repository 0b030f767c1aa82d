package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
)

// Logger middleware logs request details and records HTTP metrics
func Logger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// The route template keeps metric cardinality bounded; raw paths
		// embed video IDs.
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		log.LogHTTPRequest(c.Request.Method, path, c.ClientIP(), status, latency)
		metrics.RecordHTTPRequest(c.Request.Method, endpoint, fmt.Sprintf("%d", status), latency.Seconds())
	}
}
