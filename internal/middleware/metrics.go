package middleware

import (
	"strconv"
	"time"

	"monitorrunner/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records HTTP request metrics.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		endpoint := c.FullPath()
		statusCode := strconv.Itoa(c.Writer.Status())

		endpoint = sanitizeEndpoint(endpoint)

		metrics.RecordHTTPRequest(method, endpoint, statusCode, duration)
	}
}

// sanitizeEndpoint normalizes gin route patterns for low-cardinality metrics labels.
func sanitizeEndpoint(endpoint string) string {
	if endpoint == "" {
		return "unknown"
	}

	replacements := map[string]string{
		"/monitors/:id/dryrun": "/monitors/{id}/dryrun",
	}

	if replacement, ok := replacements[endpoint]; ok {
		return replacement
	}

	return endpoint
}
