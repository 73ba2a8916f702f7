package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/observability"
)

// LoggingMiddleware records one structured line and one histogram
// observation per request.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		slog.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", elapsed.String(),
			"ip", c.ClientIP(),
		)

		observability.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).
			Observe(elapsed.Seconds())
	}
}
