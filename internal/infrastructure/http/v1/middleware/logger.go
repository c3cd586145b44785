package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"specforge/pkg/logger"
)

// Logger middleware logs HTTP requests with timing and status.
// Health probes are logged at debug level.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		entry := log.WithContext(c.Request.Context())
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields = append(fields, "error", errs.String())
		}

		if c.FullPath() == "/health/live" || c.FullPath() == "/health/ready" {
			entry.Debugw("http request", fields...)
			return
		}
		entry.Infow("http request", fields...)
	}
}
