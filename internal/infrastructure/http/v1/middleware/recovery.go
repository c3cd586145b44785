// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
	"specforge/pkg/logger"
)

// Recovery turns a panicking handler into a 500 response. The stack trace
// is logged and never sent to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "panic recovered",
				"error", rec,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"stack", string(debug.Stack()),
			)
			appErr := apperror.NewInternal(fmt.Errorf("panic: %v", rec))
			_ = c.Error(appErr)
			// the error handler sits below us and was unwound by the panic
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
					"code":    appErr.Code,
					"message": appErr.Message,
					"details": map[string]any{"request_id": c.GetString("request_id")},
				})
				return
			}
			c.Abort()
		}()
		c.Next()
	}
}
