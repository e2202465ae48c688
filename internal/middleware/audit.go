package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Audit logs every successful write to a library with the caller and resulting version.
func Audit(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		status := c.Writer.Status()
		if status >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("ip", c.ClientIP()),
			zap.String("version", c.Writer.Header().Get("Last-Modified-Version")),
		}
		if scope, ok := ScopeFrom(c); ok {
			fields = append(fields, zap.String("library", scope.Library.String()))
			if scope.Principal != nil {
				fields = append(fields, zap.String("key_id", scope.Principal.KeyID), zap.Int64("user_id", scope.Principal.UserID))
			}
		}
		logger.Info("library write", fields...)
	}
}
