// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"matrix-service/internal/utils"
)

// LoggingMiddleware logs each request once it completes
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.LogAPIRequest(
			c.Request.Method,
			path,
			utils.GetRequestID(c),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(startTime),
		)
	}
}
