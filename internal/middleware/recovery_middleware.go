// internal/middleware/recovery_middleware.go
package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"matrix-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope. Responses
// that were already started, such as an upgraded websocket, are only
// aborted.
func RecoveryMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		err, ok := recovered.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", recovered)
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		logger.Error("Handler panicked",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("request_id", utils.GetRequestID(c)),
			zap.Error(err),
			zap.Stack("stacktrace"),
		)

		if c.Writer.Written() {
			c.Abort()
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
	})
}
