package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/api/response"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
)

// maxStackTraceSize bounds the stack trace recorded for a handler panic.
const maxStackTraceSize = 4096

// RecoveryMiddleware catches handler panics and turns them into 500s.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				if len(stack) > maxStackTraceSize {
					stack = stack[:maxStackTraceSize]
				}

				logger.Error("handler panic",
					zap.Any("panic", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.String("stack_trace", string(stack)),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError,
					response.InternalServerError("internal server error"))
			}
		}()

		c.Next()
	}
}
