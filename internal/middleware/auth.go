package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/api/response"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
	"github.com/ai-workout-scheduler/agent/internal/pkg/token"
)

// ContextKeySubject is the gin context key the token subject is stored under.
const ContextKeySubject = "subject"

// AuthMiddleware validates the ops API bearer token.
func AuthMiddleware(tokens token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.UnauthorizedError("missing bearer token"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.UnauthorizedError("invalid authorization format"))
			return
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			logger.Warn("token validation failed",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.UnauthorizedError("invalid or expired token"))
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Next()
	}
}

// GetSubject extracts the authenticated token subject from context.
func GetSubject(c *gin.Context) (string, bool) {
	subject, exists := c.Get(ContextKeySubject)
	if !exists {
		return "", false
	}
	s, ok := subject.(string)
	return s, ok
}
