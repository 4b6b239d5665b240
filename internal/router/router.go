package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ai-workout-scheduler/agent/internal/handler"
	"github.com/ai-workout-scheduler/agent/internal/middleware"
	"github.com/ai-workout-scheduler/agent/internal/pkg/token"
)

// Setup wires the ops API routes. Everything under /api/v1 requires a
// bearer token; /healthz is open for probes.
func Setup(mode string, ops *handler.OpsHandler, tokens token.Manager) *gin.Engine {
	gin.SetMode(mode)

	r := gin.New()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware(nil))

	r.GET("/healthz", ops.Healthz)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(tokens))
	{
		api.POST("/cycles", ops.TriggerCycle)
		api.GET("/actions", ops.ListActions)
		api.GET("/summary", ops.LastSummary)
	}

	return r
}
