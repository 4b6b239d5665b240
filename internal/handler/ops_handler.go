package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-workout-scheduler/agent/internal/api/response"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/repository"
	"github.com/ai-workout-scheduler/agent/internal/service"
)

// defaultActionWindow bounds the audit listing when no since parameter is
// given.
const defaultActionWindow = 7 * 24 * time.Hour

// OpsHandler exposes the operational surface: health, manual cycle trigger,
// audit log and the last cycle summary.
type OpsHandler struct {
	*BaseHandler
	orchestrator service.Orchestrator
	auditRepo    repository.AuditRepository
	lastSummary  func(ctx context.Context) ([]byte, error)
	version      string
	horizonDays  int
	trailingDays int
}

// NewOpsHandler creates a new OpsHandler instance. lastSummary may be nil
// when no summary store is configured.
func NewOpsHandler(
	orchestrator service.Orchestrator,
	auditRepo repository.AuditRepository,
	lastSummary func(ctx context.Context) ([]byte, error),
	version string,
	horizonDays, trailingDays int,
) *OpsHandler {
	return &OpsHandler{
		BaseHandler:  NewBaseHandler(),
		orchestrator: orchestrator,
		auditRepo:    auditRepo,
		lastSummary:  lastSummary,
		version:      version,
		horizonDays:  horizonDays,
		trailingDays: trailingDays,
	}
}

// Healthz reports process liveness.
func (h *OpsHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

// TriggerCycle runs one full cycle synchronously and returns its summary.
// The advisory lock keeps this safe alongside the daemon schedule.
func (h *OpsHandler) TriggerCycle(c *gin.Context) {
	opts := service.CycleOptions{
		DryRun:       c.Query("dry_run") == "true",
		HorizonDays:  h.horizonDays,
		TrailingDays: h.trailingDays,
	}

	summary, err := h.orchestrator.RunCycle(c.Request.Context(), opts)
	if err != nil && summary == nil {
		h.Error(c, err)
		return
	}
	if err != nil {
		// Aborted cycles still carry a summary worth returning
		c.JSON(httpStatus(apperrors.CodeOf(err)), response.Error(apperrors.CodeOf(err), err.Error()))
		return
	}
	h.Success(c, summary)
}

// ListActions returns recent audit actions, newest first.
func (h *OpsHandler) ListActions(c *gin.Context) {
	since := time.Now().Add(-defaultActionWindow)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.BadRequestError("since must be RFC3339"))
			return
		}
		since = parsed
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.BadRequestError("limit must be an integer"))
			return
		}
		if parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	actions, err := h.auditRepo.ListRecent(c.Request.Context(), since, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, gin.H{"actions": actions, "count": len(actions)})
}

// LastSummary returns the stored summary of the most recent cycle.
func (h *OpsHandler) LastSummary(c *gin.Context) {
	if h.lastSummary == nil {
		c.JSON(http.StatusNotFound, response.NotFoundError("no summary store configured"))
		return
	}

	payload, err := h.lastSummary(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusNotFound, response.NotFoundError("no cycle has completed yet"))
		return
	}
	h.Success(c, json.RawMessage(payload))
}
