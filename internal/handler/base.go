package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/api/response"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new BaseHandler instance.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// Success sends a successful response with data.
func (h *BaseHandler) Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, response.Success(data))
}

// Error maps an error chain onto the scheduler status code and HTTP status.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)

	var appErr *apperrors.AppError
	message := "internal server error"
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.Int("code", code),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.JSON(status, response.Error(code, message))
}

func httpStatus(code int) int {
	switch code {
	case apperrors.ErrBadRequest, apperrors.ErrInvalidParam, apperrors.ErrConfig:
		return http.StatusBadRequest
	case apperrors.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrForbidden, apperrors.ErrPermission:
		return http.StatusForbidden
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrConflict, apperrors.ErrAlreadyRunning:
		return http.StatusConflict
	case apperrors.ErrDeadlineExceeded:
		return http.StatusGatewayTimeout
	case apperrors.ErrTransientExternal, apperrors.ErrExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
