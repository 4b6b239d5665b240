package response

import (
	"time"

	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
)

type BaseResponse struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func Success(data interface{}) *BaseResponse {
	return &BaseResponse{
		Code:      apperrors.Success,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

func Error(code int, message string) *BaseResponse {
	return &BaseResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
}

func UnauthorizedError(message string) *BaseResponse {
	return Error(apperrors.ErrUnauthorized, message)
}

func BadRequestError(message string) *BaseResponse {
	return Error(apperrors.ErrBadRequest, message)
}

func NotFoundError(message string) *BaseResponse {
	return Error(apperrors.ErrNotFound, message)
}

func InternalServerError(message string) *BaseResponse {
	return Error(apperrors.ErrInternalServer, message)
}

func ConflictError(message string) *BaseResponse {
	return Error(apperrors.ErrConflict, message)
}
