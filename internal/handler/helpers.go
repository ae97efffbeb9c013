package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/ai"
	"github.com/xxxsen/ragpipe/internal/middleware"
	"github.com/xxxsen/ragpipe/internal/pkg/errcode"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
	"github.com/xxxsen/ragpipe/internal/pkg/response"
)

func parseTaskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid task id")
		return 0, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalidTransition):
		response.Error(c, errcode.ErrInvalidTransition, err.Error())
	case errors.Is(err, appErr.ErrInvalid), errors.Is(err, appErr.ErrDecode):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, ai.ErrUnavailable):
		logger.Warn("ai unavailable")
		response.Error(c, errcode.ErrAIUnavailable, "ai unavailable")
	case errors.Is(err, appErr.ErrQuery):
		logger.Error("query failed")
		response.Error(c, errcode.ErrQueryFailed, "query failed")
	case errors.Is(err, appErr.ErrUpstream):
		logger.Error("upstream failed")
		response.Error(c, errcode.ErrUpstream, "upstream error")
	case errors.Is(err, appErr.ErrStorage):
		logger.Error("storage failed")
		response.Error(c, errcode.ErrStorage, "storage error")
	default:
		logger.Error("request failed")
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
