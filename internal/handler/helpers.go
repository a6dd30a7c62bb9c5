package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/middleware"
	"github.com/learnstack/tutord/internal/pkg/errcode"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
	"github.com/learnstack/tutord/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err))
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "upstream unavailable")
	case errors.Is(err, appErr.ErrPersistence):
		response.Error(c, errcode.ErrPersistence, "persistence failed")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
