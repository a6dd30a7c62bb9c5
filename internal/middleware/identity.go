package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/learnstack/tutord/internal/pkg/errcode"
	"github.com/learnstack/tutord/internal/pkg/response"
)

const ContextUserIDKey = "user_id"

// Identity trusts the X-User-Id header set by the authenticating gateway
// in front of this service. Requests without it are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing identity")
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}
