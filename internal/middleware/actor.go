package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/auditctx"
)

// RequestActor records the client address and user agent on the request context for audit logging.
func RequestActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
