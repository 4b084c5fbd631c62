package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/auditctx"
)

// Actor records the caller's address and user agent on the request context
// for audit entries. Auth adds the user id once a token is validated.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
