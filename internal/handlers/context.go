package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/middleware"
)

// requestContext returns the request context, or Background when the handler
// runs without an HTTP request.
func requestContext(c *gin.Context) context.Context {
	if c != nil && c.Request != nil {
		return c.Request.Context()
	}
	return context.Background()
}

// callerID is the authenticated identity id, empty for anonymous requests.
func callerID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
}
