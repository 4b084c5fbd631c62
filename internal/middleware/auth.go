package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/auditctx"
	iauth "github.com/charlesng35/leasehub/internal/auth"
	"github.com/charlesng35/leasehub/pkg/errors"
	"github.com/charlesng35/leasehub/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return authenticate(jwt, true)
}

// OptionalAuth populates the caller identity when a bearer token is present
// and lets anonymous requests through. A token that fails validation is
// still rejected.
func OptionalAuth(jwt *iauth.JWTService) gin.HandlerFunc {
	return authenticate(jwt, false)
}

func authenticate(jwt *iauth.JWTService, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		if authz == "" && !required {
			c.Next()
			return
		}
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			unauthorized(c)
			return
		}

		claims, err := jwt.ValidateAccessToken(strings.TrimSpace(authz[7:]))
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Request = c.Request.WithContext(auditctx.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}
