package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/leasehub/internal/auth"
	"github.com/charlesng35/leasehub/internal/middleware"
	"github.com/charlesng35/leasehub/pkg/errors"
	"github.com/charlesng35/leasehub/pkg/metrics"
	"github.com/charlesng35/leasehub/pkg/response"
)

// AuthHandler manages sign-in for owners and invitees linking existing accounts.
type AuthHandler struct {
	logins *iauth.LoginService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(logins *iauth.LoginService) *AuthHandler {
	return &AuthHandler{logins: logins}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.logins.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, result)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	value, ok := c.Get(middleware.CtxClaimsKey)
	claims, _ := value.(*iauth.Claims)
	if !ok || claims == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"userId": claims.UserID,
		"email":  claims.Email,
		"role":   claims.Role,
	})
}
