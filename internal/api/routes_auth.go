package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/handlers"
)

func registerAuthRoutes(api *gin.RouterGroup, requireAuth gin.HandlerFunc, h *handlers.AuthHandler) {
	auth := api.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.GET("/me", requireAuth, h.Me)
	}
}
