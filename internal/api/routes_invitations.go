package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/handlers"
)

type invitationRouteDeps struct {
	Handler      *handlers.InvitationHandler
	RequireAuth  gin.HandlerFunc
	OptionalAuth gin.HandlerFunc
	Throttle     gin.HandlerFunc
}

func registerInvitationRoutes(api *gin.RouterGroup, deps invitationRouteDeps) {
	// Invitees are anonymous until they redeem, so the action endpoint only
	// reads a bearer token when one is sent.
	api.POST("/invitations/actions", deps.Throttle, deps.OptionalAuth, deps.Handler.Actions)

	api.GET("/invitations/:id/link", deps.RequireAuth, deps.Handler.Link)
	api.POST("/properties/:id/invitations", deps.RequireAuth, deps.Handler.Issue)
	api.GET("/properties/:id/invitations/activity", deps.RequireAuth, deps.Handler.Activity)
}
