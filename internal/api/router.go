package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/leasehub/internal/app"
	iauth "github.com/charlesng35/leasehub/internal/auth"
	"github.com/charlesng35/leasehub/internal/handlers"
	"github.com/charlesng35/leasehub/internal/middleware"
	"github.com/charlesng35/leasehub/internal/services"
)

// Dependencies carries the services the HTTP layer is built from.
type Dependencies struct {
	JWT          *iauth.JWTService
	Logins       *iauth.LoginService
	Invitations  *services.InvitationService
	RateStore    middleware.RateStore
	HealthChecks []handlers.HealthCheck
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Logins == nil {
		return nil, fmt.Errorf("login service must be provided")
	}
	if deps.Invitations == nil {
		return nil, fmt.Errorf("invitation service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Actor())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	registerHealthRoutes(r, deps.HealthChecks)

	api := r.Group("/api")
	requireAuth := middleware.Auth(deps.JWT)

	registerAuthRoutes(api, requireAuth, handlers.NewAuthHandler(deps.Logins))
	registerInvitationRoutes(api, invitationRouteDeps{
		Handler:      handlers.NewInvitationHandler(deps.Invitations),
		RequireAuth:  requireAuth,
		OptionalAuth: middleware.OptionalAuth(deps.JWT),
		Throttle:     throttle(cfg.Server.RateLimit, deps.RateStore),
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// throttle returns the rate limiter for public endpoints, or a pass-through
// when limiting is not configured.
func throttle(cfg app.RateLimitConfig, store middleware.RateStore) gin.HandlerFunc {
	if store == nil || cfg.Requests <= 0 || cfg.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(store, cfg.Requests, cfg.Window)
}
