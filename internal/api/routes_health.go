package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, checks []handlers.HealthCheck) {
	health := handlers.Health(checks...)
	r.GET("/health", health)
	r.GET("/api/health", health)
}
