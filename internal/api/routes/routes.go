package routes

import (
	"github.com/cpp-cyber/ldapauth/internal/api/handlers"
	"github.com/cpp-cyber/ldapauth/internal/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all API routes with their respective middleware and handlers
func RegisterRoutes(r *gin.Engine, authHandler *handlers.AuthHandler, database handlers.HealthChecker, metricsEnabled bool) {
	// Public routes (no authentication required)
	public := r.Group("/api/v1")
	registerPublicRoutes(public, authHandler, database)

	// Private routes (authentication required)
	private := r.Group("/api/v1")
	private.Use(middleware.AuthRequired)
	registerPrivateRoutes(private, authHandler)

	if metricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}
