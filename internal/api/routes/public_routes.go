package routes

import (
	"github.com/cpp-cyber/ldapauth/internal/api/handlers"
	"github.com/gin-gonic/gin"
)

// registerPublicRoutes defines all routes accessible without authentication
func registerPublicRoutes(g *gin.RouterGroup, authHandler *handlers.AuthHandler, database handlers.HealthChecker) {
	// GET Requests
	g.GET("/health", handlers.HealthCheckHandler(authHandler, database))

	// POST Requests
	g.POST("/login", authHandler.LoginHandler)
}
