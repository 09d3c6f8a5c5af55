package routes

import (
	"github.com/cpp-cyber/ldapauth/internal/api/handlers"
	"github.com/gin-gonic/gin"
)

// registerPrivateRoutes defines all routes accessible to authenticated users
func registerPrivateRoutes(g *gin.RouterGroup, authHandler *handlers.AuthHandler) {
	// GET Requests
	g.GET("/session", authHandler.SessionHandler)
	g.GET("/session/history", authHandler.SessionHistoryHandler)

	// POST Requests
	g.POST("/logout", authHandler.LogoutHandler)
}
