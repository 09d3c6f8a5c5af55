package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PUBLIC: HealthCheckHandler handles GET requests for health checks with detailed service status
func HealthCheckHandler(authHandler *AuthHandler, database HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		services := gin.H{
			"api": "healthy",
		}
		healthStatus := gin.H{
			"status":   "healthy",
			"services": services,
		}

		statusCode := http.StatusOK

		check := func(name string, checker HealthChecker) {
			err := checker.HealthCheck(c.Request.Context())
			authHandler.metrics.RecordHealthCheck(name, err == nil)
			if err != nil {
				log.Printf("[ERROR] API: Health check for %s failed: %v", name, err)
				services[name] = gin.H{
					"status": "unhealthy",
				}
				healthStatus["status"] = "degraded"
				statusCode = http.StatusServiceUnavailable
				return
			}
			services[name] = "healthy"
		}

		// Check LDAP connection
		if authHandler.authService != nil {
			check("ldap", authHandler.authService)
		}

		// Check database connection
		if database != nil {
			check("database", database)
		}

		c.JSON(statusCode, healthStatus)
	}
}
