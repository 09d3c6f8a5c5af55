package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/cpp-cyber/ldapauth/internal/auth"
	"github.com/cpp-cyber/ldapauth/internal/metrics"
	"github.com/cpp-cyber/ldapauth/internal/models"

	"github.com/gin-gonic/gin"
)

// API endpoint request structures

type UsernamePasswordRequest struct {
	Username string `json:"username" binding:"required,max=255"`
	Password string `json:"password" binding:"required"`
}

// HistoryStore lists recorded logins of an account, newest first
type HistoryStore interface {
	ListLoginHistory(ctx context.Context, accountID string) ([]models.LoginHistory, error)
}

// HealthChecker is a dependency reported by the health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type AuthHandler struct {
	authService auth.Service
	history     HistoryStore
	metrics     metrics.Recorder
}

// validateAndBind binds the JSON body into req and answers 400 when it is invalid
func validateAndBind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		log.Printf("[DEBUG] API: Rejected request body on %s: %v", c.FullPath(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return false
	}
	return true
}
