package handlers

import (
	"log"
	"net/http"

	"github.com/cpp-cyber/ldapauth/internal/api/middleware"
	"github.com/cpp-cyber/ldapauth/internal/auth"
	"github.com/cpp-cyber/ldapauth/internal/metrics"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// =================================================
// Login / Logout / Session Handlers
// =================================================

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService auth.Service, history HistoryStore, recorder metrics.Recorder) *AuthHandler {
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}

	log.Println("[INFO] API: Auth handler initialized")

	return &AuthHandler{
		authService: authService,
		history:     history,
		metrics:     recorder,
	}
}

// LoginHandler handles the login POST request
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req UsernamePasswordRequest
	if !validateAndBind(c, &req) {
		return
	}

	if !h.authService.Authenticate(c.Request.Context(), newGinSession(c), req.Username, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	session := sessions.Default(c)
	isAdmin, _ := session.Get(middleware.SessionIsAdmin).(bool)

	c.JSON(http.StatusOK, gin.H{
		"message":  "Login successful",
		"username": session.Get(middleware.SessionUsername),
		"isAdmin":  isAdmin,
	})
}

// LogoutHandler handles user logout
func (h *AuthHandler) LogoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})

	if err := session.Save(); err != nil {
		log.Printf("[ERROR] API: Failed to clear session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save session"})
		return
	}

	h.metrics.RecordLogout()
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

// SessionHandler returns current session information for authenticated users
func (h *AuthHandler) SessionHandler(c *gin.Context) {
	session := sessions.Default(c)

	username, _ := session.Get(middleware.SessionUsername).(string)
	isAdmin, _ := session.Get(middleware.SessionIsAdmin).(bool)

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"id":            middleware.GetAccountID(c),
		"username":      username,
		"isAdmin":       isAdmin,
	})
}

// SessionHistoryHandler returns the most recent logins of the current account
func (h *AuthHandler) SessionHistoryHandler(c *gin.Context) {
	accountID := middleware.GetAccountID(c)

	history, err := h.history.ListLoginHistory(c.Request.Context(), accountID)
	if err != nil {
		log.Printf("[ERROR] API: Failed to list login history for account %s: %v", accountID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve login history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"count":   len(history),
	})
}
