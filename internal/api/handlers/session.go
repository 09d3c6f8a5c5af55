package handlers

import (
	"github.com/cpp-cyber/ldapauth/internal/api/middleware"
	"github.com/cpp-cyber/ldapauth/internal/auth"
	"github.com/cpp-cyber/ldapauth/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// ginSession exposes the request's cookie session to the auth service
type ginSession struct {
	c *gin.Context
}

var _ auth.Session = (*ginSession)(nil)

func newGinSession(c *gin.Context) *ginSession {
	return &ginSession{c: c}
}

// UpdateSession replaces the session contents with account and saves it
func (s *ginSession) UpdateSession(account *models.Account) error {
	session := sessions.Default(s.c)
	session.Clear()
	session.Set(middleware.SessionAccountID, account.ID)
	session.Set(middleware.SessionUsername, account.Username)
	session.Set(middleware.SessionIsAdmin, account.IsAdmin)
	return session.Save()
}

func (s *ginSession) IPAddress() string {
	return s.c.ClientIP()
}

func (s *ginSession) UserAgent() string {
	return s.c.Request.UserAgent()
}
