package auth

import (
	"context"
	"errors"

	"github.com/cpp-cyber/ldapauth/internal/ldap"
	"github.com/cpp-cyber/ldapauth/internal/models"
)

// BackendName is recorded as the auth type of every directory login
const BackendName = "LDAP"

var (
	// ErrConflict is returned when a local account with the same username
	// exists but was not provisioned from the directory
	ErrConflict = errors.New("account exists and is not directory managed")

	// ErrProvisioning is returned when a directory account could not be
	// created or read back from the account store
	ErrProvisioning = errors.New("failed to provision directory account")

	// ErrSession is returned when the authenticated session could not be updated
	ErrSession = errors.New("failed to update session")
)

// =================================================
// Collaborators
// =================================================

// Directory finds and verifies users in the LDAP directory
type Directory interface {
	FindUser(ctx context.Context, username, password string) (*ldap.Identity, error)
	Ping(ctx context.Context) error
}

// AccountStore is the subset of the account store used during login.
// GetAccountByUsername returns store.ErrRecordNotFound when the account is missing
// and CreateAccount returns store.ErrUsernameConflict on duplicates.
type AccountStore interface {
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
}

// Session is the request-scoped session being authenticated
type Session interface {
	UpdateSession(account *models.Account) error
	IPAddress() string
	UserAgent() string
}

// LoginRecorder stores successful logins
type LoginRecorder interface {
	CreateLoginHistory(ctx context.Context, authType, accountID, ipAddress, userAgent string) error
}

// =================================================
// Auth Service Interface
// =================================================

type Service interface {
	// Authentication
	Authenticate(ctx context.Context, session Session, username, password string) bool

	// Health
	HealthCheck(ctx context.Context) error
}
