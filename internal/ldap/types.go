package ldap

import (
	"context"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// =================================================
// Configuration
// =================================================

// Credentials describes how to reach and bind to the directory server.
type Credentials struct {
	Server       string `envconfig:"LDAP_SERVER"`
	Port         int    `envconfig:"LDAP_PORT"`
	BindDN       string `envconfig:"LDAP_USERNAME"`
	BindPassword string `envconfig:"LDAP_PASSWORD"`
	VerifyTLS    bool   `envconfig:"LDAP_SSL_VERIFY" default:"true"`
	StartTLS     bool   `envconfig:"LDAP_START_TLS" default:"false"`
}

// SearchSpec describes where and how user entries are looked up.
// UserFilter must contain exactly one "%s" slot for the username.
type SearchSpec struct {
	BaseDN            string `envconfig:"LDAP_ACCOUNT_BASE"`
	UserFilter        string `envconfig:"LDAP_USER_PATTERN" default:"(uid=%s)"`
	FullNameAttribute string `envconfig:"LDAP_ACCOUNT_FULLNAME" default:"displayname"`
	EmailAttribute    string `envconfig:"LDAP_ACCOUNT_EMAIL" default:"mail"`
}

type Config struct {
	Credentials
	SearchSpec
	Timeout time.Duration `envconfig:"LDAP_TIMEOUT" default:"10s"`
}

// =================================================
// LDAP Client
// =================================================

// Conn is the subset of *ldap.Conn used during an authentication attempt.
type Conn interface {
	Bind(username, password string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

var _ Conn = &ldap.Conn{}

// Dialer opens a connection to the directory server at hostAndPort.
type Dialer interface {
	Dial(ctx context.Context, hostAndPort string) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, hostAndPort string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, hostAndPort string) (Conn, error) {
	return f(ctx, hostAndPort)
}

// Client authenticates users against the directory. It holds no connection
// state: every call dials, uses and closes its own connection.
type Client struct {
	config *Config
	dialer Dialer

	netDialer *net.Dialer
}

// =================================================
// Users
// =================================================

// Identity is the normalized view of a directory entry that passed the
// user bind. Absent attributes are empty strings.
type Identity struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}
