package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/kelseyhightower/envconfig"
)

const (
	schemeLDAP  = "ldap"
	schemeLDAPS = "ldaps"

	filterSlot = "%s"
)

// LoadConfig loads and validates LDAP configuration from environment variables
func LoadConfig() (*Config, error) {
	log.Println("[DEBUG] LoadConfig: Loading LDAP configuration from environment variables")
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Printf("[ERROR] LoadConfig: Failed to process LDAP configuration: %v", err)
		return nil, fmt.Errorf("failed to process LDAP configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid LDAP configuration: %w", err)
	}
	log.Printf("[DEBUG] LoadConfig: LDAP configuration loaded - Server: %s, BaseDN: %s, VerifyTLS: %v",
		config.Server, config.BaseDN, config.VerifyTLS)
	return &config, nil
}

// Validate checks the parts of the configuration that would otherwise only
// fail on the first login attempt.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("LDAP_SERVER is required")
	}
	if _, _, err := c.address(); err != nil {
		return err
	}
	if c.BaseDN == "" {
		return errors.New("LDAP_ACCOUNT_BASE is required")
	}
	if strings.Count(c.UserFilter, filterSlot) != 1 {
		return fmt.Errorf("LDAP_USER_PATTERN must contain exactly one %q: %q", filterSlot, c.UserFilter)
	}
	if _, err := ldap.CompileFilter(buildFilter(c.UserFilter, "probe")); err != nil {
		return fmt.Errorf("LDAP_USER_PATTERN is not a valid filter: %w", err)
	}
	if c.FullNameAttribute == "" || c.EmailAttribute == "" {
		return errors.New("LDAP_ACCOUNT_FULLNAME and LDAP_ACCOUNT_EMAIL must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("LDAP_TIMEOUT must be positive, got %s", c.Timeout)
	}
	return nil
}

// address returns the scheme and host:port to dial. Server may be a bare
// host or an ldap:// / ldaps:// URL; Port overrides any port in the URL.
func (c *Config) address() (string, string, error) {
	scheme := schemeLDAP
	host := c.Server

	if strings.Contains(c.Server, "://") {
		u, err := url.Parse(c.Server)
		if err != nil {
			return "", "", fmt.Errorf("invalid LDAP_SERVER %q: %w", c.Server, err)
		}
		scheme = strings.ToLower(u.Scheme)
		host = u.Host
	}

	if scheme != schemeLDAP && scheme != schemeLDAPS {
		return "", "", fmt.Errorf("unsupported LDAP URL scheme: %s", scheme)
	}
	if host == "" {
		return "", "", fmt.Errorf("invalid LDAP_SERVER %q: missing host", c.Server)
	}

	port := ""
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, port = h, p
	}
	if c.Port > 0 {
		port = strconv.Itoa(c.Port)
	}
	if port == "" {
		port = ldap.DefaultLdapPort
		if scheme == schemeLDAPS {
			port = ldap.DefaultLdapsPort
		}
	}

	return scheme, net.JoinHostPort(strings.Trim(host, "[]"), port), nil
}

// NewClient creates a new LDAP client. A nil dialer selects the network
// dialer built from config.
func NewClient(config *Config, dialer Dialer) *Client {
	c := &Client{
		config:    config,
		netDialer: &net.Dialer{Timeout: config.Timeout},
	}
	if dialer == nil {
		dialer = DialerFunc(c.dialNetwork)
	}
	c.dialer = dialer
	return c
}

// Config returns the LDAP configuration
func (c *Client) Config() *Config {
	return c.config
}

// =================================================
// Connectivity
// =================================================

// tlsConfig is built per connection so that disabling certificate
// verification never leaks outside directory traffic.
func (c *Client) tlsConfig(hostAndPort string) *tls.Config {
	host, _, err := net.SplitHostPort(hostAndPort)
	if err != nil {
		host = hostAndPort
	}
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: !c.config.VerifyTLS, //nolint:gosec // opt-in via LDAP_SSL_VERIFY=false
		MinVersion:         tls.VersionTLS12,
	}
}

// dialNetwork is the default Dialer. go-ldap's DialURL has no context
// support, so the socket is opened here and handed to ldap.NewConn.
func (c *Client) dialNetwork(ctx context.Context, hostAndPort string) (Conn, error) {
	scheme, _, err := c.config.address()
	if err != nil {
		return nil, err
	}

	var netConn net.Conn
	isTLS := scheme == schemeLDAPS
	if isTLS {
		log.Printf("[DEBUG] LDAP dial: Using LDAPS - VerifyTLS: %v", c.config.VerifyTLS)
		tlsDialer := &tls.Dialer{NetDialer: c.netDialer, Config: c.tlsConfig(hostAndPort)}
		netConn, err = tlsDialer.DialContext(ctx, "tcp", hostAndPort)
	} else {
		netConn, err = c.netDialer.DialContext(ctx, "tcp", hostAndPort)
	}
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	conn := ldap.NewConn(netConn, isTLS)
	conn.Start()
	conn.SetTimeout(c.config.Timeout)

	if !isTLS && c.config.StartTLS {
		log.Printf("[DEBUG] LDAP dial: Upgrading connection with StartTLS - VerifyTLS: %v", c.config.VerifyTLS)
		if err := conn.StartTLS(c.tlsConfig(hostAndPort)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	return conn, nil
}

// connect dials the server and performs the service bind. The caller owns
// the returned connection.
func (c *Client) connect(ctx context.Context) (Conn, error) {
	_, hostAndPort, err := c.config.address()
	if err != nil {
		return nil, &ConnectionError{Operation: "connect", Server: c.config.Server, Cause: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	log.Printf("[DEBUG] LDAP Connect: Attempting to dial %s", hostAndPort)
	conn, err := c.dialer.Dial(dialCtx, hostAndPort)
	if err != nil {
		log.Printf("[ERROR] LDAP Connect: Failed to dial LDAP server %s: %v", hostAndPort, err)
		return nil, &ConnectionError{Operation: "connect", Server: hostAndPort, Cause: err}
	}

	if c.config.BindDN == "" {
		log.Println("[DEBUG] LDAP Connect: No bind user configured, using anonymous bind")
		return conn, nil
	}

	log.Printf("[DEBUG] LDAP Connect: Binding as service user: %s", c.config.BindDN)
	if err := conn.Bind(c.config.BindDN, c.config.BindPassword); err != nil {
		log.Printf("[ERROR] LDAP Connect: Failed to bind as service user: %v", err)
		closeConn(conn)
		return nil, &ConnectionError{Operation: "bind", Server: hostAndPort, Cause: err}
	}

	return conn, nil
}

// Ping dials the server and binds with the service credentials. It is the
// pre-flight check run at startup and by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	closeConn(conn)
	return nil
}

func closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		log.Printf("[DEBUG] LDAP Disconnect: Error closing connection: %v", err)
	}
}

// =================================================
// Users
// =================================================

// FindUser looks up username and verifies password with a bind as the
// matching entry. It returns ErrNotFound for unknown users and rejected
// passwords alike, *ConnectionError when the directory is unreachable or
// the service bind fails, and *SearchError when the search itself fails.
func (c *Client) FindUser(ctx context.Context, username, password string) (*Identity, error) {
	// An empty password would turn the user bind into an unauthenticated
	// bind, which many servers report as success.
	if username == "" || password == "" {
		return nil, ErrNotFound
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeConn(conn)

	filter := buildFilter(c.config.UserFilter, username)
	req := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(c.config.Timeout/time.Second), false,
		filter,
		[]string{c.config.FullNameAttribute, c.config.EmailAttribute},
		nil,
	)
	log.Printf("[DEBUG] FindUser: Search filter: %s, BaseDN: %s", filter, c.config.BaseDN)

	result, err := conn.Search(req)
	if err != nil {
		log.Printf("[ERROR] FindUser: Failed to search for user %s: %v", username, err)
		return nil, &SearchError{BaseDN: c.config.BaseDN, Filter: filter, Cause: err}
	}

	if len(result.Referrals) > 0 {
		log.Printf("[DEBUG] FindUser: Ignoring %d referral(s) returned for %s", len(result.Referrals), username)
	}

	if len(result.Entries) == 0 {
		log.Printf("[DEBUG] FindUser: User not found: %s", username)
		return nil, ErrNotFound
	}
	if len(result.Entries) > 1 {
		log.Printf("[DEBUG] FindUser: %d entries matched %s, using the first", len(result.Entries), username)
	}

	entry := result.Entries[0]
	if entry == nil || entry.DN == "" {
		return nil, ErrNotFound
	}

	if err := conn.Bind(entry.DN, password); err != nil {
		if isNetworkError(err) {
			log.Printf("[ERROR] FindUser: User bind for %s interrupted: %v", entry.DN, err)
			return nil, &ConnectionError{Operation: "user bind", Server: c.config.Server, Cause: err}
		}
		log.Printf("[DEBUG] FindUser: Bind failed for %s: %v", entry.DN, err)
		return nil, ErrNotFound
	}

	log.Printf("[DEBUG] FindUser: Bind successful for %s", entry.DN)
	identity := MapEntry(username, entry, c.config.SearchSpec)
	return &identity, nil
}

// buildFilter substitutes the escaped username into the filter template.
func buildFilter(template, username string) string {
	return strings.Replace(template, filterSlot, ldap.EscapeFilter(username), 1)
}
