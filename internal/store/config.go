package store

import (
	"fmt"
	"net"
	"net/url"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
)

// Config holds database configuration. DSN wins when set; otherwise the
// connection string is built from the individual DB_* fields.
type Config struct {
	Driver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN      string `envconfig:"DB_DSN"`
	Host     string `envconfig:"DB_HOST"`
	Port     string `envconfig:"DB_PORT"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME" default:"ldapauth"`
}

// LoadConfig loads database configuration from environment variables
func LoadConfig() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process database configuration: %w", err)
	}
	return &config, nil
}

// ConnectionString returns the DSN handed to the GORM dialector.
func (c *Config) ConnectionString() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}

	switch c.Driver {
	case DriverSQLite:
		return c.Name + ".db", nil

	case DriverMySQL:
		if c.Host == "" || c.Port == "" || c.User == "" || c.Password == "" {
			return "", fmt.Errorf("one or more database environment variables are not set")
		}
		cfg := mysqldriver.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, c.Port)
		cfg.DBName = c.Name
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil

	case DriverPostgres:
		if c.Host == "" || c.Port == "" || c.User == "" {
			return "", fmt.Errorf("one or more database environment variables are not set")
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   net.JoinHostPort(c.Host, c.Port),
			Path:   "/" + c.Name,
		}
		return u.String(), nil

	default:
		return "", fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
}
