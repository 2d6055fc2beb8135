package database

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultSchema is the schema used when a caller does not name one.
const DefaultSchema = "public"

// Config holds all settings needed to connect to a database.
// It is built once by the caller and passed explicitly; nothing in dbops
// reads connection parameters from the environment on its own.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// ApplicationName is reported in pg_stat_activity.
	ApplicationName string

	// Timeouts
	ConnectTimeout   time.Duration // time limit for establishing the connection
	StatementTimeout time.Duration // server-side statement_timeout; 0 disables it

	// Pool tuning, used only by the HTTP service
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns settings for a local database with the given name.
func DefaultConfig(database string) *Config {
	return &Config{
		Host:             "localhost",
		Port:             5432,
		Database:         database,
		User:             "postgres",
		SSLMode:          "disable",
		ApplicationName:  "dbops",
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 60 * time.Second,
		MaxConns:         10,
		MinConns:         1,
		MaxConnLifetime:  30 * time.Minute,
		MaxConnIdleTime:  5 * time.Minute,
	}
}

// DSN renders the configuration as a postgres:// URL.
// User and password are escaped, so credentials may contain any character.
func (c *Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns the DSN with the password masked, for logging.
func (c *Config) Redacted() string {
	cp := *c
	if cp.Password != "" {
		cp.Password = "xxxxx"
	}
	return cp.DSN()
}
