package database

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig("shop")
	cfg.Host = "db.internal"
	cfg.User = "app"
	cfg.Password = "p@ss:w/rd"

	u, err := url.Parse(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/shop", u.Path)
	assert.Equal(t, "app", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss:w/rd", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
	assert.Equal(t, "dbops", u.Query().Get("application_name"))
}

func TestConfig_DSNDefaults(t *testing.T) {
	cfg := &Config{Host: "h", Database: "d", ConnectTimeout: 3 * time.Second}
	assert.Equal(t, "postgres://h:5432/d?connect_timeout=3&sslmode=disable", cfg.DSN())
}

func TestConfig_Redacted(t *testing.T) {
	cfg := DefaultConfig("shop")
	cfg.Password = "secret"
	assert.NotContains(t, cfg.Redacted(), "secret")
	assert.Contains(t, cfg.Redacted(), "xxxxx")
	assert.Equal(t, "secret", cfg.Password)
}
