package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Host:     "db.internal",
		Port:     5432,
		User:     "district",
		Password: "p@ss word",
		Database: "insights",
		SSLMode:  "disable",
	}

	u, err := url.Parse(cfg.DSN())
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/insights", u.Path)
	assert.Equal(t, "district", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestConfig_DSNWithoutSSLMode(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 5433, User: "u", Database: "d"}
	u, err := url.Parse(cfg.DSN())
	require.NoError(t, err)
	assert.Empty(t, u.RawQuery)
}
