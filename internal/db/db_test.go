package db

import (
	"net/url"
	"testing"

	"github.com/ecosort/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	raw := URL(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     6543,
		User:     "eco",
		Password: "p@ss/word",
		DBName:   "ecosort_db",
		UseSSL:   true,
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:6543", u.Host)
	assert.Equal(t, "/ecosort_db", u.Path)
	assert.Equal(t, "eco", u.User.Username())
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", password)
	assert.Equal(t, "require", u.Query().Get("sslmode"))

	plain, err := url.Parse(URL(config.DatabaseConfig{Host: "localhost", Port: 5432}))
	require.NoError(t, err)
	assert.Equal(t, "disable", plain.Query().Get("sslmode"))
}
