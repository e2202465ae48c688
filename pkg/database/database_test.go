package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/libsync-api/pkg/config"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.DatabaseConfig{
		Host: "db", Port: 5432, User: "sync", Password: "p@ss", Name: "libsync", SSLMode: "disable",
	})
	assert.Equal(t, "postgres://sync:p%40ss@db:5432/libsync?application_name=libsync-api&connect_timeout=5&sslmode=disable", dsn)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", SQLiteDSN(":memory:"))
	assert.Equal(t, "file:x.db?mode=rwc&_pragma=busy_timeout(5000)", SQLiteDSN("file:x.db?mode=rwc&_pragma=foreign_keys(1)"))

	full := "file:libsync.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	assert.Equal(t, full, SQLiteDSN(full))
}
