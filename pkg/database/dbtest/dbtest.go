// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database"
)

// Open returns a fresh in-memory SQLite database that is closed when the
// test ends.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
