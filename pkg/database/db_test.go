package database

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSQLiteMemory(t *testing.T) {
	db := openMemory(t)
	assert.False(t, IsPostgres(db))

	ctx := context.Background()
	require.NoError(t, ExecAll(ctx, db,
		`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`,
		`INSERT INTO t (v) VALUES ('a')`,
	))

	var v string
	require.NoError(t, db.GetContext(ctx, &v, db.Rebind(`SELECT v FROM t WHERE id = ?`), 1))
	assert.Equal(t, "a", v)
}

func TestExecAllReportsFailingStatement(t *testing.T) {
	db := openMemory(t)
	err := ExecAll(context.Background(), db, "SELEC nonsense\nFROM nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELEC nonsense")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "")
	cfg := ConfigFromEnv()
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "reminders.db", cfg.DSN)

	t.Setenv("DATABASE_DRIVER", "")
	cfg = ConfigFromEnv()
	assert.Equal(t, DriverPostgres, cfg.Driver)
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'Asia/Shanghai'", quoteLiteral("Asia/Shanghai"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func openMemory(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Connect(Config{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
