package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `INSERT INTO consumed_nonces (signer, nonce, consumed_at) VALUES (?, ?, ?)`
	assert.Equal(t, q, Rebind(DialectSQLite, q))
	assert.Equal(t,
		`INSERT INTO consumed_nonces (signer, nonce, consumed_at) VALUES ($1, $2, $3)`,
		Rebind(DialectPostgres, q))
}

func TestOpen_LiteMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	db, err := Open(context.Background(), Options{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, DialectSQLite, db.Dialect)
	assert.FileExists(t, filepath.Join(dir, "dispatcher.db"))

	_, err = db.ExecContext(context.Background(), `CREATE TABLE t (k TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), Rebind(db.Dialect, `INSERT INTO t (k) VALUES (?)`), "a")
	require.NoError(t, err)
}
