package db

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSNRoles(t *testing.T) {
	writer := sqliteDSN("/tmp/scribe.db", false)
	assert.Contains(t, writer, "file:/tmp/scribe.db?")
	assert.Contains(t, writer, "_mode=rwc")
	assert.Contains(t, writer, "_journal_mode=WAL")
	assert.Contains(t, writer, "_busy_timeout=5000")

	reader := sqliteDSN("/tmp/scribe.db", true)
	assert.Contains(t, reader, "_mode=ro")
	assert.NotContains(t, reader, "_journal_mode",
		"journal mode is database-wide and belongs to the writer")
}

func TestResolveSQLitePathCreatesParents(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nested", "state", "scribe.db")

	resolved, err := resolveSQLitePath(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.FileExists(t, path)
}

func TestPoolCloseSharedHandle(t *testing.T) {
	raw, err := OpenSQLite(filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	shared := sqlx.NewDb(raw, "sqlite3")

	pool := NewPool(shared, shared)
	assert.Same(t, pool.Writer(), pool.Reader())
	require.NoError(t, pool.Close())
}
