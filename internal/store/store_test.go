package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrationsAndPragmas(t *testing.T) {
	db := openTestDB(t)

	v, err := db.currentUserVersion()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.currentUserVersion()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestSplitStatementsKeepsTriggerBodyIntact(t *testing.T) {
	stmts := splitStatements(`
		CREATE TABLE t (a INTEGER);
		CREATE TRIGGER trg AFTER INSERT ON t BEGIN
			INSERT INTO t(a) VALUES (1);
			INSERT INTO t(a) VALUES (2);
		END;
	`)
	require.Len(t, stmts, 2)
}
