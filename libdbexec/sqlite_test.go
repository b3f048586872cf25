package libdbexec_test

import (
	"context"
	"testing"

	libdb "github.com/contenox/relay/libdbexec"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL
);`

func setupSQLite(t *testing.T) (context.Context, libdb.DBManager) {
	t.Helper()
	ctx := context.TODO()
	db, err := libdb.NewSQLiteDBManager(ctx, ":memory:", testSchema)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return ctx, db
}

func TestUnit_SQLiteUniqueViolation(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()

	_, err := exec.ExecContext(ctx, `INSERT INTO notes (id, body) VALUES ($1, $2)`, "a", "first")
	require.NoError(t, err)

	_, err = exec.ExecContext(ctx, `INSERT INTO notes (id, body) VALUES ($1, $2)`, "a", "second")
	require.ErrorIs(t, err, libdb.ErrUniqueViolation)
}

func TestUnit_SQLiteNotNullViolation(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()

	_, err := exec.ExecContext(ctx, `INSERT INTO notes (id, body) VALUES ($1, $2)`, "b", nil)
	require.ErrorIs(t, err, libdb.ErrNotNullViolation)
}

func TestUnit_SQLiteScanNotFound(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()

	var body string
	err := exec.QueryRowContext(ctx, `SELECT body FROM notes WHERE id = $1`, "missing").Scan(&body)
	require.ErrorIs(t, err, libdb.ErrNotFound)
}

func TestUnit_SQLiteTransactionCommit(t *testing.T) {
	ctx, db := setupSQLite(t)

	tx, commit, release, err := db.WithTransaction(ctx)
	require.NoError(t, err)
	defer release()

	_, err = tx.ExecContext(ctx, `INSERT INTO notes (id, body) VALUES ($1, $2)`, "c", "committed")
	require.NoError(t, err)
	require.NoError(t, commit(ctx))
	require.NoError(t, release())

	var body string
	err = db.WithoutTransaction().QueryRowContext(ctx, `SELECT body FROM notes WHERE id = $1`, "c").Scan(&body)
	require.NoError(t, err)
	require.Equal(t, "committed", body)
}

func TestUnit_SQLiteTransactionRollback(t *testing.T) {
	ctx, db := setupSQLite(t)

	rolledBack := false
	tx, _, release, err := db.WithTransaction(ctx, func() { rolledBack = true })
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `INSERT INTO notes (id, body) VALUES ($1, $2)`, "d", "doomed")
	require.NoError(t, err)
	require.NoError(t, release())
	require.True(t, rolledBack)

	var body string
	err = db.WithoutTransaction().QueryRowContext(ctx, `SELECT body FROM notes WHERE id = $1`, "d").Scan(&body)
	require.ErrorIs(t, err, libdb.ErrNotFound)
}
