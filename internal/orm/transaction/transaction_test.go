package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a test database with a test table
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE test_records (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`)
	require.NoError(t, err)
	return db
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_records").Scan(&n))
	return n
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db := setupTestDB(t)
		err := NewManager(db).WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES ('a')")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRecords(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db := setupTestDB(t)
		boom := errors.New("boom")
		err := NewManager(db).WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES ('a')"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, countRecords(t, db))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		db := setupTestDB(t)
		assert.Panics(t, func() {
			_ = NewManager(db).WithTransaction(ctx, func(tx *sql.Tx) error {
				_, _ = tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES ('a')")
				panic("boom")
			})
		})
		assert.Equal(t, 0, countRecords(t, db))
	})

	t.Run("isolation level", func(t *testing.T) {
		db := setupTestDB(t)
		mgr := NewManager(db).WithIsolation(ReadCommitted)
		require.NoError(t, mgr.WithTransaction(ctx, func(tx *sql.Tx) error { return nil }))
		assert.Equal(t, "READ COMMITTED", ReadCommitted.String())
		assert.Nil(t, Default.ToSQLOptions())
	})
}

func TestTransactionState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := NewManager(db).Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrAlreadyCommitted)
	assert.ErrorIs(t, tx.Rollback(), ErrAlreadyCommitted)

	tx, err = NewManager(db).Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())
	assert.ErrorIs(t, tx.Commit(), ErrAlreadyRolledBack)
}
