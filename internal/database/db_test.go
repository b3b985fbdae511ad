package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, table string) bool {
	t.Helper()
	var n int
	err := db.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestMigrate_Core(t *testing.T) {
	db := newTestDB(t, NameCore)

	require.NoError(t, db.Migrate())
	// idempotent
	require.NoError(t, db.Migrate())

	for _, table := range []string{
		"pending_orders", "analysis_memory", "portfolio_positions",
		"portfolio_snapshots", "portfolio_totals", "portfolio_alerts",
		"prediction_markets", "prediction_analysis",
	} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestMigrate_ClientData(t *testing.T) {
	db := newTestDB(t, NameClientData)
	require.NoError(t, db.Migrate())

	for _, table := range []string{"realtime_quotes", "klines", "instrument_metadata", "listings"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := newTestDB(t, "scratch")
	assert.NoError(t, db.Migrate())
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := newTestDB(t, "tx")
	_, err := db.Conn().Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (1)")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (2)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO t (v) VALUES (3)")
		panic("bad")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestHealthAndStats(t *testing.T) {
	db := newTestDB(t, NameCore)
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.WALCheckpoint(""))
	assert.Error(t, db.WALCheckpoint("bogus"))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, NameCore, stats.Name)
	assert.Greater(t, stats.PageCount, int64(0))
}
