package di

import (
	"path/filepath"
	"testing"

	"github.com/aristath/marketcore/internal/config"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.CoreDB)
	assert.NotNil(t, container.ClientDataDB)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "core.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "client_data.db"))

	// schemas applied
	var n int
	err = container.CoreDB.Conn().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'pending_orders'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.Reflection = false

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Equal(t, []domain.Market{domain.MarketCrypto, domain.MarketUSStock, domain.MarketForex, domain.MarketPrediction},
		container.DataSources.Markets())

	assert.Equal(t, []string{WorkerPendingOrders, WorkerPolymarket, WorkerPortfolioMonitor, WorkerReflection},
		container.Workers.Names())
	assert.True(t, container.Workers.Enabled(WorkerPendingOrders))
	assert.False(t, container.Workers.Enabled(WorkerReflection))

	// nothing is built or running until asked
	for _, s := range container.Workers.Snapshot() {
		assert.Equal(t, worker.StateNotStarted.String(), s.State)
	}

	runner, err := container.Workers.Get(WorkerReflection)
	require.NoError(t, err)
	assert.Equal(t, WorkerReflection, runner.Name())
	assert.Equal(t, worker.StateNotStarted, runner.State())

	names := make([]string, 0)
	for _, e := range container.Scheduler.Entries() {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"cache_sweep", "client_data_cleanup", "wal_checkpoint"}, names)
}

func TestWire_BadDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = "/dev/null/nope"

	_, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
}
