package clientdata

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	testutil "github.com/aristath/marketcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	db := testutil.NewTestDB(t, "client_data")
	return NewRepository(db.Conn())
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	now := time.Now()
	quote := domain.Quote{Timestamp: now, Symbol: "BTCUSDT", Last: 64000.5, Volume: 1234}
	require.NoError(t, repo.Store(ctx, domain.KindRealtime, "BTCUSDT", quote, time.Hour))

	var got domain.Quote
	ok, err := repo.GetIfFresh(ctx, domain.KindRealtime, "BTCUSDT", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, 64000.5, got.Last)
	assert.True(t, now.Equal(got.Timestamp))
}

func TestGetIfFresh_Missing(t *testing.T) {
	repo := newRepo(t)

	var got domain.Quote
	ok, err := repo.GetIfFresh(context.Background(), domain.KindRealtime, "NOPE", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredRowsServeOnlyStaleReads(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	bars := []domain.Bar{{Time: 1, Close: 10}, {Time: 2, Close: 11}}
	require.NoError(t, repo.Store(ctx, domain.KindKline, "AAPL|1D|2", bars, -time.Hour))

	var fresh []domain.Bar
	ok, err := repo.GetIfFresh(ctx, domain.KindKline, "AAPL|1D|2", &fresh)
	require.NoError(t, err)
	assert.False(t, ok)

	var stale []domain.Bar
	storedAt, ok, err := repo.Get(ctx, domain.KindKline, "AAPL|1D|2", &stale)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bars, stale)
	assert.WithinDuration(t, time.Now(), storedAt, 5*time.Second)
}

func TestKindsAreSeparateTables(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, domain.KindMetadata, "AAPL", domain.Instrument{Symbol: "AAPL", Name: "Apple"}, time.Hour))

	var q domain.Quote
	ok, err := repo.GetIfFresh(ctx, domain.KindRealtime, "AAPL", &q)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreReplaces(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, domain.KindRealtime, "X", domain.Quote{Symbol: "X", Last: 1}, time.Hour))
	require.NoError(t, repo.Store(ctx, domain.KindRealtime, "X", domain.Quote{Symbol: "X", Last: 2}, time.Hour))

	var got domain.Quote
	ok, err := repo.GetIfFresh(ctx, domain.KindRealtime, "X", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Last)
}

func TestDelete(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, domain.KindListing, "crypto|50", []domain.PredictionMarket{{MarketID: "1"}}, time.Hour))
	require.NoError(t, repo.Delete(ctx, domain.KindListing, "crypto|50"))

	var got []domain.PredictionMarket
	_, ok, err := repo.Get(ctx, domain.KindListing, "crypto|50", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownKind(t *testing.T) {
	repo := newRepo(t)

	err := repo.Store(context.Background(), domain.ArtifactKind("secrets; DROP TABLE klines"), "k", 1, time.Hour)
	assert.Error(t, err)
}

func TestDeleteAllExpiredAndCleanupJob(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, domain.KindRealtime, "old", domain.Quote{Symbol: "old"}, -time.Hour))
	require.NoError(t, repo.Store(ctx, domain.KindKline, "old", []domain.Bar{}, -time.Hour))
	require.NoError(t, repo.Store(ctx, domain.KindRealtime, "new", domain.Quote{Symbol: "new"}, time.Hour))

	deleted, err := repo.DeleteExpired(ctx, domain.KindRealtime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	job := NewCleanupJob(repo, zerolog.Nop())
	require.NoError(t, job.Run())
	assert.Equal(t, "client_data_cleanup", job.Name())

	var bars []domain.Bar
	_, ok, err := repo.Get(ctx, domain.KindKline, "old", &bars)
	require.NoError(t, err)
	assert.False(t, ok)

	var q domain.Quote
	ok, err = repo.GetIfFresh(ctx, domain.KindRealtime, "new", &q)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetentionFor(t *testing.T) {
	assert.Equal(t, RetentionRealtime, RetentionFor(domain.KindRealtime))
	assert.Equal(t, RetentionKline, RetentionFor(domain.KindKline))
	assert.Equal(t, RetentionMetadata, RetentionFor(domain.KindMetadata))
	assert.Equal(t, RetentionListing, RetentionFor(domain.KindListing))
}
