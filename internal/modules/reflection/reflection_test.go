package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/domain"
	testutil "github.com/aristath/marketcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapQuoter map[string]float64

func (m mapQuoter) Quote(_ context.Context, _ domain.Market, symbol string, _ bool) (domain.Quote, datasource.Source, error) {
	p, ok := m[symbol]
	if !ok {
		return domain.Quote{}, "", &domain.UnavailableError{Symbol: symbol, Kind: domain.KindRealtime, Reason: "unsupported"}
	}
	return domain.Quote{Symbol: symbol, Last: p}, datasource.SourceLive, nil
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db := testutil.NewTestDB(t, database.NameCore)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func store(t *testing.T, repo *Repository, symbol string, d Decision, price string, at time.Time) string {
	t.Helper()
	id, err := repo.Store(context.Background(), Record{
		Market:          domain.MarketCrypto,
		Symbol:          symbol,
		Decision:        d,
		Confidence:      70,
		PriceAtAnalysis: decimal.RequireFromString(price),
		CreatedAt:       at,
	})
	require.NoError(t, err)
	return id
}

func TestGrade(t *testing.T) {
	tests := []struct {
		decision Decision
		ret      string
		want     bool
	}{
		{DecisionBuy, "2.01", true},
		{DecisionBuy, "2", false},
		{DecisionSell, "-2.5", true},
		{DecisionSell, "-2", false},
		{DecisionHold, "5", true},
		{DecisionHold, "-5", true},
		{DecisionHold, "5.1", false},
		{Decision("WAIT"), "0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.decision, decimal.RequireFromString(tt.ret)), "%s %s", tt.decision, tt.ret)
	}
}

func TestReturnPct(t *testing.T) {
	got := ReturnPct(decimal.NewFromInt(80), decimal.NewFromInt(100))
	assert.True(t, got.Equal(decimal.NewFromInt(25)), got.String())
}

func TestRepository_StoreRejectsBadInput(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.Store(ctx, Record{Symbol: "X", Decision: "MAYBE", PriceAtAnalysis: decimal.NewFromInt(1)})
	assert.Error(t, err)
	_, err = repo.Store(ctx, Record{Symbol: "X", Decision: DecisionBuy})
	assert.Error(t, err)

	id, err := repo.Store(ctx, Record{Market: domain.MarketCrypto, Symbol: "X", Decision: "buy", PriceAtAnalysis: decimal.NewFromInt(1)})
	require.NoError(t, err)
	recent, err := repo.Recent(ctx, domain.MarketCrypto, "X", 7, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, id, recent[0].ID)
	assert.Equal(t, DecisionBuy, recent[0].Decision)
}

func TestWorker_ValidatesOnlyTheWindow(t *testing.T) {
	repo := newRepo(t)
	now := time.Now()
	inWindow := now.Add(-7*24*time.Hour - 12*time.Hour)

	buyWin := store(t, repo, "BTC", DecisionBuy, "100", inWindow)
	store(t, repo, "ETH", DecisionSell, "100", inWindow)
	store(t, repo, "SOL", DecisionHold, "100", inWindow)
	noPrice := store(t, repo, "DOGE", DecisionBuy, "100", inWindow)
	tooNew := store(t, repo, "BTC", DecisionBuy, "100", now.Add(-24*time.Hour))
	tooOld := store(t, repo, "BTC", DecisionBuy, "100", now.Add(-9*24*time.Hour))

	quotes := mapQuoter{"BTC": 110, "ETH": 101, "SOL": 97}
	w := NewWorker(repo, quotes, 7, zerolog.Nop())
	w.now = func() time.Time { return now }

	stats, err := w.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Validated: 3, Correct: 2, Incorrect: 1, Skipped: 1, AccuracyPct: 66.67}, stats)

	pending, err := repo.Unvalidated(context.Background(), now.AddDate(0, 0, -30), now, 100)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, r := range pending {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{noPrice, tooNew, tooOld}, ids)

	recent, err := repo.Recent(context.Background(), domain.MarketCrypto, "BTC", 30, 10)
	require.NoError(t, err)
	for _, r := range recent {
		if r.ID != buyWin {
			continue
		}
		require.NotNil(t, r.WasCorrect)
		assert.True(t, *r.WasCorrect)
		require.NotNil(t, r.ActualReturnPct)
		assert.InDelta(t, 10.0, *r.ActualReturnPct, 1e-9)
	}

	// a second pass finds nothing new
	stats, err = w.Validate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Validated)
}

func TestRepository_Performance(t *testing.T) {
	repo := newRepo(t)
	now := time.Now()
	ctx := context.Background()
	inWindow := now.Add(-7*24*time.Hour - time.Hour)

	store(t, repo, "BTC", DecisionBuy, "100", inWindow)
	store(t, repo, "ETH", DecisionSell, "100", inWindow)
	store(t, repo, "SOL", DecisionHold, "100", inWindow)

	w := NewWorker(repo, mapQuoter{"BTC": 104, "ETH": 101, "SOL": 100}, 7, zerolog.Nop())
	w.now = func() time.Time { return now }
	_, err := w.Validate(ctx)
	require.NoError(t, err)

	stats, err := repo.Performance(ctx, "", "", 30)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAnalyses)
	assert.Equal(t, 66.67, stats.AccuracyPct)
	assert.Equal(t, 1.67, stats.AvgReturnPct)
	assert.Equal(t, map[Decision]int{DecisionBuy: 1, DecisionSell: 1, DecisionHold: 1}, stats.Distribution)
	assert.Equal(t, 30, stats.PeriodDays)

	btc, err := repo.Performance(ctx, domain.MarketCrypto, "BTC", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, btc.TotalAnalyses)
	assert.Equal(t, 100.0, btc.AccuracyPct)

	empty, err := repo.Performance(ctx, domain.MarketForex, "", 0)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalAnalyses)
	assert.Zero(t, empty.AccuracyPct)
}
