package predictions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/domain"
	testutil "github.com/aristath/marketcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	byCategory map[string][]domain.PredictionMarket
	failing    map[string]bool
	calls      atomic.Int32
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
}

func (s *stubLister) Listing(_ context.Context, market domain.Market, category string, limit int, _ bool) ([]domain.PredictionMarket, datasource.Source, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxFlight.Load()
		if n <= cur || s.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if market != domain.MarketPrediction || limit != perCategoryLimit {
		return nil, "", errors.New("unexpected request")
	}
	if s.failing[category] {
		return nil, "", &domain.UnavailableError{Kind: domain.KindListing, Symbol: category, Reason: "circuit open"}
	}
	return s.byCategory[category], datasource.SourceLive, nil
}

func pm(id, category string, prob, volume float64) domain.PredictionMarket {
	return domain.PredictionMarket{
		MarketID:           id,
		Question:           "Question " + id,
		Category:           category,
		CurrentProbability: prob,
		Volume24h:          volume,
		OutcomeTokens:      map[string]float64{"YES": prob / 100, "NO": 1 - prob/100},
	}
}

func TestAnalyze_Rules(t *testing.T) {
	now := time.Now()
	out := Analyze([]domain.PredictionMarket{
		pm("low-volume", "crypto", 90, 5000),
		pm("coin-flip", "crypto", 55, 50000),
		pm("yes", "crypto", 80, 20000),
		pm("no", "crypto", 30, 20000),
		pm("extreme", "crypto", 99, 20000),
		pm("", "crypto", 99, 20000),
	}, 0, now)

	require.Len(t, out, 3)
	assert.Equal(t, "extreme", out[0].MarketID)
	assert.Equal(t, MaxScore, out[0].OpportunityScore, "score is capped")
	assert.Equal(t, "yes", out[1].MarketID)
	assert.Equal(t, 75.0, out[1].OpportunityScore)
	assert.Equal(t, RecommendYes, out[1].Recommendation)
	assert.Equal(t, "no", out[2].MarketID)
	assert.Equal(t, 70.0, out[2].OpportunityScore)
	assert.Equal(t, RecommendNo, out[2].Recommendation)
	for _, a := range out {
		assert.Equal(t, RuleConfidence, a.ConfidenceScore)
		assert.Zero(t, a.Divergence)
		assert.Equal(t, a.MarketProbability, a.PredictedProbability)
	}
}

func TestAnalyze_TopN(t *testing.T) {
	var markets []domain.PredictionMarket
	for i := 0; i < 30; i++ {
		markets = append(markets, pm(string(rune('a'+i)), "tech", 70, 20000))
	}
	out := Analyze(markets, 20, time.Now())
	assert.Len(t, out, 20)
	assert.Equal(t, "a", out[0].MarketID, "stable order on equal scores")
}

func newWorker(t *testing.T, lister Lister, cfg WorkerConfig) (*Worker, *Repository) {
	t.Helper()
	db := testutil.NewTestDB(t, database.NameCore)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	return NewWorker(repo, lister, cfg, zerolog.Nop()), repo
}

func TestWorker_Run(t *testing.T) {
	lister := &stubLister{
		byCategory: map[string][]domain.PredictionMarket{
			"crypto":   {pm("m1", "crypto", 80, 50000), pm("m2", "crypto", 52, 50000)},
			"finance":  {pm("m1", "crypto", 80, 50000), pm("m3", "finance", 20, 30000)},
			"politics": {pm("m4", "politics", 65, 15000)},
		},
		failing: map[string]bool{"sports": true},
	}
	w, repo := newWorker(t, lister, WorkerConfig{})
	ctx := context.Background()

	res, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunResult{Markets: 4, FailedFetches: 1, Analyzed: 3}, res)
	assert.Equal(t, int32(10), lister.calls.Load())
	assert.LessOrEqual(t, lister.maxFlight.Load(), int32(fetchConcurrency))

	opps, err := repo.Opportunities(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, opps, 3)
	// equal scores fall back to volume
	assert.Equal(t, "m1", opps[0].Market.MarketID)
	assert.Equal(t, RecommendYes, opps[0].Analysis.Recommendation)
	assert.InDelta(t, 0.8, opps[0].Market.OutcomeTokens["YES"], 1e-9)
	assert.Equal(t, "m3", opps[1].Market.MarketID)
	assert.Equal(t, 75.0, opps[1].Analysis.OpportunityScore)
	assert.Equal(t, RecommendNo, opps[1].Analysis.Recommendation)
	assert.Equal(t, "m4", opps[2].Market.MarketID)

	crypto, err := repo.Opportunities(ctx, "crypto", 10)
	require.NoError(t, err)
	require.Len(t, crypto, 1)
	assert.Equal(t, "m1", crypto[0].Market.MarketID)

	// a second pass replaces analyses instead of accumulating them
	_, err = w.Run(ctx)
	require.NoError(t, err)
	opps, err = repo.Opportunities(ctx, "all", 10)
	require.NoError(t, err)
	assert.Len(t, opps, 3)
}

func TestWorker_AnalysisCache(t *testing.T) {
	lister := &stubLister{byCategory: map[string][]domain.PredictionMarket{
		"crypto": {pm("m1", "crypto", 80, 50000)},
	}}
	w, repo := newWorker(t, lister, WorkerConfig{Categories: []string{"crypto"}, AnalysisCache: 30 * time.Minute})
	ctx := context.Background()

	res, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analyzed)

	res, err = w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Analyzed)
	assert.Equal(t, 1, res.SkippedAnalysis)

	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err = w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analyzed)

	opps, err := repo.Opportunities(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, opps, 1)
}

func TestWorker_AllCategoriesFailing(t *testing.T) {
	lister := &stubLister{failing: map[string]bool{"crypto": true, "tech": true}}
	w, _ := newWorker(t, lister, WorkerConfig{Categories: []string{"crypto", "tech"}})

	_, err := w.Run(context.Background())
	assert.Error(t, err)
}
