package predictions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/providers/polymarket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	perCategoryLimit = 50
	fetchConcurrency = 3
)

// Lister fetches category listings by market.
type Lister interface {
	Listing(ctx context.Context, market domain.Market, category string, limit int, allowStale bool) ([]domain.PredictionMarket, datasource.Source, error)
}

// WorkerConfig tunes the prediction worker.
type WorkerConfig struct {
	Categories []string
	// AnalysisCache skips re-analysing a market analysed more recently than this
	AnalysisCache time.Duration
	MaxResults    int
}

// RunResult summarizes one pass.
type RunResult struct {
	Markets         int
	FailedFetches   int
	Analyzed        int
	SkippedAnalysis int
}

// Worker refreshes prediction markets and their opportunity analyses.
type Worker struct {
	repo   *Repository
	lister Lister
	cfg    WorkerConfig
	now    func() time.Time
	log    zerolog.Logger
}

// NewWorker creates the prediction worker.
func NewWorker(repo *Repository, lister Lister, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if len(cfg.Categories) == 0 {
		cfg.Categories = polymarket.Categories
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &Worker{
		repo:   repo,
		lister: lister,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("worker", "predictions").Logger(),
	}
}

// Cycle runs one refresh pass.
func (w *Worker) Cycle(ctx context.Context) error {
	_, err := w.Run(ctx)
	return err
}

// Run fetches every category, stores the deduplicated markets, and analyses
// the ones without a recent analysis.
func (w *Worker) Run(ctx context.Context) (RunResult, error) {
	var res RunResult
	start := w.now()

	markets, failed := w.fetchAll(ctx)
	res.FailedFetches = failed
	if failed == len(w.cfg.Categories) {
		return res, fmt.Errorf("all %d category fetches failed", failed)
	}
	res.Markets = len(markets)

	if err := w.repo.UpsertMarkets(ctx, markets, start); err != nil {
		return res, err
	}

	candidates := markets
	if w.cfg.AnalysisCache > 0 {
		recent, err := w.repo.AnalyzedSince(ctx, start.Add(-w.cfg.AnalysisCache))
		if err != nil {
			return res, err
		}
		candidates = make([]domain.PredictionMarket, 0, len(markets))
		for _, m := range markets {
			if recent[m.MarketID] {
				res.SkippedAnalysis++
				continue
			}
			candidates = append(candidates, m)
		}
	}

	analyses := Analyze(candidates, w.cfg.MaxResults, start)
	if err := w.repo.ReplaceAnalyses(ctx, analyses); err != nil {
		return res, err
	}
	res.Analyzed = len(analyses)

	w.log.Info().
		Int("markets", res.Markets).
		Int("failed_categories", res.FailedFetches).
		Int("opportunities", res.Analyzed).
		Int("analysis_cached", res.SkippedAnalysis).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction markets updated")
	return res, nil
}

// fetchAll lists every category with bounded concurrency and dedupes by
// market id, keeping first-seen order by category.
func (w *Worker) fetchAll(ctx context.Context) ([]domain.PredictionMarket, int) {
	results := make([][]domain.PredictionMarket, len(w.cfg.Categories))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, category := range w.cfg.Categories {
		g.Go(func() error {
			list, _, err := w.lister.Listing(gctx, domain.MarketPrediction, category, perCategoryLimit, true)
			if err != nil {
				w.log.Warn().Err(err).Str("category", category).Msg("Failed to fetch category")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = list
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var out []domain.PredictionMarket
	for _, list := range results {
		for _, m := range list {
			if m.MarketID == "" || seen[m.MarketID] {
				continue
			}
			seen[m.MarketID] = true
			out = append(out, m)
		}
	}
	return out, failed
}
