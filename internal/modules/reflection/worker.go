package reflection

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Grading thresholds, in percent.
var (
	buyThreshold  = decimal.NewFromInt(2)
	sellThreshold = decimal.NewFromInt(-2)
	holdBand      = decimal.NewFromInt(5)
)

const (
	DefaultDaysAgo   = 7
	DefaultBatchSize = 50
)

// Quoter fetches realtime quotes by market.
type Quoter interface {
	Quote(ctx context.Context, market domain.Market, symbol string, allowStale bool) (domain.Quote, datasource.Source, error)
}

// Stats is the outcome of one validation pass.
type Stats struct {
	Validated   int     `json:"validated"`
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Skipped     int     `json:"skipped"`
	Errors      int     `json:"errors"`
	AccuracyPct float64 `json:"accuracy_pct"`
}

// Worker validates decisions made DaysAgo days ago against today's price.
type Worker struct {
	repo    *Repository
	quotes  Quoter
	daysAgo int
	batch   int
	now     func() time.Time
	log     zerolog.Logger
}

// NewWorker creates the reflection worker. daysAgo <= 0 uses DefaultDaysAgo.
func NewWorker(repo *Repository, quotes Quoter, daysAgo int, log zerolog.Logger) *Worker {
	if daysAgo <= 0 {
		daysAgo = DefaultDaysAgo
	}
	return &Worker{
		repo:    repo,
		quotes:  quotes,
		daysAgo: daysAgo,
		batch:   DefaultBatchSize,
		now:     time.Now,
		log:     log.With().Str("worker", "reflection").Logger(),
	}
}

// Cycle runs one validation pass.
func (w *Worker) Cycle(ctx context.Context) error {
	_, err := w.Validate(ctx)
	return err
}

// Validate grades the unvalidated records created between daysAgo+1 and
// daysAgo days ago. Records whose price is unavailable are skipped and picked
// up again next pass while they remain in the window.
func (w *Worker) Validate(ctx context.Context) (Stats, error) {
	var stats Stats

	now := w.now()
	from := now.AddDate(0, 0, -(w.daysAgo + 1))
	to := now.AddDate(0, 0, -w.daysAgo)

	records, err := w.repo.Unvalidated(ctx, from, to, w.batch)
	if err != nil {
		return stats, err
	}

	for _, rec := range records {
		// a few minutes of staleness is irrelevant on a multi-day horizon
		q, _, err := w.quotes.Quote(ctx, rec.Market, rec.Symbol, true)
		if err != nil || q.Last <= 0 {
			w.log.Debug().Err(err).Str("symbol", rec.Symbol).Msg("No price for validation, skipping")
			stats.Skipped++
			continue
		}

		ret := ReturnPct(rec.PriceAtAnalysis, decimal.NewFromFloat(q.Last))
		correct := Grade(rec.Decision, ret)
		retF, _ := ret.Round(4).Float64()

		if err := w.repo.MarkValidated(ctx, rec.ID, retF, correct, now); err != nil {
			w.log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to validate analysis")
			stats.Errors++
			continue
		}
		stats.Validated++
		if correct {
			stats.Correct++
		} else {
			stats.Incorrect++
		}
	}

	if stats.Validated > 0 {
		stats.AccuracyPct = round2(float64(stats.Correct) / float64(stats.Validated) * 100)
	}
	w.log.Info().
		Int("validated", stats.Validated).
		Int("correct", stats.Correct).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Float64("accuracy_pct", stats.AccuracyPct).
		Msg("Reflection pass completed")

	if stats.Errors > 0 && stats.Validated == 0 {
		return stats, fmt.Errorf("reflection: all %d updates failed", stats.Errors)
	}
	return stats, nil
}

// ReturnPct is (current-entry)/entry*100. entry must be positive.
func ReturnPct(entry, current decimal.Decimal) decimal.Decimal {
	return current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
}

// Grade reports whether decision was right given the realised return.
func Grade(decision Decision, returnPct decimal.Decimal) bool {
	switch decision {
	case DecisionBuy:
		return returnPct.GreaterThan(buyThreshold)
	case DecisionSell:
		return returnPct.LessThan(sellThreshold)
	case DecisionHold:
		return returnPct.Abs().LessThanOrEqual(holdBand)
	default:
		return false
	}
}
