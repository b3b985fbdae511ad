package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quoter fetches realtime quotes by market.
type Quoter interface {
	Quote(ctx context.Context, market domain.Market, symbol string, allowStale bool) (domain.Quote, datasource.Source, error)
}

// WorkerConfig tunes the dispatch loop.
type WorkerConfig struct {
	BatchSize      int
	MaxAttempts    int
	MaxSlippagePct decimal.Decimal
	// StuckAfter releases orders left in processing by a crashed process
	StuckAfter time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if !c.MaxSlippagePct.IsPositive() {
		c.MaxSlippagePct = decimal.NewFromInt(2)
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 10 * time.Minute
	}
	return c
}

// CycleResult counts what one dispatch cycle did.
type CycleResult struct {
	Claimed  int
	Filled   int
	Failed   int
	Deferred int
}

// PendingOrderWorker claims pending orders, checks the live price against the
// order's reference price, and dispatches through a Broker.
type PendingOrderWorker struct {
	repo   *Repository
	quotes Quoter
	broker Broker
	cfg    WorkerConfig
	log    zerolog.Logger
}

// NewPendingOrderWorker creates the dispatch worker.
func NewPendingOrderWorker(repo *Repository, quotes Quoter, broker Broker, cfg WorkerConfig, log zerolog.Logger) *PendingOrderWorker {
	return &PendingOrderWorker{
		repo:   repo,
		quotes: quotes,
		broker: broker,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("worker", "orders").Logger(),
	}
}

// Cycle runs one dispatch pass. Per-order problems are recorded on the order;
// only repository failures fail the cycle.
func (w *PendingOrderWorker) Cycle(ctx context.Context) error {
	_, err := w.Dispatch(ctx)
	return err
}

// Dispatch is Cycle with the per-outcome counts.
func (w *PendingOrderWorker) Dispatch(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	if _, err := w.repo.RecoverStale(ctx, w.cfg.StuckAfter); err != nil {
		return res, err
	}

	claimed, err := w.repo.ClaimPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to claim pending orders: %w", err)
	}
	res.Claimed = len(claimed)

	for _, o := range claimed {
		outcome, err := w.process(ctx, o)
		if err != nil {
			return res, err
		}
		switch outcome {
		case StatusFilled:
			res.Filled++
		case StatusFailed:
			res.Failed++
		default:
			res.Deferred++
		}
	}

	if res.Claimed > 0 {
		w.log.Info().
			Int("claimed", res.Claimed).
			Int("filled", res.Filled).
			Int("failed", res.Failed).
			Int("deferred", res.Deferred).
			Msg("Order dispatch cycle completed")
	}
	return res, nil
}

func (w *PendingOrderWorker) process(ctx context.Context, o Order) (Status, error) {
	log := w.log.With().Str("order_id", o.ID).Str("symbol", o.Symbol).Logger()

	// orders never execute against a stale price
	q, _, err := w.quotes.Quote(ctx, o.Market, o.Symbol, false)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			log.Debug().Err(err).Msg("Quote unavailable, deferring order")
		} else {
			log.Warn().Err(err).Msg("Quote failed, deferring order")
		}
		return w.deferOrRetire(ctx, o, fmt.Sprintf("quote unavailable: %v", err))
	}

	price := decimal.NewFromFloat(q.Last)
	if !price.IsPositive() {
		return w.deferOrRetire(ctx, o, fmt.Sprintf("non-positive quote %s", price))
	}

	if o.Type == TypeLimit && !limitReached(o, price) {
		log.Debug().Str("price", price.String()).Str("limit", o.ReferencePrice.String()).Msg("Limit not reached")
		return StatusPending, w.repo.Release(ctx, o.ID, "")
	}

	if o.Type == TypeMarket {
		if slip := AdverseSlippagePct(o.Side, o.ReferencePrice, price); slip.GreaterThan(w.cfg.MaxSlippagePct) {
			reason := fmt.Sprintf("price protection: %s%% adverse move exceeds %s%% tolerance",
				slip.StringFixed(2), w.cfg.MaxSlippagePct.String())
			log.Warn().Str("price", price.String()).Str("reference", o.ReferencePrice.String()).Msg(reason)
			return StatusFailed, w.repo.MarkFailed(ctx, o.ID, reason)
		}
	}

	fill, err := w.broker.PlaceOrder(ctx, o, price)
	if err != nil {
		log.Warn().Err(err).Str("broker", w.broker.Name()).Msg("Broker rejected order")
		return w.deferOrRetire(ctx, o, fmt.Sprintf("broker %s: %v", w.broker.Name(), err))
	}

	if err := w.repo.MarkFilled(ctx, o.ID, fill.BrokerOrderID, fill.Price); err != nil {
		return "", err
	}
	log.Info().Str("fill_price", fill.Price.String()).Str("broker_order_id", fill.BrokerOrderID).Msg("Order filled")
	return StatusFilled, nil
}

// deferOrRetire releases o for a later cycle, or fails it once it has used
// every attempt.
func (w *PendingOrderWorker) deferOrRetire(ctx context.Context, o Order, reason string) (Status, error) {
	if o.Attempts >= w.cfg.MaxAttempts {
		reason = fmt.Sprintf("gave up after %d attempts: %s", o.Attempts, reason)
		return StatusFailed, w.repo.MarkFailed(ctx, o.ID, reason)
	}
	return StatusPending, w.repo.Release(ctx, o.ID, reason)
}

// AdverseSlippagePct is how far price moved against side from reference, in
// percent. Favourable moves are negative.
func AdverseSlippagePct(side Side, reference, price decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	move := price.Sub(reference).Div(reference).Mul(decimal.NewFromInt(100))
	if side == SideSell {
		return move.Neg()
	}
	return move
}

// limitReached reports whether a limit order may execute at price: buys at or
// below the limit, sells at or above it.
func limitReached(o Order, price decimal.Decimal) bool {
	if o.Side == SideBuy {
		return price.LessThanOrEqual(o.ReferencePrice)
	}
	return price.GreaterThanOrEqual(o.ReferencePrice)
}
