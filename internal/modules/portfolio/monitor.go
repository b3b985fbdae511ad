package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// klineLookback is enough daily bars for RSI-14 and a quarter of volatility.
const klineLookback = 90

// MarketData is the slice of the datasource factory the monitor needs.
type MarketData interface {
	Quote(ctx context.Context, market domain.Market, symbol string, allowStale bool) (domain.Quote, datasource.Source, error)
	Klines(ctx context.Context, market domain.Market, symbol string, params domain.KlineParams, allowStale bool) ([]domain.Bar, datasource.Source, error)
}

// Monitor values open positions once per cycle.
type Monitor struct {
	repo *Repository
	data MarketData
	now  func() time.Time
	log  zerolog.Logger
}

// NewMonitor creates the portfolio monitor.
func NewMonitor(repo *Repository, data MarketData, log zerolog.Logger) *Monitor {
	return &Monitor{
		repo: repo,
		data: data,
		now:  time.Now,
		log:  log.With().Str("worker", "portfolio").Logger(),
	}
}

// Cycle runs one monitoring pass.
func (m *Monitor) Cycle(ctx context.Context) error {
	_, err := m.Run(ctx)
	return err
}

// Run values every open position, stores the snapshots and totals, and raises
// alerts. Positions without a price are skipped and counted.
func (m *Monitor) Run(ctx context.Context) (*Totals, error) {
	positions, err := m.repo.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	takenAt := m.now().UTC().Truncate(time.Second)
	totals := Totals{
		TakenAt:       takenAt,
		CostBasis:     decimal.Zero,
		MarketValue:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}
	if len(positions) == 0 {
		return &totals, nil
	}

	snapshots := make([]Snapshot, 0, len(positions))
	for _, p := range positions {
		snap, ok := m.value(ctx, p, takenAt)
		if !ok {
			totals.Skipped++
			continue
		}
		snapshots = append(snapshots, snap)
		totals.Positions++
		totals.CostBasis = totals.CostBasis.Add(p.CostBasis())
		totals.MarketValue = totals.MarketValue.Add(snap.MarketValue)
		totals.UnrealizedPnL = totals.UnrealizedPnL.Add(snap.UnrealizedPnL)

		m.raiseAlerts(ctx, p, snap)
	}

	if err := m.repo.SaveSnapshots(ctx, snapshots, totals); err != nil {
		return nil, err
	}

	m.log.Info().
		Int("positions", totals.Positions).
		Int("skipped", totals.Skipped).
		Str("market_value", totals.MarketValue.StringFixed(2)).
		Str("unrealized_pnl", totals.UnrealizedPnL.StringFixed(2)).
		Msg("Portfolio snapshot taken")

	if totals.Positions == 0 {
		return &totals, fmt.Errorf("no prices available for any of %d positions", totals.Skipped)
	}
	return &totals, nil
}

func (m *Monitor) value(ctx context.Context, p Position, takenAt time.Time) (Snapshot, bool) {
	log := m.log.With().Str("position_id", p.ID).Str("symbol", p.Symbol).Logger()

	q, src, err := m.data.Quote(ctx, p.Market, p.Symbol, true)
	if err != nil || q.Last <= 0 {
		log.Warn().Err(err).Msg("No price for position, skipping")
		return Snapshot{}, false
	}

	price := decimal.NewFromFloat(q.Last)
	value := p.Quantity.Mul(price)
	cost := p.CostBasis()
	pnl := value.Sub(cost)
	pnlPct, _ := pnl.Div(cost).Mul(decimal.NewFromInt(100)).Round(4).Float64()

	snap := Snapshot{
		TakenAt:          takenAt,
		PositionID:       p.ID,
		Market:           p.Market,
		Symbol:           p.Symbol,
		Price:            price,
		MarketValue:      value,
		UnrealizedPnL:    pnl,
		UnrealizedPnLPct: pnlPct,
		Stale:            src == datasource.SourceStale,
	}

	bars, _, err := m.data.Klines(ctx, p.Market, p.Symbol, domain.KlineParams{
		Timeframe: domain.Timeframe1D,
		Limit:     klineLookback,
	}, true)
	if err != nil {
		log.Debug().Err(err).Msg("No daily bars, indicators skipped")
		return snap, true
	}
	closes := domain.Closes(bars)
	snap.Volatility = formulas.AnnualizedVolatility(closes)
	snap.RSI = formulas.CalculateRSI(closes, formulas.DefaultRSIPeriod)
	return snap, true
}

func (m *Monitor) raiseAlerts(ctx context.Context, p Position, s Snapshot) {
	for _, a := range Evaluate(p, s) {
		created, err := m.repo.RecordAlert(ctx, a)
		if err != nil {
			m.log.Error().Err(err).Str("kind", string(a.Kind)).Msg("Failed to record alert")
			continue
		}
		if created {
			m.log.Warn().
				Str("symbol", a.Symbol).
				Str("kind", string(a.Kind)).
				Float64("value", a.Value).
				Msg(a.Message)
		}
	}
}

// Evaluate returns the alerts a snapshot triggers for p.
func Evaluate(p Position, s Snapshot) []Alert {
	var alerts []Alert
	price, _ := s.Price.Float64()
	add := func(kind AlertKind, value float64, msg string) {
		alerts = append(alerts, Alert{
			CreatedAt:  s.TakenAt,
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Kind:       kind,
			Value:      value,
			Message:    msg,
		})
	}

	if p.StopLoss != nil && s.Price.LessThanOrEqual(*p.StopLoss) {
		add(AlertStopLoss, price, fmt.Sprintf("%s hit stop loss %s at %s", p.Symbol, p.StopLoss, s.Price))
	}
	if p.TakeProfit != nil && s.Price.GreaterThanOrEqual(*p.TakeProfit) {
		add(AlertTakeProfit, price, fmt.Sprintf("%s reached take profit %s at %s", p.Symbol, p.TakeProfit, s.Price))
	}
	if s.RSI != nil {
		switch rsi := *s.RSI; {
		case rsi > formulas.RSIOverbought:
			add(AlertOverbought, rsi, fmt.Sprintf("%s overbought, RSI %.1f", p.Symbol, rsi))
		case rsi < formulas.RSIOversold:
			add(AlertOversold, rsi, fmt.Sprintf("%s oversold, RSI %.1f", p.Symbol, rsi))
		}
	}
	return alerts
}
