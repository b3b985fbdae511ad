package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrPositionNotFound is returned when no open position has the id.
var ErrPositionNotFound = errors.New("position not found")

// Repository persists positions, snapshots and alerts in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// OpenPosition validates and stores p. Empty ID and zero OpenedAt are filled in.
func (r *Repository) OpenPosition(ctx context.Context, p Position) (*Position, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid position: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_positions
		(id, market, symbol, quantity, entry_price, stop_loss, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.Market), p.Symbol, p.Quantity.String(), p.EntryPrice.String(),
		nullDecimal(p.StopLoss), nullDecimal(p.TakeProfit), p.OpenedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert position: %w", err)
	}
	return &p, nil
}

// ClosePosition marks a position closed so the monitor stops tracking it.
func (r *Repository) ClosePosition(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE portfolio_positions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// OpenPositions returns every position without a close time.
func (r *Repository) OpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market, symbol, quantity, entry_price, stop_loss, take_profit, opened_at, closed_at
		FROM portfolio_positions
		WHERE closed_at IS NULL
		ORDER BY opened_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var (
			p                    Position
			market, qty, entry   string
			stopLoss, takeProfit sql.NullString
			openedAt             int64
			closedAt             sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &market, &p.Symbol, &qty, &entry, &stopLoss, &takeProfit, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Market = domain.Market(market)
		p.OpenedAt = time.Unix(openedAt, 0).UTC()
		if closedAt.Valid {
			t := time.Unix(closedAt.Int64, 0).UTC()
			p.ClosedAt = &t
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("failed to parse quantity of position %s: %w", p.ID, err)
		}
		if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("failed to parse entry price of position %s: %w", p.ID, err)
		}
		if p.StopLoss, err = parseNullDecimal(stopLoss); err != nil {
			return nil, fmt.Errorf("failed to parse stop loss of position %s: %w", p.ID, err)
		}
		if p.TakeProfit, err = parseNullDecimal(takeProfit); err != nil {
			return nil, fmt.Errorf("failed to parse take profit of position %s: %w", p.ID, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// SaveSnapshots writes one pass's snapshots and its totals atomically.
func (r *Repository) SaveSnapshots(ctx context.Context, snapshots []Snapshot, totals Totals) error {
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO portfolio_snapshots
			(position_id, market, symbol, price, market_value, unrealized_pnl, unrealized_pnl_pct,
			 volatility, rsi, stale, taken_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range snapshots {
			_, err := stmt.ExecContext(ctx, s.PositionID, string(s.Market), s.Symbol,
				s.Price.String(), s.MarketValue.String(), s.UnrealizedPnL.String(), s.UnrealizedPnLPct,
				nullFloat(s.Volatility), nullFloat(s.RSI), s.Stale, s.TakenAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to insert snapshot for %s: %w", s.Symbol, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO portfolio_totals
			(taken_at, positions, skipped, cost_basis, market_value, unrealized_pnl)
			VALUES (?, ?, ?, ?, ?, ?)
		`, totals.TakenAt.Unix(), totals.Positions, totals.Skipped, totals.CostBasis.String(),
			totals.MarketValue.String(), totals.UnrealizedPnL.String())
		if err != nil {
			return fmt.Errorf("failed to insert portfolio totals: %w", err)
		}
		return nil
	})
}

// RecentSnapshots returns the newest snapshots across all positions.
func (r *Repository) RecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, market, symbol, price, market_value, unrealized_pnl,
		       unrealized_pnl_pct, volatility, rsi, stale, taken_at
		FROM portfolio_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			s                 Snapshot
			market            string
			price, value, pnl string
			volatility, rsi   sql.NullFloat64
			takenAt           int64
		)
		if err := rows.Scan(&s.PositionID, &market, &s.Symbol, &price, &value, &pnl,
			&s.UnrealizedPnLPct, &volatility, &rsi, &s.Stale, &takenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Market = domain.Market(market)
		s.TakenAt = time.Unix(takenAt, 0).UTC()
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse price of snapshot %s: %w", s.PositionID, err)
		}
		if s.MarketValue, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("failed to parse market value of snapshot %s: %w", s.PositionID, err)
		}
		if s.UnrealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("failed to parse unrealized pnl of snapshot %s: %w", s.PositionID, err)
		}
		if volatility.Valid {
			v := volatility.Float64
			s.Volatility = &v
		}
		if rsi.Valid {
			v := rsi.Float64
			s.RSI = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

// LatestTotals returns the most recent totals row, or nil before the first pass.
func (r *Repository) LatestTotals(ctx context.Context) (*Totals, error) {
	var (
		t                Totals
		takenAt          int64
		cost, value, pnl string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT taken_at, positions, skipped, cost_basis, market_value, unrealized_pnl
		FROM portfolio_totals
		ORDER BY taken_at DESC
		LIMIT 1
	`).Scan(&takenAt, &t.Positions, &t.Skipped, &cost, &value, &pnl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio totals: %w", err)
	}
	t.TakenAt = time.Unix(takenAt, 0).UTC()
	if t.CostBasis, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("failed to parse totals cost basis: %w", err)
	}
	if t.MarketValue, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("failed to parse totals market value: %w", err)
	}
	if t.UnrealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("failed to parse totals unrealized pnl: %w", err)
	}
	return &t, nil
}

// RecordAlert stores a once-per-day alert. It reports false when an alert of
// the same kind was already raised for the position that day.
func (r *Repository) RecordAlert(ctx context.Context, a Alert) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO portfolio_alerts
		(id, position_id, symbol, kind, message, value, alert_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.PositionID, a.Symbol, string(a.Kind), a.Message, a.Value,
		a.CreatedAt.UTC().Format("2006-01-02"), a.CreatedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to record alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Alerts returns alerts raised since the given time, newest first.
func (r *Repository) Alerts(ctx context.Context, since time.Time) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position_id, symbol, kind, message, value, created_at
		FROM portfolio_alerts
		WHERE created_at >= ?
		ORDER BY created_at DESC
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var kind string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.PositionID, &a.Symbol, &kind, &a.Message, &a.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Kind = AlertKind(kind)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return out, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
