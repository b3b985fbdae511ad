// Package reflection grades past trading decisions against the price that
// followed them and reports how often they were right.
package reflection

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Decision is the action an analysis recommended.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// ParseDecision normalizes a decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionBuy, DecisionSell, DecisionHold:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// Record is one remembered analysis.
type Record struct {
	CreatedAt       time.Time       `json:"created_at"`
	ValidatedAt     *time.Time      `json:"validated_at,omitempty"`
	ActualReturnPct *float64        `json:"actual_return_pct,omitempty"`
	WasCorrect      *bool           `json:"was_correct,omitempty"`
	ID              string          `json:"id"`
	Market          domain.Market   `json:"market"`
	Symbol          string          `json:"symbol"`
	Decision        Decision        `json:"decision"`
	Reasoning       string          `json:"reasoning,omitempty"`
	PriceAtAnalysis decimal.Decimal `json:"price_at_analysis"`
	Confidence      float64         `json:"confidence"`
}

// PerformanceStats summarizes validated records over a period.
type PerformanceStats struct {
	Distribution  map[Decision]int `json:"decision_distribution"`
	TotalAnalyses int              `json:"total_analyses"`
	AccuracyPct   float64          `json:"accuracy_pct"`
	AvgReturnPct  float64          `json:"avg_return_pct"`
	PeriodDays    int              `json:"period_days"`
}

// Repository persists analysis records in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an analysis memory repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "analysis_memory").Logger(),
	}
}

// Store remembers an analysis. A zero CreatedAt means now.
func (r *Repository) Store(ctx context.Context, rec Record) (string, error) {
	d, err := ParseDecision(string(rec.Decision))
	if err != nil {
		return "", err
	}
	if !rec.PriceAtAnalysis.IsPositive() {
		return "", fmt.Errorf("price at analysis must be positive, got %s", rec.PriceAtAnalysis)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO analysis_memory
		(id, market, symbol, decision, confidence, price_at_analysis, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Market), rec.Symbol, string(d), rec.Confidence,
		rec.PriceAtAnalysis.String(), rec.Reasoning, rec.CreatedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to store analysis memory: %w", err)
	}
	return rec.ID, nil
}

// Unvalidated returns up to limit records created inside [from, to) that have
// not been graded yet.
func (r *Repository) Unvalidated(ctx context.Context, from, to time.Time, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market, symbol, decision, confidence, price_at_analysis, reasoning,
		       created_at, validated_at, actual_return_pct, was_correct
		FROM analysis_memory
		WHERE validated_at IS NULL AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, from.Unix(), to.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unvalidated analyses: %w", err)
	}
	return scanRecords(rows)
}

// Recent returns the latest records for a symbol, newest first.
func (r *Repository) Recent(ctx context.Context, market domain.Market, symbol string, days, limit int) ([]Record, error) {
	since := time.Now().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market, symbol, decision, confidence, price_at_analysis, reasoning,
		       created_at, validated_at, actual_return_pct, was_correct
		FROM analysis_memory
		WHERE market = ? AND symbol = ? AND created_at > ?
		ORDER BY created_at DESC
		LIMIT ?
	`, string(market), symbol, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent analyses: %w", err)
	}
	return scanRecords(rows)
}

// MarkValidated stores the grade of a record.
func (r *Repository) MarkValidated(ctx context.Context, id string, returnPct float64, correct bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_memory
		SET validated_at = ?, actual_return_pct = ?, was_correct = ?
		WHERE id = ?
	`, at.Unix(), returnPct, correct, id)
	if err != nil {
		return fmt.Errorf("failed to mark analysis %s validated: %w", id, err)
	}
	return nil
}

// Performance aggregates validated records created in the last days days.
// Empty market or symbol means all.
func (r *Repository) Performance(ctx context.Context, market domain.Market, symbol string, days int) (*PerformanceStats, error) {
	if days <= 0 {
		days = 30
	}
	where := []string{"validated_at IS NOT NULL", "created_at > ?"}
	args := []any{time.Now().AddDate(0, 0, -days).Unix()}
	if market != "" {
		where = append(where, "market = ?")
		args = append(args, string(market))
	}
	if symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, symbol)
	}

	var (
		total                    int
		correct, buy, sell, hold sql.NullInt64
		avgReturn                sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN was_correct = 1 THEN 1 ELSE 0 END),
		       AVG(actual_return_pct),
		       SUM(CASE WHEN decision = 'BUY' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN decision = 'SELL' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN decision = 'HOLD' THEN 1 ELSE 0 END)
		FROM analysis_memory
		WHERE `+strings.Join(where, " AND "), args...).
		Scan(&total, &correct, &avgReturn, &buy, &sell, &hold)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate analysis performance: %w", err)
	}

	stats := &PerformanceStats{
		TotalAnalyses: total,
		PeriodDays:    days,
		Distribution: map[Decision]int{
			DecisionBuy:  int(buy.Int64),
			DecisionSell: int(sell.Int64),
			DecisionHold: int(hold.Int64),
		},
	}
	if total > 0 {
		stats.AccuracyPct = round2(float64(correct.Int64) / float64(total) * 100)
		stats.AvgReturnPct = round2(avgReturn.Float64)
	}
	return stats, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec              Record
			market, decision string
			price            string
			reasoning        sql.NullString
			createdAt        int64
			validatedAt      sql.NullInt64
			returnPct        sql.NullFloat64
			wasCorrect       sql.NullBool
		)
		if err := rows.Scan(&rec.ID, &market, &rec.Symbol, &decision, &rec.Confidence, &price,
			&reasoning, &createdAt, &validatedAt, &returnPct, &wasCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan analysis memory: %w", err)
		}

		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price of analysis %s: %w", rec.ID, err)
		}
		rec.PriceAtAnalysis = p
		rec.Market = domain.Market(market)
		rec.Decision = Decision(decision)
		rec.Reasoning = reasoning.String
		rec.CreatedAt = time.Unix(createdAt, 0)
		if validatedAt.Valid {
			t := time.Unix(validatedAt.Int64, 0)
			rec.ValidatedAt = &t
		}
		if returnPct.Valid {
			v := returnPct.Float64
			rec.ActualReturnPct = &v
		}
		if wasCorrect.Valid {
			v := wasCorrect.Bool
			rec.WasCorrect = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis memory: %w", err)
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
