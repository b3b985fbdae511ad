package predictions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Opportunity is a stored analysis joined with its market.
type Opportunity struct {
	Market   domain.PredictionMarket `json:"market"`
	Analysis Analysis                `json:"analysis"`
}

// Repository persists prediction markets and their analyses in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a prediction repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "predictions").Logger(),
	}
}

// UpsertMarkets inserts or refreshes markets in one transaction.
func (r *Repository) UpsertMarkets(ctx context.Context, markets []domain.PredictionMarket, now time.Time) error {
	if len(markets) == 0 {
		return nil
	}
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO prediction_markets
			(market_id, question, slug, category, current_probability, volume_24h, liquidity,
			 end_date, status, outcome_tokens, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(market_id) DO UPDATE SET
				question = excluded.question,
				slug = excluded.slug,
				category = excluded.category,
				current_probability = excluded.current_probability,
				volume_24h = excluded.volume_24h,
				liquidity = excluded.liquidity,
				end_date = excluded.end_date,
				status = excluded.status,
				outcome_tokens = excluded.outcome_tokens,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare market upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range markets {
			tokens, err := json.Marshal(m.OutcomeTokens)
			if err != nil {
				return fmt.Errorf("failed to encode outcome tokens of %s: %w", m.MarketID, err)
			}
			var endDate any
			if !m.EndDate.IsZero() {
				endDate = m.EndDate.Unix()
			}
			_, err = stmt.ExecContext(ctx, m.MarketID, m.Question, m.Slug, m.Category,
				m.CurrentProbability, m.Volume24h, m.Liquidity, endDate, m.Status,
				string(tokens), now.Unix())
			if err != nil {
				return fmt.Errorf("failed to upsert market %s: %w", m.MarketID, err)
			}
		}
		return nil
	})
}

// ReplaceAnalyses stores analyses, replacing any earlier analysis of the same
// market. Everything commits together.
func (r *Repository) ReplaceAnalyses(ctx context.Context, analyses []Analysis) error {
	if len(analyses) == 0 {
		return nil
	}
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		for _, a := range analyses {
			if _, err := tx.ExecContext(ctx, `DELETE FROM prediction_analysis WHERE market_id = ?`, a.MarketID); err != nil {
				return fmt.Errorf("failed to delete analysis of %s: %w", a.MarketID, err)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO prediction_analysis
				(id, market_id, recommendation, confidence_score, opportunity_score,
				 market_probability, predicted_probability, divergence, reasoning, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), a.MarketID, string(a.Recommendation), a.ConfidenceScore,
				a.OpportunityScore, a.MarketProbability, a.PredictedProbability, a.Divergence,
				a.Reasoning, a.CreatedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to insert analysis of %s: %w", a.MarketID, err)
			}
		}
		return nil
	})
}

// AnalyzedSince returns the ids of markets analyzed at or after since.
func (r *Repository) AnalyzedSince(ctx context.Context, since time.Time) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT market_id FROM prediction_analysis WHERE created_at >= ?`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent analyses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan market id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recent analyses: %w", err)
	}
	return out, nil
}

// Opportunities returns analyzed markets by descending opportunity score.
// An empty category means all.
func (r *Repository) Opportunities(ctx context.Context, category string, limit int) ([]Opportunity, error) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	query := `
		SELECT m.market_id, m.question, COALESCE(m.slug, ''), COALESCE(m.category, ''),
		       m.current_probability, m.volume_24h, m.liquidity, m.end_date,
		       COALESCE(m.status, ''), COALESCE(m.outcome_tokens, ''),
		       a.recommendation, a.confidence_score, a.opportunity_score,
		       a.market_probability, a.predicted_probability, a.divergence,
		       COALESCE(a.reasoning, ''), a.created_at
		FROM prediction_analysis a
		JOIN prediction_markets m ON m.market_id = a.market_id`
	args := []any{}
	if category != "" && category != "all" {
		query += ` WHERE m.category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY a.opportunity_score DESC, m.volume_24h DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	var out []Opportunity
	for rows.Next() {
		var (
			o         Opportunity
			endDate   sql.NullInt64
			tokens    string
			rec       string
			createdAt int64
		)
		m := &o.Market
		a := &o.Analysis
		if err := rows.Scan(&m.MarketID, &m.Question, &m.Slug, &m.Category,
			&m.CurrentProbability, &m.Volume24h, &m.Liquidity, &endDate, &m.Status, &tokens,
			&rec, &a.ConfidenceScore, &a.OpportunityScore, &a.MarketProbability,
			&a.PredictedProbability, &a.Divergence, &a.Reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		if endDate.Valid {
			m.EndDate = time.Unix(endDate.Int64, 0).UTC()
		}
		if tokens != "" && tokens != "null" {
			if err := json.Unmarshal([]byte(tokens), &m.OutcomeTokens); err != nil {
				r.log.Warn().Err(err).Str("market_id", m.MarketID).Msg("Bad outcome tokens")
			}
		}
		a.MarketID = m.MarketID
		a.Recommendation = Recommendation(rec)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opportunities: %w", err)
	}
	return out, nil
}
