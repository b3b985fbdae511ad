// Package predictions tracks prediction markets and ranks them as trading
// opportunities.
package predictions

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/marketcore/internal/domain"
)

// Recommendation is the side an analysis favours.
type Recommendation string

const (
	RecommendYes  Recommendation = "YES"
	RecommendNo   Recommendation = "NO"
	RecommendHold Recommendation = "HOLD"
)

// Rule thresholds.
const (
	MinVolume24h      = 10000.0
	MinSkewPct        = 10.0
	BaseScore         = 60.0
	MaxScore          = 90.0
	RuleConfidence    = 60.0
	DefaultMaxResults = 20
)

// Analysis is one market's opportunity assessment.
type Analysis struct {
	CreatedAt            time.Time      `json:"created_at"`
	MarketID             string         `json:"market_id"`
	Recommendation       Recommendation `json:"recommendation"`
	Reasoning            string         `json:"reasoning"`
	ConfidenceScore      float64        `json:"confidence_score"`
	OpportunityScore     float64        `json:"opportunity_score"`
	MarketProbability    float64        `json:"market_probability"`
	PredictedProbability float64        `json:"predicted_probability"`
	Divergence           float64        `json:"divergence"`
}

// Analyze scores markets by liquidity and how far the price sits from a coin
// flip, and returns the top limit, highest score first. Ties keep
// input order.
func Analyze(markets []domain.PredictionMarket, limit int, now time.Time) []Analysis {
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	out := make([]Analysis, 0, len(markets))
	for _, m := range markets {
		if m.MarketID == "" {
			continue
		}
		p := m.CurrentProbability
		skew := math.Abs(p - 50)
		if m.Volume24h <= MinVolume24h || skew <= MinSkewPct {
			continue
		}

		rec := RecommendNo
		if p > 50 {
			rec = RecommendYes
		}
		out = append(out, Analysis{
			CreatedAt:            now,
			MarketID:             m.MarketID,
			Recommendation:       rec,
			ConfidenceScore:      RuleConfidence,
			OpportunityScore:     math.Min(BaseScore+skew*0.5, MaxScore),
			MarketProbability:    p,
			PredictedProbability: p,
			Divergence:           0,
			Reasoning:            fmt.Sprintf("High volume (%.0f) with clear probability skew (%.1f%%)", m.Volume24h, p),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpportunityScore > out[j].OpportunityScore
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
