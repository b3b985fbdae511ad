// Package domain provides core market-data models shared by providers, the
// resilience layer, and background workers.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifies a market segment served by one provider implementation.
type Market string

const (
	MarketCrypto     Market = "Crypto"
	MarketUSStock    Market = "USStock"
	MarketForex      Market = "Forex"
	MarketPrediction Market = "Prediction"
)

// AllMarkets lists every market the factory knows how to serve.
var AllMarkets = []Market{MarketCrypto, MarketUSStock, MarketForex, MarketPrediction}

// ParseMarket resolves a case-insensitive market name.
func ParseMarket(s string) (Market, error) {
	for _, m := range AllMarkets {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown market: %q", s)
}

// ArtifactKind is the category of a fetched artifact. Each kind has its own
// cache instance and TTL.
type ArtifactKind string

const (
	KindRealtime ArtifactKind = "realtime"
	KindKline    ArtifactKind = "kline"
	KindMetadata ArtifactKind = "metadata"
	// KindListing is a category listing (prediction markets by topic)
	KindListing ArtifactKind = "listing"
)

// ProviderIdentity is the (market, provider) pair that partitions circuit
// breaker state, rate limiter timers and metrics.
type ProviderIdentity struct {
	Market   Market
	Provider string
}

func (p ProviderIdentity) String() string {
	return string(p.Market) + "/" + p.Provider
}

// Timeframe is a kline bar size, e.g. "1m", "1H", "1D".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1H  Timeframe = "1H"
	Timeframe4H  Timeframe = "4H"
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
)

// KlineParams narrows a kline request.
type KlineParams struct {
	Timeframe Timeframe `json:"timeframe" msgpack:"timeframe"`
	Limit     int       `json:"limit" msgpack:"limit"`
	// BeforeTime requests bars ending before this unix timestamp (0 = latest)
	BeforeTime int64 `json:"before_time,omitempty" msgpack:"before_time,omitempty"`
}

// Quote is a realtime ticker snapshot.
type Quote struct {
	Timestamp     time.Time `json:"timestamp" msgpack:"timestamp"`
	Symbol        string    `json:"symbol" msgpack:"symbol"`
	Currency      string    `json:"currency,omitempty" msgpack:"currency,omitempty"`
	Last          float64   `json:"last" msgpack:"last"`
	Bid           float64   `json:"bid,omitempty" msgpack:"bid,omitempty"`
	Ask           float64   `json:"ask,omitempty" msgpack:"ask,omitempty"`
	Change        float64   `json:"change" msgpack:"change"`
	ChangePercent float64   `json:"change_percent" msgpack:"change_percent"`
	Volume        float64   `json:"volume" msgpack:"volume"`
}

// Bar is a single OHLCV candle.
type Bar struct {
	Time   int64   `json:"time" msgpack:"time"`
	Open   float64 `json:"open" msgpack:"open"`
	High   float64 `json:"high" msgpack:"high"`
	Low    float64 `json:"low" msgpack:"low"`
	Close  float64 `json:"close" msgpack:"close"`
	Volume float64 `json:"volume" msgpack:"volume"`
}

// Closes extracts close prices in bar order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Instrument is static instrument metadata.
type Instrument struct {
	Symbol     string `json:"symbol" msgpack:"symbol"`
	Name       string `json:"name" msgpack:"name"`
	Exchange   string `json:"exchange,omitempty" msgpack:"exchange,omitempty"`
	Currency   string `json:"currency,omitempty" msgpack:"currency,omitempty"`
	Type       string `json:"type,omitempty" msgpack:"type,omitempty"`
	BaseAsset  string `json:"base_asset,omitempty" msgpack:"base_asset,omitempty"`
	QuoteAsset string `json:"quote_asset,omitempty" msgpack:"quote_asset,omitempty"`
	Status     string `json:"status,omitempty" msgpack:"status,omitempty"`
}

// PredictionMarket is a binary prediction market as listed by the upstream.
type PredictionMarket struct {
	EndDate  time.Time `json:"end_date" msgpack:"end_date"`
	MarketID string    `json:"market_id" msgpack:"market_id"`
	Question string    `json:"question" msgpack:"question"`
	Slug     string    `json:"slug" msgpack:"slug"`
	Category string    `json:"category" msgpack:"category"`
	Status   string    `json:"status" msgpack:"status"`
	// CurrentProbability is the YES price expressed in percent (0-100)
	CurrentProbability float64            `json:"current_probability" msgpack:"current_probability"`
	Volume24h          float64            `json:"volume_24h" msgpack:"volume_24h"`
	Liquidity          float64            `json:"liquidity" msgpack:"liquidity"`
	OutcomeTokens      map[string]float64 `json:"outcome_tokens,omitempty" msgpack:"outcome_tokens,omitempty"`
}
