// Package datasource is the single entry point workers use for market data.
// Factory.Accessor(market) returns an Accessor that serves fresh cache hits,
// otherwise throttles, guards with the identity's circuit breaker, retries
// transient failures, and populates the caches on success.
package datasource

import (
	"context"

	"github.com/aristath/marketcore/internal/domain"
)

// Provider fetches artifacts from one upstream.
type Provider interface {
	Name() string
	FetchRealtime(ctx context.Context, symbol string) (*domain.Quote, error)
	FetchKline(ctx context.Context, symbol string, params domain.KlineParams) ([]domain.Bar, error)
	FetchMetadata(ctx context.Context, symbol string) (*domain.Instrument, error)
}

// Lister is implemented by providers that can list markets by category.
type Lister interface {
	FetchListing(ctx context.Context, category string, limit int) ([]domain.PredictionMarket, error)
}

// SymbolNormalizer is implemented by providers with a canonical symbol form.
// Normalized symbols are used for cache keys and upstream calls.
type SymbolNormalizer interface {
	NormalizeSymbol(symbol string) string
}
