package datasource

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/domain"
)

// Source tells where a Result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceStale Source = "stale"
)

// Request describes one artifact fetch.
type Request struct {
	// Symbol is the instrument, or the category for KindListing
	Symbol string
	Kind   domain.ArtifactKind
	Params domain.KlineParams
	// Limit caps listing results
	Limit int
	// AllowStale permits an expired cache entry or persisted row when the
	// live path fails.
	AllowStale bool
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Symbol) == "" && r.Kind != domain.KindListing {
		return fmt.Errorf("%w: empty symbol", domain.ErrInvalidSymbol)
	}
	switch r.Kind {
	case domain.KindRealtime, domain.KindKline, domain.KindMetadata, domain.KindListing:
		return nil
	default:
		return fmt.Errorf("%w: artifact kind %q", domain.ErrUnsupported, r.Kind)
	}
}

// key builds the cache key. Market is part of the key because one cache.Set
// is shared by every accessor.
func (r Request) key(market domain.Market, symbol string) string {
	switch r.Kind {
	case domain.KindKline:
		return cache.Key(string(market), symbol,
			string(r.Params.Timeframe),
			strconv.Itoa(r.Params.Limit),
			strconv.FormatInt(r.Params.BeforeTime, 10))
	case domain.KindListing:
		return cache.Key(string(market), strings.ToLower(symbol), strconv.Itoa(r.Limit))
	default:
		return cache.Key(string(market), symbol)
	}
}

// Result is a fetched artifact. Value holds domain.Quote, []domain.Bar,
// domain.Instrument or []domain.PredictionMarket depending on Kind.
type Result struct {
	Value    any
	StoredAt time.Time
	Identity domain.ProviderIdentity
	Key      string
	Source   Source
}

// Stale reports whether the value came from the fallback path.
func (r Result) Stale() bool {
	return r.Source == SourceStale
}
