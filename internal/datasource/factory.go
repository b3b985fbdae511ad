package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/circuit"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/providers/binance"
	"github.com/aristath/marketcore/internal/providers/polymarket"
	"github.com/aristath/marketcore/internal/providers/yahoo"
	"github.com/aristath/marketcore/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Deps are the shared collaborators every accessor composes.
type Deps struct {
	Caches   *cache.Set
	Store    Store // optional
	Breakers *circuit.Registry
	Limiter  *ratelimit.Limiter
	Retry    ratelimit.Policy
}

// Factory hands out one Accessor per market, built on first use.
type Factory struct {
	deps Deps
	log  zerolog.Logger

	mu        sync.Mutex
	providers map[domain.Market]Provider
	accessors map[domain.Market]*Accessor
}

// NewFactory creates a factory with no providers registered.
func NewFactory(deps Deps, log zerolog.Logger) *Factory {
	return &Factory{
		deps:      deps,
		log:       log.With().Str("component", "datasource").Logger(),
		providers: make(map[domain.Market]Provider),
		accessors: make(map[domain.Market]*Accessor),
	}
}

// Register sets the provider for market, replacing any accessor already built.
func (f *Factory) Register(market domain.Market, p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[market] = p
	delete(f.accessors, market)
}

// Accessor returns the accessor for market.
func (f *Factory) Accessor(market domain.Market) (*Accessor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.accessors[market]; ok {
		return a, nil
	}
	p, ok := f.providers[market]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for market %q", domain.ErrUnsupported, market)
	}

	id := domain.ProviderIdentity{Market: market, Provider: p.Name()}
	a := &Accessor{
		identity: id,
		provider: p,
		caches:   f.deps.Caches,
		store:    f.deps.Store,
		breakers: f.deps.Breakers,
		limiter:  f.deps.Limiter,
		policy:   f.deps.Retry,
		log:      f.log.With().Str("identity", id.String()).Logger(),
	}
	f.accessors[market] = a
	return a, nil
}

// Markets lists markets with a registered provider.
func (f *Factory) Markets() []domain.Market {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Market, 0, len(f.providers))
	for _, m := range domain.AllMarkets {
		if _, ok := f.providers[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// ProviderConfig overrides upstream endpoints; empty fields use the public APIs.
type ProviderConfig struct {
	BinanceBaseURL    string
	YahooBaseURL      string
	PolymarketBaseURL string
	Timeout           time.Duration
}

// RegisterDefaults registers the production provider for every market:
// Binance for crypto, Yahoo for equities and forex, Polymarket for predictions.
func (f *Factory) RegisterDefaults(cfg ProviderConfig) {
	f.Register(domain.MarketCrypto, binance.NewClient(cfg.BinanceBaseURL, cfg.Timeout, f.log))
	f.Register(domain.MarketUSStock, yahoo.NewClient(cfg.YahooBaseURL, cfg.Timeout, f.log))
	f.Register(domain.MarketForex, yahoo.NewForexClient(cfg.YahooBaseURL, cfg.Timeout, f.log))
	// Gamma keeps its own longer default timeout
	f.Register(domain.MarketPrediction, polymarket.NewClient(cfg.PolymarketBaseURL, 0, f.log))
}

// Quote fetches a realtime quote from market's accessor.
func (f *Factory) Quote(ctx context.Context, market domain.Market, symbol string, allowStale bool) (domain.Quote, Source, error) {
	a, err := f.Accessor(market)
	if err != nil {
		return domain.Quote{}, "", err
	}
	return a.Quote(ctx, symbol, allowStale)
}

// Klines fetches bars from market's accessor.
func (f *Factory) Klines(ctx context.Context, market domain.Market, symbol string, params domain.KlineParams, allowStale bool) ([]domain.Bar, Source, error) {
	a, err := f.Accessor(market)
	if err != nil {
		return nil, "", err
	}
	return a.Klines(ctx, symbol, params, allowStale)
}

// Listing fetches a category listing from market's accessor.
func (f *Factory) Listing(ctx context.Context, market domain.Market, category string, limit int, allowStale bool) ([]domain.PredictionMarket, Source, error) {
	a, err := f.Accessor(market)
	if err != nil {
		return nil, "", err
	}
	return a.Listing(ctx, category, limit, allowStale)
}
