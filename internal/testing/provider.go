package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/aristath/marketcore/internal/domain"
)

// ErrTransient is a retriable upstream failure for fakes to return.
var ErrTransient = &domain.UpstreamError{Provider: "fake", Op: "fetch", Err: errors.New("upstream hiccup"), Retriable: true}

// FakeProvider is a scriptable market-data provider. Unset funcs fail with
// domain.ErrUnsupported. Call counts are recorded per artifact kind.
type FakeProvider struct {
	ProviderName string

	RealtimeFn func(ctx context.Context, symbol string) (*domain.Quote, error)
	KlineFn    func(ctx context.Context, symbol string, params domain.KlineParams) ([]domain.Bar, error)
	MetadataFn func(ctx context.Context, symbol string) (*domain.Instrument, error)
	ListingFn  func(ctx context.Context, category string, limit int) ([]domain.PredictionMarket, error)

	mu    sync.Mutex
	calls map[domain.ArtifactKind]int
}

func (f *FakeProvider) record(kind domain.ArtifactKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[domain.ArtifactKind]int)
	}
	f.calls[kind]++
}

// Calls returns how many times kind was requested.
func (f *FakeProvider) Calls(kind domain.ArtifactKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *FakeProvider) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

func (f *FakeProvider) FetchRealtime(ctx context.Context, symbol string) (*domain.Quote, error) {
	f.record(domain.KindRealtime)
	if f.RealtimeFn == nil {
		return nil, domain.ErrUnsupported
	}
	return f.RealtimeFn(ctx, symbol)
}

func (f *FakeProvider) FetchKline(ctx context.Context, symbol string, params domain.KlineParams) ([]domain.Bar, error) {
	f.record(domain.KindKline)
	if f.KlineFn == nil {
		return nil, domain.ErrUnsupported
	}
	return f.KlineFn(ctx, symbol, params)
}

func (f *FakeProvider) FetchMetadata(ctx context.Context, symbol string) (*domain.Instrument, error) {
	f.record(domain.KindMetadata)
	if f.MetadataFn == nil {
		return nil, domain.ErrUnsupported
	}
	return f.MetadataFn(ctx, symbol)
}

func (f *FakeProvider) FetchListing(ctx context.Context, category string, limit int) ([]domain.PredictionMarket, error) {
	f.record(domain.KindListing)
	if f.ListingFn == nil {
		return nil, domain.ErrUnsupported
	}
	return f.ListingFn(ctx, category, limit)
}

// FixedQuote returns a RealtimeFn that always quotes price.
func FixedQuote(price float64) func(ctx context.Context, symbol string) (*domain.Quote, error) {
	return func(_ context.Context, symbol string) (*domain.Quote, error) {
		return &domain.Quote{Symbol: symbol, Last: price}, nil
	}
}

// Bars builds daily bars from closes, one day apart.
func Bars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Time: int64(i) * 86400, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}
