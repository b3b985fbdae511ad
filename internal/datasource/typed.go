package datasource

import (
	"context"
	"fmt"

	"github.com/aristath/marketcore/internal/domain"
)

// Quote fetches a realtime quote.
func (a *Accessor) Quote(ctx context.Context, symbol string, allowStale bool) (domain.Quote, Source, error) {
	res, err := a.Fetch(ctx, Request{Symbol: symbol, Kind: domain.KindRealtime, AllowStale: allowStale})
	if err != nil {
		return domain.Quote{}, "", err
	}
	q, err := as[domain.Quote](res)
	return q, res.Source, err
}

// Klines fetches bars. The returned slice is a copy and may be modified.
func (a *Accessor) Klines(ctx context.Context, symbol string, params domain.KlineParams, allowStale bool) ([]domain.Bar, Source, error) {
	res, err := a.Fetch(ctx, Request{Symbol: symbol, Kind: domain.KindKline, Params: params, AllowStale: allowStale})
	if err != nil {
		return nil, "", err
	}
	bars, err := as[[]domain.Bar](res)
	if err != nil {
		return nil, "", err
	}
	return append([]domain.Bar(nil), bars...), res.Source, nil
}

// Metadata fetches instrument metadata.
func (a *Accessor) Metadata(ctx context.Context, symbol string, allowStale bool) (domain.Instrument, Source, error) {
	res, err := a.Fetch(ctx, Request{Symbol: symbol, Kind: domain.KindMetadata, AllowStale: allowStale})
	if err != nil {
		return domain.Instrument{}, "", err
	}
	inst, err := as[domain.Instrument](res)
	return inst, res.Source, err
}

// Listing fetches up to limit markets in category. The returned slice is a
// copy and may be modified.
func (a *Accessor) Listing(ctx context.Context, category string, limit int, allowStale bool) ([]domain.PredictionMarket, Source, error) {
	res, err := a.Fetch(ctx, Request{Symbol: category, Kind: domain.KindListing, Limit: limit, AllowStale: allowStale})
	if err != nil {
		return nil, "", err
	}
	markets, err := as[[]domain.PredictionMarket](res)
	if err != nil {
		return nil, "", err
	}
	return append([]domain.PredictionMarket(nil), markets...), res.Source, nil
}

func as[T any](res Result) (T, error) {
	v, ok := res.Value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected %T for key %s", res.Value, res.Key)
	}
	return v, nil
}
