// Package binance fetches spot market data from Binance's public REST API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/providers"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is Binance's public spot API.
const DefaultBaseURL = "https://api.binance.com"

const (
	providerName = "binance"

	defaultKlineLimit = 100
	maxKlineLimit     = 1000

	// invalidSymbolCode is Binance's error code for unknown symbols.
	invalidSymbolCode = "-1121"
)

var intervals = map[domain.Timeframe]string{
	domain.Timeframe1m:  "1m",
	domain.Timeframe5m:  "5m",
	domain.Timeframe15m: "15m",
	domain.Timeframe30m: "30m",
	domain.Timeframe1H:  "1h",
	domain.Timeframe4H:  "4h",
	domain.Timeframe1D:  "1d",
	domain.Timeframe1W:  "1w",
}

// Client for the Binance public API.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a Binance client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  providers.NewHTTPClient(timeout),
		log:     log.With().Str("client", providerName).Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providerName
}

// NormalizeSymbol maps any accepted spelling to the exchange symbol.
func (c *Client) NormalizeSymbol(symbol string) string {
	return NormalizeSymbol(symbol)
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

// FetchRealtime returns the 24h rolling ticker for symbol.
func (c *Client) FetchRealtime(ctx context.Context, symbol string) (*domain.Quote, error) {
	base, quote := SplitSymbol(symbol)
	sym := base + quote

	var t ticker24h
	if err := c.get(ctx, "ticker", "/api/v3/ticker/24hr", url.Values{"symbol": {sym}}, sym, &t); err != nil {
		return nil, err
	}

	last, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil || last <= 0 {
		return nil, providers.Transient(providerName, "ticker", 0, fmt.Errorf("invalid last price %q for %s", t.LastPrice, sym))
	}

	ts := time.Now()
	if t.CloseTime > 0 {
		ts = time.UnixMilli(t.CloseTime)
	}

	return &domain.Quote{
		Timestamp:     ts,
		Symbol:        sym,
		Currency:      quote,
		Last:          last,
		Bid:           parseFloat(t.BidPrice),
		Ask:           parseFloat(t.AskPrice),
		Change:        parseFloat(t.PriceChange),
		ChangePercent: parseFloat(t.PriceChangePercent),
		Volume:        parseFloat(t.Volume),
	}, nil
}

// FetchKline returns up to params.Limit bars, oldest first.
func (c *Client) FetchKline(ctx context.Context, symbol string, params domain.KlineParams) ([]domain.Bar, error) {
	interval, ok := intervals[params.Timeframe]
	if !ok {
		return nil, providers.Unsupported(providerName, "klines")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultKlineLimit
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	sym := NormalizeSymbol(symbol)
	query := url.Values{
		"symbol":   {sym},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if params.BeforeTime > 0 {
		// endTime is inclusive and in milliseconds
		query.Set("endTime", strconv.FormatInt(params.BeforeTime*1000-1, 10))
	}

	var rows [][]json.RawMessage
	if err := c.get(ctx, "klines", "/api/v3/klines", query, sym, &rows); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseKline(row)
		if err != nil {
			return nil, providers.Transient(providerName, "klines", 0, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// FetchMetadata returns exchange info for symbol.
func (c *Client) FetchMetadata(ctx context.Context, symbol string) (*domain.Instrument, error) {
	sym := NormalizeSymbol(symbol)

	var info exchangeInfo
	if err := c.get(ctx, "exchange_info", "/api/v3/exchangeInfo", url.Values{"symbol": {sym}}, sym, &info); err != nil {
		return nil, err
	}

	for _, s := range info.Symbols {
		if s.Symbol != sym {
			continue
		}
		return &domain.Instrument{
			Symbol:     s.Symbol,
			Name:       s.BaseAsset + "/" + s.QuoteAsset,
			Exchange:   "Binance",
			Currency:   s.QuoteAsset,
			Type:       "crypto",
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Status:     s.Status,
		}, nil
	}
	return nil, providers.NotFound(providerName, "exchange_info", sym)
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, symbol string, out any) error {
	start := time.Now()
	err := providers.GetJSON(ctx, c.client, providerName, op, c.baseURL, path, query, out)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusBadRequest &&
			strings.Contains(upstream.Err.Error(), invalidSymbolCode) {
			return providers.NotFound(providerName, op, symbol)
		}
		c.log.Debug().Err(err).Str("op", op).Str("symbol", symbol).Msg("Request failed")
		return err
	}
	c.log.Trace().
		Str("op", op).
		Str("symbol", symbol).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched")
	return nil
}

// parseKline decodes one kline row:
// [openTime, open, high, low, close, volume, closeTime, ...]
func parseKline(row []json.RawMessage) (domain.Bar, error) {
	if len(row) < 6 {
		return domain.Bar{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}

	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return domain.Bar{}, fmt.Errorf("invalid kline open time: %w", err)
	}

	vals := make([]float64, 5)
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return domain.Bar{}, fmt.Errorf("invalid kline field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("invalid kline field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	return domain.Bar{
		Time:   openTime / 1000,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
