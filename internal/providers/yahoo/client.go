// Package yahoo fetches equity and forex data from Yahoo Finance's chart API.
package yahoo

import (
	"context"
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

// DefaultBaseURL is Yahoo's chart API host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

const (
	providerName      = "yahoo"
	forexSuffix       = "=X"
	defaultKlineLimit = 100
)

type interval struct {
	name string
	bar  time.Duration
	// maxLookback is how far back Yahoo serves this interval
	maxLookback time.Duration
}

var intervals = map[domain.Timeframe]interval{
	domain.Timeframe1m:  {"1m", time.Minute, 7 * 24 * time.Hour},
	domain.Timeframe5m:  {"5m", 5 * time.Minute, 60 * 24 * time.Hour},
	domain.Timeframe15m: {"15m", 15 * time.Minute, 60 * 24 * time.Hour},
	domain.Timeframe30m: {"30m", 30 * time.Minute, 60 * 24 * time.Hour},
	domain.Timeframe1H:  {"60m", time.Hour, 730 * 24 * time.Hour},
	domain.Timeframe1D:  {"1d", 24 * time.Hour, 0},
	domain.Timeframe1W:  {"1wk", 7 * 24 * time.Hour, 0},
}

// Client for the Yahoo chart API. One instance serves either equities or
// forex; forex symbols get the "=X" suffix.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
	forex   bool
}

// NewClient creates a Yahoo client for US equities.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return newClient(baseURL, timeout, log, false)
}

// NewForexClient creates a Yahoo client for currency pairs.
func NewForexClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return newClient(baseURL, timeout, log, true)
}

func newClient(baseURL string, timeout time.Duration, log zerolog.Logger, forex bool) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	market := "equity"
	if forex {
		market = "forex"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  providers.NewHTTPClient(timeout),
		log:     log.With().Str("client", providerName).Str("market", market).Logger(),
		forex:   forex,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providerName
}

// NormalizeSymbol uppercases and, for forex, maps "EUR/USD" or "EURUSD" to
// "EURUSD=X".
func (c *Client) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !c.forex {
		return s
	}
	s = strings.ReplaceAll(s, "/", "")
	if !strings.HasSuffix(s, forexSuffix) {
		s += forexSuffix
	}
	return s
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency             string  `json:"currency"`
		Symbol               string  `json:"symbol"`
		ExchangeName         string  `json:"exchangeName"`
		FullExchangeName     string  `json:"fullExchangeName"`
		InstrumentType       string  `json:"instrumentType"`
		LongName             string  `json:"longName"`
		ShortName            string  `json:"shortName"`
		RegularMarketPrice   float64 `json:"regularMarketPrice"`
		RegularMarketTime    int64   `json:"regularMarketTime"`
		RegularMarketVolume  float64 `json:"regularMarketVolume"`
		ChartPreviousClose   float64 `json:"chartPreviousClose"`
		PreviousClose        float64 `json:"previousClose"`
		RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (c *Client) chart(ctx context.Context, op, symbol string, query url.Values) (*chartResult, error) {
	var resp chartResponse
	err := providers.GetJSON(ctx, c.client, providerName, op, c.baseURL, "/v8/finance/chart/"+url.PathEscape(symbol), query, &resp)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			return nil, providers.NotFound(providerName, op, symbol)
		}
		c.log.Debug().Err(err).Str("op", op).Str("symbol", symbol).Msg("Request failed")
		return nil, err
	}

	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return nil, providers.NotFound(providerName, op, symbol)
		}
		return nil, providers.Permanent(providerName, op, fmt.Errorf("%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description))
	}
	if len(resp.Chart.Result) == 0 {
		return nil, providers.NotFound(providerName, op, symbol)
	}
	return &resp.Chart.Result[0], nil
}

// FetchRealtime returns the latest regular-market quote from chart meta.
func (c *Client) FetchRealtime(ctx context.Context, symbol string) (*domain.Quote, error) {
	sym := c.NormalizeSymbol(symbol)

	res, err := c.chart(ctx, "quote", sym, url.Values{"interval": {"1d"}, "range": {"1d"}})
	if err != nil {
		return nil, err
	}

	meta := res.Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, providers.Transient(providerName, "quote", 0, fmt.Errorf("no market price for %s", sym))
	}

	prev := meta.ChartPreviousClose
	if prev == 0 {
		prev = meta.PreviousClose
	}
	var change, changePct float64
	if prev > 0 {
		change = meta.RegularMarketPrice - prev
		changePct = change / prev * 100
	}

	ts := time.Now()
	if meta.RegularMarketTime > 0 {
		ts = time.Unix(meta.RegularMarketTime, 0)
	}

	return &domain.Quote{
		Timestamp:     ts,
		Symbol:        sym,
		Currency:      meta.Currency,
		Last:          meta.RegularMarketPrice,
		Change:        change,
		ChangePercent: changePct,
		Volume:        meta.RegularMarketVolume,
	}, nil
}

// FetchKline returns up to params.Limit bars ending before params.BeforeTime
// (or now). 4H bars are not offered by Yahoo.
func (c *Client) FetchKline(ctx context.Context, symbol string, params domain.KlineParams) ([]domain.Bar, error) {
	iv, ok := intervals[params.Timeframe]
	if !ok {
		return nil, providers.Unsupported(providerName, "chart")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultKlineLimit
	}

	end := time.Now()
	if params.BeforeTime > 0 {
		end = time.Unix(params.BeforeTime, 0)
	}
	// markets are closed most of the week, so over-fetch and trim
	lookback := time.Duration(limit) * iv.bar * 3
	if iv.maxLookback > 0 && lookback > iv.maxLookback {
		lookback = iv.maxLookback
	}

	sym := c.NormalizeSymbol(symbol)
	res, err := c.chart(ctx, "chart", sym, url.Values{
		"interval": {iv.name},
		"period1":  {strconv.FormatInt(end.Add(-lookback).Unix(), 10)},
		"period2":  {strconv.FormatInt(end.Unix(), 10)},
	})
	if err != nil {
		return nil, err
	}

	bars := toBars(res)
	if params.BeforeTime > 0 {
		for len(bars) > 0 && bars[len(bars)-1].Time >= params.BeforeTime {
			bars = bars[:len(bars)-1]
		}
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// toBars zips the chart arrays, skipping slots Yahoo left null.
func toBars(res *chartResult) []domain.Bar {
	if len(res.Indicators.Quote) == 0 {
		return nil
	}
	q := res.Indicators.Quote[0]

	bars := make([]domain.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, cl := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue
		}
		var vol float64
		if v := at(q.Volume, i); v != nil {
			vol = *v
		}
		bars = append(bars, domain.Bar{Time: ts, Open: *o, High: *h, Low: *l, Close: *cl, Volume: vol})
	}
	return bars
}

func at(vals []*float64, i int) *float64 {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}

// FetchMetadata builds instrument metadata from chart meta.
func (c *Client) FetchMetadata(ctx context.Context, symbol string) (*domain.Instrument, error) {
	sym := c.NormalizeSymbol(symbol)

	res, err := c.chart(ctx, "metadata", sym, url.Values{"interval": {"1d"}, "range": {"1d"}})
	if err != nil {
		return nil, err
	}

	meta := res.Meta
	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	if name == "" {
		name = sym
	}
	exchange := meta.FullExchangeName
	if exchange == "" {
		exchange = meta.ExchangeName
	}

	inst := &domain.Instrument{
		Symbol:   sym,
		Name:     name,
		Exchange: exchange,
		Currency: meta.Currency,
		Type:     strings.ToLower(meta.InstrumentType),
		Status:   "active",
	}
	if c.forex {
		pair := strings.TrimSuffix(sym, forexSuffix)
		if len(pair) == 6 {
			inst.BaseAsset, inst.QuoteAsset = pair[:3], pair[3:]
		}
	}
	return inst, nil
}
