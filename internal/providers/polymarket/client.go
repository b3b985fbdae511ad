// Package polymarket reads prediction markets from Polymarket's Gamma API.
package polymarket

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/providers"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public Gamma API.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

const (
	providerName   = "polymarket"
	defaultTimeout = 15 * time.Second
	maxEventsLimit = 100
	defaultLimit   = 50
)

// Client for the Gamma API.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a Gamma client. Zero timeout uses 15s.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
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

// NormalizeSymbol trims whitespace; market ids are opaque.
func (c *Client) NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(symbol)
}

// FetchListing returns up to limit active markets in category, highest 24h
// volume first. An empty category or "all" disables filtering.
func (c *Client) FetchListing(ctx context.Context, category string, limit int) ([]domain.PredictionMarket, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	fetch := limit * 2
	if fetch > maxEventsLimit {
		fetch = maxEventsLimit
	}

	var events []gammaEvent
	err := providers.GetJSON(ctx, c.client, providerName, "events", c.baseURL, "/events", url.Values{
		"active": {"true"},
		"closed": {"false"},
		"limit":  {strconv.Itoa(fetch)},
	}, &events)
	if err != nil {
		c.log.Debug().Err(err).Str("category", category).Msg("Failed to fetch events")
		return nil, err
	}

	filter := strings.ToLower(strings.TrimSpace(category))
	if filter == "all" {
		filter = ""
	}

	markets := make([]domain.PredictionMarket, 0, len(events))
	for _, ev := range events {
		for _, pm := range parseEvent(ev) {
			if filter != "" && pm.Category != filter {
				continue
			}
			markets = append(markets, pm)
		}
	}

	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume24h > markets[j].Volume24h
	})
	if len(markets) > limit {
		markets = markets[:limit]
	}

	c.log.Debug().
		Str("category", category).
		Int("events", len(events)).
		Int("markets", len(markets)).
		Msg("Fetched listing")
	return markets, nil
}

// FetchRealtime returns the market's YES probability as a quote: Last is the
// probability in percent and Volume the 24h volume.
func (c *Client) FetchRealtime(ctx context.Context, marketID string) (*domain.Quote, error) {
	pm, err := c.fetchMarket(ctx, "market", marketID)
	if err != nil {
		return nil, err
	}
	return &domain.Quote{
		Timestamp: time.Now(),
		Symbol:    pm.MarketID,
		Currency:  "USDC",
		Last:      pm.CurrentProbability,
		Volume:    pm.Volume24h,
	}, nil
}

// FetchKline is not offered for prediction markets.
func (c *Client) FetchKline(_ context.Context, _ string, _ domain.KlineParams) ([]domain.Bar, error) {
	return nil, providers.Unsupported(providerName, "klines")
}

// FetchMetadata describes a single market.
func (c *Client) FetchMetadata(ctx context.Context, marketID string) (*domain.Instrument, error) {
	pm, err := c.fetchMarket(ctx, "market_metadata", marketID)
	if err != nil {
		return nil, err
	}
	return &domain.Instrument{
		Symbol:   pm.MarketID,
		Name:     pm.Question,
		Exchange: "Polymarket",
		Currency: "USDC",
		Type:     "prediction",
		Status:   pm.Status,
	}, nil
}

func (c *Client) fetchMarket(ctx context.Context, op, marketID string) (*domain.PredictionMarket, error) {
	id := c.NormalizeSymbol(marketID)
	if id == "" {
		return nil, providers.NotFound(providerName, op, marketID)
	}

	var m gammaMarket
	err := providers.GetJSON(ctx, c.client, providerName, op, c.baseURL, "/markets/"+url.PathEscape(id), nil, &m)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			return nil, providers.NotFound(providerName, op, id)
		}
		return nil, err
	}

	pm, ok := parseMarket(gammaEvent{}, m)
	if !ok {
		return nil, providers.NotFound(providerName, op, id)
	}
	return &pm, nil
}

func parseEvent(ev gammaEvent) []domain.PredictionMarket {
	markets := ev.Markets
	if len(markets) == 0 && ev.Title != "" {
		// single-market events carry the market fields inline
		markets = []gammaMarket{{ID: ev.ID, Title: ev.Title, Slug: ev.Slug, EndDate: ev.EndDate, Active: ev.Active}}
	}

	out := make([]domain.PredictionMarket, 0, len(markets))
	for _, m := range markets {
		if pm, ok := parseMarket(ev, m); ok {
			out = append(out, pm)
		}
	}
	return out
}

// parseMarket maps a Gamma market onto the domain model, falling back to the
// enclosing event for fields the market omits.
func parseMarket(ev gammaEvent, m gammaMarket) (domain.PredictionMarket, bool) {
	id := firstNonEmpty(m.ID, m.Slug, ev.ID, ev.Slug)
	question := firstNonEmpty(m.Question, m.Title, ev.Title)
	if id == "" || question == "" {
		return domain.PredictionMarket{}, false
	}

	prob, tokens := probability(m.Outcomes, m.OutcomePrices)

	volume := float64(m.Volume24hr)
	if volume == 0 {
		volume = float64(ev.Volume24hr)
	}
	liquidity := float64(m.Liquidity)
	if liquidity == 0 {
		liquidity = float64(ev.Liquidity)
	}

	status := "active"
	active := m.Active
	if active == nil {
		active = ev.Active
	}
	if m.Closed || (active != nil && !*active) {
		status = "closed"
	}

	pm := domain.PredictionMarket{
		MarketID:           id,
		Question:           question,
		Slug:               validSlug(ev.Slug, m.Slug),
		Category:           InferCategory(question),
		Status:             status,
		CurrentProbability: prob,
		Volume24h:          volume,
		Liquidity:          liquidity,
		OutcomeTokens:      tokens,
	}
	if end := firstNonEmpty(m.EndDate, ev.EndDate); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			pm.EndDate = t
		}
	}
	return pm, true
}

// probability returns the YES price in percent (50 when unknown) and the
// per-outcome prices normalized to 0..1.
func probability(outcomes, prices []string) (float64, map[string]float64) {
	if len(prices) == 0 {
		return 50, nil
	}

	tokens := make(map[string]float64, len(prices))
	yesIdx := 0
	for i, raw := range prices {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if p > 1 {
			p /= 100
		}
		name := defaultOutcomeName(i)
		if i < len(outcomes) && outcomes[i] != "" {
			name = strings.ToUpper(outcomes[i])
		}
		if name == "YES" {
			yesIdx = i
		}
		tokens[name] = p
	}

	yes, err := strconv.ParseFloat(prices[yesIdx], 64)
	if err != nil || yes <= 0 {
		return 50, tokens
	}
	if yes <= 1 {
		yes *= 100
	}
	return math.Round(yes*100) / 100, tokens
}

func defaultOutcomeName(i int) string {
	switch i {
	case 0:
		return "YES"
	case 1:
		return "NO"
	default:
		return "OUTCOME_" + strconv.Itoa(i)
	}
}

// validSlug prefers the event slug; purely numeric slugs are ids, not slugs.
func validSlug(candidates ...string) string {
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			continue
		}
		return s
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
