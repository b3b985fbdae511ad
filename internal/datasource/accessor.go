package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/circuit"
	"github.com/aristath/marketcore/internal/clientdata"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/metrics"
	"github.com/aristath/marketcore/internal/ratelimit"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// staleReadTimeout bounds the persisted fallback read, which runs even when
	// the caller's context is already done.
	staleReadTimeout = 2 * time.Second

	// flightTimeout bounds a shared live fetch, retries included. The flight
	// is detached from whichever caller started it.
	flightTimeout = time.Minute
)

// Store persists the last good payload per key. *clientdata.Repository
// satisfies it.
type Store interface {
	Store(ctx context.Context, kind domain.ArtifactKind, key string, value any, retention time.Duration) error
	Get(ctx context.Context, kind domain.ArtifactKind, key string, out any) (time.Time, bool, error)
}

// Accessor serves artifacts for one market through the resilience chain.
// It is safe for concurrent use.
type Accessor struct {
	identity domain.ProviderIdentity
	provider Provider
	caches   *cache.Set
	store    Store
	breakers *circuit.Registry
	limiter  *ratelimit.Limiter
	policy   ratelimit.Policy
	log      zerolog.Logger

	flights singleflight.Group
}

// Identity returns the (market, provider) pair this accessor calls.
func (a *Accessor) Identity() domain.ProviderIdentity {
	return a.identity
}

// Normalize returns the provider's canonical form of symbol.
func (a *Accessor) Normalize(symbol string) string {
	if n, ok := a.provider.(SymbolNormalizer); ok {
		return n.NormalizeSymbol(symbol)
	}
	return symbol
}

// Fetch returns the artifact described by req.
//
// A fresh cache hit always wins, even while the breaker is open. Otherwise one
// live fetch per key runs at a time; concurrent callers share its outcome. A
// caller whose ctx ends stops waiting without cutting the fetch short for the
// others.
// When the live path fails the result is a *domain.UnavailableError unless
// req.AllowStale finds an expired cache entry or persisted row.
func (a *Accessor) Fetch(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, a.unavailable(req, req.Symbol, err)
	}

	symbol := a.Normalize(req.Symbol)
	key := req.key(a.identity.Market, symbol)
	c, err := a.caches.For(req.Kind)
	if err != nil {
		return Result{}, a.unavailable(req, symbol, err)
	}

	if v, ok := c.Get(key); ok {
		return Result{Value: v, Source: SourceCache, Identity: a.identity, Key: key}, nil
	}

	flight := a.flights.DoChan(key, func() (any, error) {
		// a flight that just finished may have populated the cache
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return a.fetchLive(fctx, req, symbol, key, c)
	})

	var shared bool
	select {
	case res := <-flight:
		if res.Err == nil {
			return Result{Value: res.Val, Source: SourceLive, Identity: a.identity, Key: key, StoredAt: time.Now()}, nil
		}
		err, shared = res.Err, res.Shared
	case <-ctx.Done():
		// the flight keeps running for the other callers and still fills the cache
		err = ctx.Err()
	}

	if req.AllowStale {
		if v, storedAt, ok := a.stale(ctx, req.Kind, key, c); ok {
			a.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Str("kind", string(req.Kind)).
				Time("stored_at", storedAt).
				Msg("Live fetch failed, serving stale data")
			return Result{Value: v, Source: SourceStale, Identity: a.identity, Key: key, StoredAt: storedAt}, nil
		}
	}

	a.log.Debug().
		Err(err).
		Str("symbol", symbol).
		Str("kind", string(req.Kind)).
		Bool("shared", shared).
		Msg("Artifact unavailable")
	return Result{}, a.unavailable(req, symbol, err)
}

func (a *Accessor) fetchLive(ctx context.Context, req Request, symbol, key string, c *cache.Cache) (any, error) {
	label := a.identity.String()
	kind := string(req.Kind)

	value, err := ratelimit.Retry(ctx, a.policy, func(ctx context.Context, attempt int) (any, error) {
		ticket, err := a.limiter.Throttle(ctx, a.identity)
		if err != nil {
			return nil, ratelimit.Permanent(err)
		}
		ctx = ratelimit.WithUserAgent(ctx, ticket.UserAgent)

		start := time.Now()
		v, err := a.breakers.Call(ctx, a.identity, func(ctx context.Context) (any, error) {
			v, err := a.call(ctx, req, symbol)
			if err != nil && isCallerError(err) {
				return nil, circuit.Ignore(err)
			}
			return v, err
		})

		switch {
		case err == nil:
			metrics.ProviderRequests.WithLabelValues(label, kind, "ok").Inc()
			metrics.ProviderLatency.WithLabelValues(label, kind).Observe(time.Since(start).Seconds())
			return v, nil
		case errors.Is(err, circuit.ErrCircuitOpen):
			metrics.ProviderRequests.WithLabelValues(label, kind, "rejected").Inc()
			return nil, ratelimit.Permanent(err)
		default:
			metrics.ProviderRequests.WithLabelValues(label, kind, "error").Inc()
			metrics.ProviderLatency.WithLabelValues(label, kind).Observe(time.Since(start).Seconds())
			if !domain.IsRetriable(err) {
				return nil, ratelimit.Permanent(err)
			}
			a.log.Debug().
				Err(err).
				Str("symbol", symbol).
				Str("kind", kind).
				Int("attempt", attempt).
				Msg("Provider call failed")
			return nil, err
		}
	})
	if err != nil {
		return nil, err
	}

	c.Put(key, value, 0)
	if a.store != nil {
		if err := a.store.Store(ctx, req.Kind, key, value, clientdata.RetentionFor(req.Kind)); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Failed to persist artifact")
		}
	}
	return value, nil
}

// call dispatches to the provider and returns a value-typed artifact so
// cached values can't be mutated through a shared pointer.
func (a *Accessor) call(ctx context.Context, req Request, symbol string) (any, error) {
	switch req.Kind {
	case domain.KindRealtime:
		q, err := a.provider.FetchRealtime(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return *q, nil
	case domain.KindKline:
		return a.provider.FetchKline(ctx, symbol, req.Params)
	case domain.KindMetadata:
		inst, err := a.provider.FetchMetadata(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return *inst, nil
	case domain.KindListing:
		lister, ok := a.provider.(Lister)
		if !ok {
			return nil, fmt.Errorf("%s: listing: %w", a.provider.Name(), domain.ErrUnsupported)
		}
		return lister.FetchListing(ctx, symbol, req.Limit)
	default:
		return nil, fmt.Errorf("%w: artifact kind %q", domain.ErrUnsupported, req.Kind)
	}
}

// stale looks for an expired in-memory entry first, then the persisted row.
func (a *Accessor) stale(ctx context.Context, kind domain.ArtifactKind, key string, c *cache.Cache) (any, time.Time, bool) {
	if v, storedAt, ok := c.GetStale(key); ok {
		return v, storedAt, true
	}
	if a.store == nil {
		return nil, time.Time{}, false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), staleReadTimeout)
	defer cancel()

	out, deref := newValue(kind)
	storedAt, ok, err := a.store.Get(ctx, kind, key, out)
	if err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("Failed to read persisted artifact")
		return nil, time.Time{}, false
	}
	if !ok {
		return nil, time.Time{}, false
	}
	return deref(), storedAt, true
}

func newValue(kind domain.ArtifactKind) (any, func() any) {
	switch kind {
	case domain.KindKline:
		var bars []domain.Bar
		return &bars, func() any { return bars }
	case domain.KindMetadata:
		var inst domain.Instrument
		return &inst, func() any { return inst }
	case domain.KindListing:
		var markets []domain.PredictionMarket
		return &markets, func() any { return markets }
	default:
		var q domain.Quote
		return &q, func() any { return q }
	}
}

func (a *Accessor) unavailable(req Request, symbol string, cause error) error {
	return &domain.UnavailableError{
		Cause:    cause,
		Identity: a.identity,
		Symbol:   symbol,
		Kind:     req.Kind,
		Reason:   reason(cause),
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, circuit.ErrCircuitOpen):
		return "circuit open"
	case errors.Is(err, domain.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, domain.ErrInvalidSymbol):
		return "invalid symbol"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		var attempts *ratelimit.AttemptsError
		if errors.As(err, &attempts) {
			return fmt.Sprintf("failed after %d attempt(s)", attempts.Attempts)
		}
		return "upstream error"
	}
}

// isCallerError reports failures caused by the request rather than the
// provider's health. They don't count toward the breaker.
func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrUnsupported) || errors.Is(err, domain.ErrInvalidSymbol)
}
