package datasource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/circuit"
	"github.com/aristath/marketcore/internal/clientdata"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/ratelimit"
	testutil "github.com/aristath/marketcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps() Deps {
	return Deps{
		Caches:   cache.NewSet(cache.SetConfig{}),
		Breakers: circuit.NewRegistry(circuit.Config{FailureThreshold: 2, Cooldown: time.Minute}, zerolog.Nop()),
		Limiter:  ratelimit.NewLimiter(ratelimit.Config{}, zerolog.Nop()),
		Retry:    ratelimit.Policy{MaxAttempts: 1},
	}
}

func newAccessor(t *testing.T, p Provider, deps Deps) *Accessor {
	t.Helper()
	f := NewFactory(deps, zerolog.Nop())
	f.Register(domain.MarketUSStock, p)
	a, err := f.Accessor(domain.MarketUSStock)
	require.NoError(t, err)
	return a
}

// quoteUnless quotes 100 for every symbol except the failing ones.
func quoteUnless(failing ...string) func(context.Context, string) (*domain.Quote, error) {
	return func(_ context.Context, symbol string) (*domain.Quote, error) {
		for _, f := range failing {
			if f == symbol {
				return nil, testutil.ErrTransient
			}
		}
		return &domain.Quote{Symbol: symbol, Last: 100}, nil
	}
}

func TestFetch_LiveThenCache(t *testing.T) {
	p := &testutil.FakeProvider{RealtimeFn: quoteUnless()}
	a := newAccessor(t, p, testDeps())
	ctx := context.Background()

	q, src, err := a.Quote(ctx, "aapl", false)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, src)
	assert.Equal(t, 100.0, q.Last)

	_, src, err = a.Quote(ctx, "aapl", false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, 1, p.Calls(domain.KindRealtime))
}

func TestFetch_OpenBreakerStillServesFreshCache(t *testing.T) {
	p := &testutil.FakeProvider{RealtimeFn: quoteUnless("MSFT")}
	deps := testDeps()
	a := newAccessor(t, p, deps)
	ctx := context.Background()

	_, _, err := a.Quote(ctx, "AAPL", false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err := a.Quote(ctx, "MSFT", false)
		require.Error(t, err)
	}
	require.Equal(t, circuit.StateOpen, deps.Breakers.State(a.Identity()))
	calls := p.Calls(domain.KindRealtime)

	q, src, err := a.Quote(ctx, "AAPL", false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, 100.0, q.Last)
	assert.Equal(t, calls, p.Calls(domain.KindRealtime))
}

func TestFetch_OpenBreakerWithoutCacheIsUnavailable(t *testing.T) {
	p := &testutil.FakeProvider{RealtimeFn: quoteUnless("MSFT")}
	deps := testDeps()
	a := newAccessor(t, p, deps)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, _ = a.Quote(ctx, "MSFT", false)
	}
	calls := p.Calls(domain.KindRealtime)

	_, _, err := a.Quote(ctx, "GOOG", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.ErrorIs(t, err, circuit.ErrCircuitOpen)

	var unavailable *domain.UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "GOOG", unavailable.Symbol)
	assert.Equal(t, "circuit open", unavailable.Reason)
	assert.Equal(t, calls, p.Calls(domain.KindRealtime), "open breaker must not invoke the provider")
}

func TestFetch_AllowStaleServesExpiredEntry(t *testing.T) {
	var failing atomic.Bool
	p := &testutil.FakeProvider{RealtimeFn: func(_ context.Context, symbol string) (*domain.Quote, error) {
		if failing.Load() {
			return nil, testutil.ErrTransient
		}
		return &domain.Quote{Symbol: symbol, Last: 42}, nil
	}}
	deps := testDeps()
	deps.Caches = cache.NewSet(cache.SetConfig{RealtimeTTL: 20 * time.Millisecond})
	a := newAccessor(t, p, deps)
	ctx := context.Background()

	_, _, err := a.Quote(ctx, "AAPL", false)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	failing.Store(true)

	_, _, err = a.Quote(ctx, "AAPL", false)
	assert.ErrorIs(t, err, domain.ErrUnavailable, "expired entries are not served without AllowStale")

	q, src, err := a.Quote(ctx, "AAPL", true)
	require.NoError(t, err)
	assert.Equal(t, SourceStale, src)
	assert.Equal(t, 42.0, q.Last)
}

func TestFetch_AllowStaleFallsBackToPersistedRow(t *testing.T) {
	var failing atomic.Bool
	p := &testutil.FakeProvider{KlineFn: func(context.Context, string, domain.KlineParams) ([]domain.Bar, error) {
		if failing.Load() {
			return nil, testutil.ErrTransient
		}
		return testutil.Bars(1, 2, 3), nil
	}}
	deps := testDeps()
	deps.Store = clientdata.NewRepository(testutil.NewTestDB(t, "client_data").Conn())
	a := newAccessor(t, p, deps)
	ctx := context.Background()
	params := domain.KlineParams{Timeframe: domain.Timeframe1D, Limit: 3}

	_, _, err := a.Klines(ctx, "AAPL", params, false)
	require.NoError(t, err)

	// simulate a restart: memory is gone, the persisted row survives
	deps.Caches.Kline().Purge()
	failing.Store(true)

	bars, src, err := a.Klines(ctx, "AAPL", params, true)
	require.NoError(t, err)
	assert.Equal(t, SourceStale, src)
	assert.Equal(t, testutil.Bars(1, 2, 3), bars)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	var n atomic.Int32
	p := &testutil.FakeProvider{RealtimeFn: func(_ context.Context, symbol string) (*domain.Quote, error) {
		if n.Add(1) < 3 {
			return nil, testutil.ErrTransient
		}
		return &domain.Quote{Symbol: symbol, Last: 7}, nil
	}}
	deps := testDeps()
	deps.Breakers = circuit.NewRegistry(circuit.Config{FailureThreshold: 5, Cooldown: time.Minute}, zerolog.Nop())
	deps.Retry = ratelimit.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	a := newAccessor(t, p, deps)

	q, src, err := a.Quote(context.Background(), "AAPL", false)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, src)
	assert.Equal(t, 7.0, q.Last)
	assert.Equal(t, 3, p.Calls(domain.KindRealtime))
	assert.Equal(t, circuit.StateClosed, deps.Breakers.State(a.Identity()))
}

func TestFetch_InvalidSymbolIsNotRetriedOrCounted(t *testing.T) {
	p := &testutil.FakeProvider{RealtimeFn: func(_ context.Context, symbol string) (*domain.Quote, error) {
		return nil, &domain.UpstreamError{Provider: "fake", Op: "quote", StatusCode: 404, Err: domain.ErrInvalidSymbol}
	}}
	deps := testDeps()
	deps.Retry = ratelimit.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	a := newAccessor(t, p, deps)

	for i := 0; i < 5; i++ {
		_, _, err := a.Quote(context.Background(), "NOPE", false)
		assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
	}
	assert.Equal(t, 5, p.Calls(domain.KindRealtime))
	assert.Equal(t, circuit.StateClosed, deps.Breakers.State(a.Identity()))
}

func TestFetch_ConcurrentCallersShareOneFlight(t *testing.T) {
	release := make(chan struct{})
	p := &testutil.FakeProvider{RealtimeFn: func(_ context.Context, symbol string) (*domain.Quote, error) {
		<-release
		return &domain.Quote{Symbol: symbol, Last: 1}, nil
	}}
	a := newAccessor(t, p, testDeps())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := a.Quote(context.Background(), "AAPL", false)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, p.Calls(domain.KindRealtime))
}

func TestFetch_CancelledCallerDoesNotFailSharedFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p := &testutil.FakeProvider{RealtimeFn: func(ctx context.Context, symbol string) (*domain.Quote, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return &domain.Quote{Symbol: symbol, Last: 42}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	a := newAccessor(t, p, testDeps())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := a.Quote(ctxA, "AAPL", false)
		errA <- err
	}()
	<-started

	type outcome struct {
		quote domain.Quote
		err   error
	}
	resB := make(chan outcome, 1)
	go func() {
		q, _, err := a.Quote(context.Background(), "AAPL", false)
		resB <- outcome{quote: q, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	err := <-errA
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, 42.0, b.quote.Last)
	assert.Equal(t, 1, p.Calls(domain.KindRealtime))

	// the surviving flight filled the cache
	_, src, err := a.Quote(context.Background(), "AAPL", false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
}

func TestFetch_ListingRequiresLister(t *testing.T) {
	a := newAccessor(t, struct{ Provider }{&testutil.FakeProvider{}}, testDeps())

	_, _, err := a.Listing(context.Background(), "crypto", 10, false)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestFetch_RejectsBadRequests(t *testing.T) {
	a := newAccessor(t, &testutil.FakeProvider{}, testDeps())

	_, err := a.Fetch(context.Background(), Request{Symbol: "", Kind: domain.KindRealtime})
	assert.ErrorIs(t, err, domain.ErrInvalidSymbol)

	_, err = a.Fetch(context.Background(), Request{Symbol: "X", Kind: "bogus"})
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestFactory(t *testing.T) {
	f := NewFactory(testDeps(), zerolog.Nop())

	_, err := f.Accessor(domain.MarketCrypto)
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	f.RegisterDefaults(ProviderConfig{})
	assert.Equal(t, domain.AllMarkets, f.Markets())

	a1, err := f.Accessor(domain.MarketCrypto)
	require.NoError(t, err)
	a2, err := f.Accessor(domain.MarketCrypto)
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, "Crypto/binance", a1.Identity().String())
	assert.Equal(t, "BTCUSDT", a1.Normalize("btc/usdt"))

	fx, err := f.Accessor(domain.MarketForex)
	require.NoError(t, err)
	assert.Equal(t, "EURUSD=X", fx.Normalize("EURUSD"))
}
