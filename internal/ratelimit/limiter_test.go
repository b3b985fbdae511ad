package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	binanceID = domain.ProviderIdentity{Market: domain.MarketCrypto, Provider: "binance"}
	yahooID   = domain.ProviderIdentity{Market: domain.MarketUSStock, Provider: "yahoo"}
)

func TestThrottle_FirstCallDoesNotWait(t *testing.T) {
	l := NewLimiter(Config{MinDelay: time.Second, MaxDelay: 2 * time.Second}, zerolog.Nop())

	start := time.Now()
	ticket, err := l.Throttle(context.Background(), binanceID)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.NotEmpty(t, ticket.UserAgent)
}

func TestThrottle_SpacesConsecutiveCalls(t *testing.T) {
	l := NewLimiter(Config{MinDelay: 40 * time.Millisecond, MaxDelay: 60 * time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := l.Throttle(ctx, binanceID)
		require.NoError(t, err)
	}

	// two gaps of at least MinDelay each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestThrottle_IdentitiesAreIndependent(t *testing.T) {
	l := NewLimiter(Config{MinDelay: 500 * time.Millisecond, MaxDelay: 500 * time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	_, err := l.Throttle(ctx, binanceID)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Throttle(ctx, yahooID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottle_RespectsContext(t *testing.T) {
	l := NewLimiter(Config{MinDelay: time.Second, MaxDelay: time.Second}, zerolog.Nop())

	_, err := l.Throttle(context.Background(), binanceID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Throttle(ctx, binanceID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottle_RotatesUserAgents(t *testing.T) {
	agents := []string{"agent-a", "agent-b"}
	l := NewLimiter(Config{UserAgents: agents}, zerolog.Nop())
	ctx := context.Background()

	first, err := l.Throttle(ctx, binanceID)
	require.NoError(t, err)
	second, err := l.Throttle(ctx, binanceID)
	require.NoError(t, err)
	third, err := l.Throttle(ctx, binanceID)
	require.NoError(t, err)

	assert.NotEqual(t, first.UserAgent, second.UserAgent)
	assert.Equal(t, first.UserAgent, third.UserAgent)
}

func TestUserAgentContext(t *testing.T) {
	assert.Equal(t, DefaultUserAgents[0], UserAgent(context.Background()))

	ctx := WithUserAgent(context.Background(), "custom")
	assert.Equal(t, "custom", UserAgent(ctx))
}
