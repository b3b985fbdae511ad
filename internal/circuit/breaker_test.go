package circuit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errBoom  = errors.New("boom")
	cryptoID = domain.ProviderIdentity{Market: domain.MarketCrypto, Provider: "binance"}
	stockID  = domain.ProviderIdentity{Market: domain.MarketUSStock, Provider: "yahoo"}
)

func failing(calls *atomic.Int32) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return nil, errBoom
	}
}

func succeeding(calls *atomic.Int32) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return "ok", nil
	}
}

func tripBreaker(t *testing.T, r *Registry, id domain.ProviderIdentity, n int) {
	t.Helper()
	var calls atomic.Int32
	for i := 0; i < n; i++ {
		_, err := r.Call(context.Background(), id, failing(&calls))
		require.ErrorIs(t, err, errBoom)
	}
}

func TestRegistry_OpensAfterThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 5, Cooldown: time.Minute}, zerolog.Nop())

	tripBreaker(t, r, cryptoID, 4)
	assert.Equal(t, StateClosed, r.State(cryptoID))
	assert.Equal(t, uint32(4), r.Status(cryptoID).ConsecutiveFailures)

	tripBreaker(t, r, cryptoID, 1)
	assert.Equal(t, StateOpen, r.State(cryptoID))

	var calls atomic.Int32
	_, err := r.Call(context.Background(), cryptoID, succeeding(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(0), calls.Load(), "operation must not run while open")
}

func TestRegistry_SuccessResetsCounter(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, Cooldown: time.Minute}, zerolog.Nop())

	tripBreaker(t, r, cryptoID, 2)

	var calls atomic.Int32
	_, err := r.Call(context.Background(), cryptoID, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), r.Status(cryptoID).ConsecutiveFailures)

	tripBreaker(t, r, cryptoID, 2)
	assert.Equal(t, StateClosed, r.State(cryptoID))
}

func TestRegistry_HalfOpenTrialSucceeds(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Cooldown: 50 * time.Millisecond}, zerolog.Nop())
	tripBreaker(t, r, cryptoID, 2)
	require.Equal(t, StateOpen, r.State(cryptoID))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, r.State(cryptoID))

	var calls atomic.Int32
	value, err := r.Call(context.Background(), cryptoID, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(1), calls.Load())

	status := r.Status(cryptoID)
	assert.Equal(t, StateClosed.String(), status.State)
	assert.Equal(t, uint32(0), status.ConsecutiveFailures)
}

func TestRegistry_HalfOpenTrialFailsReopens(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Cooldown: 50 * time.Millisecond}, zerolog.Nop())
	tripBreaker(t, r, cryptoID, 2)
	firstOpenedAt := r.Status(cryptoID).OpenedAt
	require.False(t, firstOpenedAt.IsZero())

	time.Sleep(80 * time.Millisecond)

	var calls atomic.Int32
	_, err := r.Call(context.Background(), cryptoID, failing(&calls))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(1), calls.Load())

	status := r.Status(cryptoID)
	assert.Equal(t, StateOpen.String(), status.State)
	assert.True(t, status.OpenedAt.After(firstOpenedAt), "opened-at must be refreshed")

	_, err = r.Call(context.Background(), cryptoID, succeeding(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry_HalfOpenAllowsSingleConcurrentTrial(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: 30 * time.Millisecond}, zerolog.Nop())
	tripBreaker(t, r, cryptoID, 1)
	time.Sleep(50 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var trials atomic.Int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Call(context.Background(), cryptoID, func(context.Context) (any, error) {
			trials.Add(1)
			close(started)
			<-release
			return "ok", nil
		})
	}()
	<-started

	var rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Call(context.Background(), cryptoID, func(context.Context) (any, error) {
				trials.Add(1)
				return "ok", nil
			})
			if errors.Is(err, ErrCircuitOpen) {
				rejected.Add(1)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), trials.Load())
	assert.Equal(t, int32(10), rejected.Load())
	assert.Equal(t, StateClosed, r.State(cryptoID))
}

func TestRegistry_IdentitiesAreIsolated(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute}, zerolog.Nop())
	tripBreaker(t, r, cryptoID, 1)

	var calls atomic.Int32
	_, err := r.Call(context.Background(), stockID, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, StateOpen, r.State(cryptoID))
	assert.Equal(t, StateClosed, r.State(stockID))
}

func TestRegistry_IgnoredErrorsDoNotCount(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Cooldown: time.Minute}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := r.Call(context.Background(), cryptoID, func(context.Context) (any, error) {
			return nil, Ignore(domain.ErrUnsupported)
		})
		assert.ErrorIs(t, err, domain.ErrUnsupported)
	}
	assert.Equal(t, StateClosed, r.State(cryptoID))
	assert.Equal(t, uint32(0), r.Status(cryptoID).ConsecutiveFailures)
}

func TestRegistry_HalfOpenTrialNotProvenHealthyReopens(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled", context.Canceled},
		{"ignored", Ignore(domain.ErrInvalidSymbol)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Config{FailureThreshold: 2, Cooldown: 20 * time.Millisecond}, zerolog.Nop())
			tripBreaker(t, r, cryptoID, 2)
			firstOpenedAt := r.Status(cryptoID).OpenedAt

			time.Sleep(30 * time.Millisecond)
			require.Equal(t, StateHalfOpen, r.State(cryptoID))

			_, err := r.Call(context.Background(), cryptoID, func(context.Context) (any, error) {
				return nil, tt.err
			})
			require.Error(t, err)

			status := r.Status(cryptoID)
			assert.Equal(t, StateOpen.String(), status.State)
			assert.True(t, status.OpenedAt.After(firstOpenedAt), "opened-at must be refreshed")
			assert.Equal(t, uint32(3), status.ConsecutiveFailures)
		})
	}
}

func TestRegistry_CancelledCallerSkipsTrial(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: 20 * time.Millisecond}, zerolog.Nop())
	tripBreaker(t, r, cryptoID, 1)
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := r.Call(ctx, cryptoID, succeeding(&calls))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, StateHalfOpen, r.State(cryptoID))

	// the trial slot is still free for a live caller
	_, err = r.Call(context.Background(), cryptoID, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, r.State(cryptoID))
}

func TestExecute_Typed(t *testing.T) {
	r := NewRegistry(DefaultConfig(), zerolog.Nop())

	n, err := Execute(context.Background(), r, cryptoID, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute}, zerolog.Nop())
	tripBreaker(t, r, stockID, 1)

	var calls atomic.Int32
	_, _ = r.Call(context.Background(), cryptoID, succeeding(&calls))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, cryptoID.String(), snap[0].Identity)
	assert.Equal(t, "CLOSED", snap[0].State)
	assert.Equal(t, stockID.String(), snap[1].Identity)
	assert.Equal(t, "OPEN", snap[1].State)
}
