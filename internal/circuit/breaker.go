// Package circuit isolates failing upstream providers. Each provider identity
// owns one breaker that opens after consecutive failures, rejects calls during
// a cooldown, then lets a single trial call through.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without invoking the operation while a breaker is
// open, or while another caller holds the half-open trial.
var ErrCircuitOpen = errors.New("circuit open")

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config holds breaker thresholds shared by every identity.
type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
}

// DefaultConfig opens after 5 consecutive failures for 60 seconds.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

// Status is a point-in-time view of one breaker.
type Status struct {
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Identity            string    `json:"identity"`
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
}

type breaker struct {
	id domain.ProviderIdentity
	cb *gobreaker.CircuitBreaker

	mu                  sync.Mutex
	consecutiveFailures uint32
	openedAt            time.Time
	lastFailure         time.Time
}

// Registry holds one breaker per provider identity, created on first use.
type Registry struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	breakers map[domain.ProviderIdentity]*breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg Config, log zerolog.Logger) *Registry {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Registry{
		cfg:      cfg,
		log:      log.With().Str("component", "circuit").Logger(),
		breakers: make(map[domain.ProviderIdentity]*breaker),
	}
}

func (r *Registry) get(id domain.ProviderIdentity) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[id]; ok {
		return b
	}

	b := &breaker{id: id}
	threshold := r.cfg.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id.String(),
		MaxRequests: 1,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.onTransition(b, fromGobreaker(from), fromGobreaker(to))
		},
	})
	r.breakers[id] = b
	metrics.BreakerState.WithLabelValues(id.String()).Set(float64(StateClosed))
	return b
}

// onTransition runs under gobreaker's internal lock and must not call back
// into b.cb.
func (r *Registry) onTransition(b *breaker, from, to State) {
	b.mu.Lock()
	failures := b.consecutiveFailures
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed:
		b.consecutiveFailures = 0
	}
	b.mu.Unlock()

	metrics.BreakerState.WithLabelValues(b.id.String()).Set(float64(to))
	metrics.BreakerTransitions.WithLabelValues(b.id.String(), from.String(), to.String()).Inc()

	event := r.log.Info()
	if to == StateOpen {
		event = r.log.Warn()
	}
	event.
		Str("identity", b.id.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Uint32("consecutive_failures", failures).
		Str("reason", transitionReason(from, to)).
		Msg("Circuit breaker state changed")
}

func transitionReason(from, to State) string {
	switch {
	case from == StateClosed && to == StateOpen:
		return "failure threshold reached"
	case from == StateOpen && to == StateHalfOpen:
		return "cooldown elapsed, allowing trial call"
	case from == StateHalfOpen && to == StateClosed:
		return "trial call succeeded"
	case from == StateHalfOpen && to == StateOpen:
		return "trial call failed"
	default:
		return "state change"
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	b.consecutiveFailures++
	b.lastFailure = time.Now()
	b.mu.Unlock()
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.mu.Unlock()
}

// ignoredError carries an error that should not count against the breaker.
type ignoredError struct {
	err error
}

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }

// Ignore marks err as the caller's fault rather than the provider's, so the
// breaker treats the call as healthy.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return &ignoredError{err: err}
}

func isIgnored(err error) bool {
	var ign *ignoredError
	return errors.As(err, &ign) || errors.Is(err, context.Canceled)
}

type passthrough struct {
	value any
	err   error
}

// Call runs op through the identity's breaker.
//
// Ignored errors and cancellations leave a closed breaker untouched. During
// the half-open trial they count as a failure, since only a real success may
// close the breaker.
func (r *Registry) Call(ctx context.Context, id domain.ProviderIdentity, op func(ctx context.Context) (any, error)) (any, error) {
	// a caller that is already gone must not take the trial slot
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := r.get(id)
	trial := b.cb.State() == gobreaker.StateHalfOpen

	result, err := b.cb.Execute(func() (interface{}, error) {
		value, err := op(ctx)
		if err != nil {
			if isIgnored(err) && !trial {
				return passthrough{value: value, err: err}, nil
			}
			b.recordFailure()
			return nil, err
		}
		b.recordSuccess()
		return value, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", id, ErrCircuitOpen)
	}
	if err != nil {
		return nil, err
	}
	if p, ok := result.(passthrough); ok {
		return p.value, p.err
	}
	return result, nil
}

// Execute is a typed wrapper around Registry.Call.
func Execute[T any](ctx context.Context, r *Registry, id domain.ProviderIdentity, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := r.Call(ctx, id, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		if typed, ok := result.(T); ok {
			return typed, err
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// State returns the identity's current state. Unknown identities are closed.
func (r *Registry) State(id domain.ProviderIdentity) State {
	r.mu.Lock()
	b, ok := r.breakers[id]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(b.cb.State())
}

// Status returns a snapshot of one identity's breaker.
func (r *Registry) Status(id domain.ProviderIdentity) Status {
	r.mu.Lock()
	b, ok := r.breakers[id]
	r.mu.Unlock()
	if !ok {
		return Status{Identity: id.String(), State: StateClosed.String()}
	}
	return b.status()
}

func (b *breaker) status() Status {
	state := fromGobreaker(b.cb.State())

	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Identity:            b.id.String(),
		State:               state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		LastFailure:         b.lastFailure,
	}
}

// Snapshot returns every known breaker, sorted by identity.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	breakers := make([]*breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
