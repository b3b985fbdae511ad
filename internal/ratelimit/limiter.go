// Package ratelimit paces outbound calls per provider identity and retries
// transient failures with exponential backoff.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultUserAgents is the rotation pool used when Config.UserAgents is empty.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Config holds the throttle window and identity pool.
type Config struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	UserAgents []string
}

// Ticket is handed out by Throttle for one outbound call.
type Ticket struct {
	UserAgent string
	Waited    time.Duration
}

type slot struct {
	next  time.Time
	agent int
}

// Limiter spaces consecutive calls to the same provider identity by a random
// delay drawn from [MinDelay, MaxDelay]. Identities never share timers.
type Limiter struct {
	minDelay time.Duration
	maxDelay time.Duration
	agents   []string
	log      zerolog.Logger

	mu    sync.Mutex
	slots map[domain.ProviderIdentity]*slot
	rnd   *rand.Rand
}

// NewLimiter creates a limiter. A max below min is raised to min.
func NewLimiter(cfg Config, log zerolog.Logger) *Limiter {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &Limiter{
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		agents:   agents,
		log:      log.With().Str("component", "ratelimit").Logger(),
		slots:    make(map[domain.ProviderIdentity]*slot),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Throttle blocks until the identity's next slot and returns the outbound
// identity to present. The slot is reserved before sleeping so concurrent
// callers queue behind each other instead of firing together.
func (l *Limiter) Throttle(ctx context.Context, id domain.ProviderIdentity) (Ticket, error) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{}
		l.slots[id] = s
	}
	now := time.Now()
	at := s.next
	if at.Before(now) {
		at = now
	}
	s.next = at.Add(l.delayLocked())
	agent := l.agents[s.agent%len(l.agents)]
	s.agent++
	l.mu.Unlock()

	ticket := Ticket{UserAgent: agent}
	wait := time.Until(at)
	if wait <= 0 {
		metrics.ThrottleWait.WithLabelValues(id.String()).Observe(0)
		return ticket, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	case <-timer.C:
	}

	ticket.Waited = wait
	metrics.ThrottleWait.WithLabelValues(id.String()).Observe(wait.Seconds())
	l.log.Trace().
		Str("identity", id.String()).
		Dur("waited", wait).
		Msg("Throttled outbound call")
	return ticket, nil
}

// delayLocked draws a delay from the configured window. Caller holds l.mu.
func (l *Limiter) delayLocked() time.Duration {
	spread := l.maxDelay - l.minDelay
	if spread <= 0 {
		return l.minDelay
	}
	return l.minDelay + time.Duration(l.rnd.Int63n(int64(spread)+1))
}

type userAgentKey struct{}

// WithUserAgent attaches the ticket's identity to ctx for provider clients.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// UserAgent returns the identity attached by WithUserAgent, or the first
// default agent.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok && ua != "" {
		return ua
	}
	return DefaultUserAgents[0]
}
