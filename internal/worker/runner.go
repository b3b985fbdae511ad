// Package worker runs background jobs as singleton loops. A Runner owns one
// goroutine that executes a cycle immediately, then once per interval, backing
// off to a cooldown after failures. Registry builds runners lazily by name.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aristath/marketcore/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultErrorCooldown is the wait after a failed or panicking cycle.
const DefaultErrorCooldown = 60 * time.Second

// ErrStopInProgress is returned by Start while a loop that outlived its Stop
// timeout is still finishing its cycle.
var ErrStopInProgress = errors.New("previous worker loop is still stopping")

// State of a runner's loop.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CycleFunc performs one unit of work.
type CycleFunc func(ctx context.Context) error

// Config controls a runner's pacing.
type Config struct {
	Name          string
	Interval      time.Duration
	ErrorCooldown time.Duration
	// CycleTimeout bounds a single cycle. Stop does not cancel an in-flight
	// cycle; only this timeout does.
	CycleTimeout time.Duration
}

// Status is a point-in-time view of a runner.
type Status struct {
	LastRun      time.Time `json:"last_run,omitempty"`
	Name         string    `json:"name"`
	State        string    `json:"state"`
	Interval     string    `json:"interval"`
	LastError    string    `json:"last_error,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	Cycles       uint64    `json:"cycles"`
	Failures     uint64    `json:"failures"`
	Enabled      bool      `json:"enabled"`
}

// Runner executes a CycleFunc in a loop. Start and Stop may be called from
// any goroutine; at most one loop goroutine exists per runner.
type Runner struct {
	cfg   Config
	cycle CycleFunc
	log   zerolog.Logger

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}

	// runMu serializes scheduled cycles with ForceRun
	runMu sync.Mutex

	statsMu      sync.Mutex
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
	cycles       uint64
	failures     uint64
}

// NewRunner creates a runner in StateNotStarted.
func NewRunner(cfg Config, cycle CycleFunc, log zerolog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = DefaultErrorCooldown
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	return &Runner{
		cfg:   cfg,
		cycle: cycle,
		log:   log.With().Str("worker", cfg.Name).Logger(),
	}
}

// Name returns the worker name.
func (r *Runner) Name() string {
	return r.cfg.Name
}

// State returns the current loop state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the loop. It returns nil without side effects when the loop
// is already running.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning {
		return nil
	}
	if r.done != nil {
		select {
		case <-r.done:
		default:
			return ErrStopInProgress
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	r.stop, r.done = stop, done
	r.state = StateRunning

	go r.loop(stop, done)

	metrics.WorkerRunning.WithLabelValues(r.cfg.Name).Set(1)
	r.log.Info().Dur("interval", r.cfg.Interval).Msg("Worker started")
	return nil
}

// Stop signals the loop and waits up to timeout for it to exit. It reports
// whether the loop exited in time. Stop before Start, or a repeated Stop, is a
// no-op that reports true.
func (r *Runner) Stop(timeout time.Duration) bool {
	r.mu.Lock()
	if r.state != StateRunning {
		done := r.done
		r.mu.Unlock()
		if done == nil {
			return true
		}
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	r.state = StateStopping
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		r.log.Info().Msg("Worker stopped")
		return true
	case <-timer.C:
		r.log.Warn().Dur("timeout", timeout).Msg("Worker did not stop in time, cycle still running")
		return false
	}
}

// ForceRun executes one cycle synchronously, waiting for any scheduled cycle
// in progress to finish first. ctx bounds the cycle together with the cycle
// timeout.
func (r *Runner) ForceRun(ctx context.Context) error {
	return r.runCycle(ctx, "manual")
}

func (r *Runner) loop(stop <-chan struct{}, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		if r.done == done {
			r.state = StateStopped
		}
		r.mu.Unlock()
		metrics.WorkerRunning.WithLabelValues(r.cfg.Name).Set(0)
		close(done)
	}()

	for {
		wait := r.cfg.Interval
		if err := r.runCycle(context.Background(), "schedule"); err != nil {
			wait = r.cfg.ErrorCooldown
			r.log.Debug().Dur("cooldown", wait).Msg("Backing off after failed cycle")
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		// a stop that raced the timer wins
		select {
		case <-stop:
			return
		default:
		}
	}
}

// runCycle runs the cycle with panic recovery. Panics are returned as errors.
func (r *Runner) runCycle(parent context.Context, trigger string) (err error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, r.cfg.CycleTimeout)
	defer cancel()

	start := time.Now()
	outcome := "ok"

	defer func() {
		if p := recover(); p != nil {
			outcome = "panic"
			err = fmt.Errorf("panic in %s cycle: %v", r.cfg.Name, p)
			r.log.Error().
				Str("trigger", trigger).
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Worker cycle panicked")
		} else if err != nil {
			outcome = "error"
			r.log.Error().Err(err).Str("trigger", trigger).Msg("Worker cycle failed")
		}

		elapsed := time.Since(start)
		r.record(start, elapsed, err)
		metrics.WorkerCycles.WithLabelValues(r.cfg.Name, trigger, outcome).Inc()
		metrics.WorkerCycleDuration.WithLabelValues(r.cfg.Name).Observe(elapsed.Seconds())
	}()

	return r.cycle(ctx)
}

func (r *Runner) record(start time.Time, elapsed time.Duration, err error) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	r.lastRun = start
	r.lastDuration = elapsed
	r.lastErr = err
	r.cycles++
	if err != nil {
		r.failures++
	}
}

// Status returns the runner's current state and cycle statistics.
func (r *Runner) Status() Status {
	s := Status{
		Name:     r.cfg.Name,
		State:    r.State().String(),
		Interval: r.cfg.Interval.String(),
	}

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s.LastRun = r.lastRun
	s.Cycles = r.cycles
	s.Failures = r.failures
	if r.lastDuration > 0 {
		s.LastDuration = r.lastDuration.String()
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}
