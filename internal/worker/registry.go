package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownWorker is returned by Get for unregistered names.
var ErrUnknownWorker = errors.New("unknown worker")

// Builder constructs a runner on first use.
type Builder func() (*Runner, error)

type registration struct {
	builder Builder
	enabled bool
}

// Registry maps worker names to lazily built runners. Each runner is built at
// most once.
type Registry struct {
	log zerolog.Logger

	mu      sync.Mutex
	entries map[string]registration
	runners map[string]*Runner
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:     log.With().Str("component", "worker_registry").Logger(),
		entries: make(map[string]registration),
		runners: make(map[string]*Runner),
	}
}

// Register adds a worker. enabled workers are started by StartEnabled.
// Re-registering a name that was already built keeps the built runner.
func (r *Registry) Register(name string, enabled bool, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{builder: builder, enabled: enabled}
}

// Get returns the runner for name, building it on first call.
func (r *Registry) Get(name string) (*Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(name)
}

func (r *Registry) getLocked(name string) (*Runner, error) {
	if runner, ok := r.runners[name]; ok {
		return runner, nil
	}
	reg, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}

	runner, err := reg.builder()
	if err != nil {
		return nil, fmt.Errorf("failed to build worker %s: %w", name, err)
	}
	r.runners[name] = runner
	return runner, nil
}

// Names returns registered worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled reports whether name is flagged to start automatically.
func (r *Registry) Enabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[name].enabled
}

// StartEnabled starts every enabled worker. Failures are logged and joined;
// one bad worker doesn't keep the rest from starting.
func (r *Registry) StartEnabled() error {
	var errs []error
	for _, name := range r.Names() {
		if !r.Enabled(name) {
			r.log.Info().Str("worker", name).Msg("Worker disabled, not starting")
			continue
		}
		runner, err := r.Get(name)
		if err == nil {
			err = runner.Start()
		}
		if err != nil {
			r.log.Error().Err(err).Str("worker", name).Msg("Failed to start worker")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every built runner concurrently, each bounded by timeout.
func (r *Registry) StopAll(timeout time.Duration) {
	r.mu.Lock()
	runners := make([]*Runner, 0, len(r.runners))
	for _, runner := range r.runners {
		runners = append(runners, runner)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, runner := range runners {
		wg.Add(1)
		go func(runner *Runner) {
			defer wg.Done()
			runner.Stop(timeout)
		}(runner)
	}
	wg.Wait()
}

// Snapshot returns the status of every registered worker, sorted by name.
// Workers never built report not_started.
func (r *Registry) Snapshot() []Status {
	names := r.Names()
	out := make([]Status, 0, len(names))

	for _, name := range names {
		r.mu.Lock()
		runner, built := r.runners[name]
		enabled := r.entries[name].enabled
		r.mu.Unlock()

		var s Status
		if built {
			s = runner.Status()
		} else {
			s = Status{Name: name, State: StateNotStarted.String()}
		}
		s.Enabled = enabled
		out = append(out, s)
	}
	return out
}
