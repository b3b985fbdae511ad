package cache

import "github.com/rs/zerolog"

// SweepJob actively evicts expired entries from every category cache.
type SweepJob struct {
	set *Set
	log zerolog.Logger
}

// NewSweepJob creates a sweep job for set.
func NewSweepJob(set *Set, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		set: set,
		log: log.With().Str("job", "cache_sweep").Logger(),
	}
}

// Run sweeps all caches.
func (j *SweepJob) Run() error {
	total := 0
	for category, removed := range j.set.Sweep() {
		if removed > 0 {
			j.log.Debug().
				Str("category", category).
				Int("removed", removed).
				Msg("Swept expired cache entries")
			total += removed
		}
	}
	if total > 0 {
		j.log.Info().Int("total_removed", total).Msg("Cache sweep completed")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *SweepJob) Name() string {
	return "cache_sweep"
}
