package di

import (
	"fmt"

	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/clientdata"
	"github.com/aristath/marketcore/internal/scheduler"
	"github.com/rs/zerolog"
)

// Maintenance job schedules (cron with seconds).
const (
	CacheSweepSchedule        = "0 */5 * * * *"  // every 5 minutes
	ClientDataCleanupSchedule = "0 30 * * * *"   // hourly, on the half hour
	WALCheckpointSchedule     = "0 */15 * * * *" // every 15 minutes
)

// RegisterJobs registers the maintenance jobs on a new scheduler. The
// scheduler is not started.
func RegisterJobs(container *Container, log zerolog.Logger) error {
	sched := scheduler.New(log)

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{CacheSweepSchedule, cache.NewSweepJob(container.Caches, log)},
		{ClientDataCleanupSchedule, clientdata.NewCleanupJob(container.ClientData, log)},
		{WALCheckpointSchedule, scheduler.NewWALCheckpointJob(log, container.CoreDB, container.ClientDataDB)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", j.job.Name(), err)
		}
	}

	container.Scheduler = sched
	return nil
}
