package burstbuffer

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"k8s.io/utils/clock"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
)

// Staging state of jobs that are neither admitted nor forgotten is dropped after this long.
const stagingExpiry = 24 * time.Hour

// Tracker tracks staging of job data into burst buffers.
// Staging for a job starts the first time the job is considered for admission, and the job may not start
// until staging has run for the configured stage-in time.
type Tracker struct {
	stageInTime time.Duration
	clock       clock.PassiveClock
	// Time at which staging started, by job id.
	stagingStartedAt *cache.Cache
}

func NewTracker(stageInTime time.Duration, clock clock.PassiveClock) *Tracker {
	return &Tracker{
		stageInTime:      stageInTime,
		clock:            clock,
		stagingStartedAt: cache.New(stagingExpiry, time.Hour),
	}
}

// Veto returns a non-empty reason if job uses a burst buffer that isn't ready yet.
func (t *Tracker) Veto(job *jobdb.Job) (string, bool) {
	if job.BurstBuffer == "" {
		return "", false
	}
	now := t.clock.Now()
	startedAt := now
	if err := t.stagingStartedAt.Add(job.Id, now, cache.DefaultExpiration); err != nil {
		// Staging is already under way.
		if v, ok := t.stagingStartedAt.Get(job.Id); ok {
			startedAt = v.(time.Time)
		}
	}
	if ready := startedAt.Add(t.stageInTime); now.Before(ready) {
		return fmt.Sprintf("staging into burst buffer %s until %s", job.BurstBuffer, ready.Format(time.RFC3339)), true
	}
	return "", false
}

// Forget drops staging state for the given job, e.g., once it has been admitted or cancelled.
func (t *Tracker) Forget(jobId string) {
	t.stagingStartedAt.Delete(jobId)
}

func (t *Tracker) NumStaging() int {
	return t.stagingStartedAt.ItemCount()
}
