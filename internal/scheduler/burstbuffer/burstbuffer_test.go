package burstbuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clock "k8s.io/utils/clock/testing"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
)

var baseTime = time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_Veto(t *testing.T) {
	testClock := clock.NewFakeClock(baseTime)
	tracker := NewTracker(time.Minute, testClock)
	job := &jobdb.Job{Id: "a", BurstBuffer: "scratch"}

	reason, vetoed := tracker.Veto(job)
	assert.True(t, vetoed)
	assert.Contains(t, reason, "scratch")

	testClock.Step(59 * time.Second)
	_, vetoed = tracker.Veto(job)
	assert.True(t, vetoed)

	testClock.Step(time.Second)
	_, vetoed = tracker.Veto(job)
	assert.False(t, vetoed)

	tracker.Forget("a")
	assert.Equal(t, 0, tracker.NumStaging())

	// Forgetting a job restarts staging.
	_, vetoed = tracker.Veto(job)
	assert.True(t, vetoed)
}

func TestTracker_NoBurstBuffer(t *testing.T) {
	tracker := NewTracker(time.Minute, clock.NewFakeClock(baseTime))
	reason, vetoed := tracker.Veto(&jobdb.Job{Id: "a"})
	assert.False(t, vetoed)
	assert.Empty(t, reason)
	assert.Equal(t, 0, tracker.NumStaging())
}

func TestTracker_ZeroStageInTime(t *testing.T) {
	tracker := NewTracker(0, clock.NewFakeClock(baseTime))
	_, vetoed := tracker.Veto(&jobdb.Job{Id: "a", BurstBuffer: "scratch"})
	assert.False(t, vetoed)
}
