package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/clusterlock"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/metrics"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/termination"
)

var ErrAgentAlreadyRunning = errors.New("scheduling agent is already running")

// SchedulingGrant is the access a scheduling pass runs under. Admission changes jobs and node capacity;
// everything else is only read.
var SchedulingGrant = clusterlock.Spec{
	clusterlock.Config:       clusterlock.Read,
	clusterlock.Jobs:         clusterlock.Write,
	clusterlock.Nodes:        clusterlock.Write,
	clusterlock.Partitions:   clusterlock.Read,
	clusterlock.Reservations: clusterlock.Read,
}

// Agent runs scheduling passes on a fixed interval until stopped.
//
// The agent polls: it wakes every interval and, if at least an interval has passed since the previous pass finished,
// runs a pass under the scheduling grant. The first pass runs no earlier than an interval after the agent starts.
// Stop requests cut a sleep short, but never interrupt lock acquisition or a pass that has begun.
type Agent struct {
	pass        Pass
	locks       *clusterlock.Manager
	termination *termination.Controller
	interval    time.Duration
	metrics     *metrics.Metrics
	clock       clock.PassiveClock
	running     atomic.Bool
	// Time at which the most recent pass finished, or the time the agent started if no pass has run.
	// Only accessed from the goroutine calling Run.
	lastSchedTime time.Time
}

func NewAgent(
	pass Pass,
	locks *clusterlock.Manager,
	termination *termination.Controller,
	interval time.Duration,
	metrics *metrics.Metrics,
	clock clock.PassiveClock,
) *Agent {
	return &Agent{
		pass:        pass,
		locks:       locks,
		termination: termination,
		interval:    interval,
		metrics:     metrics,
		clock:       clock,
	}
}

// Run blocks until stop is requested on the agent's termination controller or ctx is cancelled.
// Returns ErrAgentAlreadyRunning, without running any pass, if the agent is already running.
func (a *Agent) Run(ctx *armadacontext.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAgentAlreadyRunning
	}
	defer a.running.Store(false)

	go func() {
		select {
		case <-ctx.Done():
			a.termination.RequestStop()
		case <-a.termination.Done():
		}
	}()

	a.lastSchedTime = a.clock.Now()
	ctx.Log.Infof("scheduling agent started with interval %s", a.interval)
	for !a.termination.Stopped() {
		if stopped := a.termination.SleepUntilNextTick(a.interval); stopped {
			break
		}
		a.runOnce(ctx)
	}
	ctx.Log.Info("scheduling agent stopped")
	return nil
}

// runOnce runs a pass unless the previous one finished less than an interval ago. Returns true if a pass ran.
func (a *Agent) runOnce(ctx *armadacontext.Context) bool {
	if elapsed := a.clock.Now().Sub(a.lastSchedTime); elapsed < a.interval {
		ctx.Log.Debugf("skipping pass; previous pass finished %s ago", elapsed)
		if a.metrics != nil {
			a.metrics.ReportGuardSkip()
		}
		return false
	}

	err := a.locks.WithGrant(SchedulingGrant, func(grant *clusterlock.Grant) error {
		_, err := a.pass.Run(ctx, grant)
		return err
	})
	// Aborted passes also reset the timer; the next attempt waits a full interval.
	a.lastSchedTime = a.clock.Now()
	if err != nil {
		ctx.Log.WithError(err).Warn("scheduling pass did not complete; will retry after the next interval")
	}
	return true
}
