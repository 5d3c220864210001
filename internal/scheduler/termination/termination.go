package termination

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Controller carries a one-way stop request to a background loop and lets that loop sleep between iterations
// in a way that is cut short as soon as stop is requested.
type Controller struct {
	clock clock.Clock
	once  sync.Once
	stop  chan struct{}
}

func New(clock clock.Clock) *Controller {
	return &Controller{
		clock: clock,
		stop:  make(chan struct{}),
	}
}

// NewFromContext returns a controller on which stop is requested once ctx is cancelled.
func NewFromContext(ctx context.Context, clock clock.Clock) *Controller {
	c := New(clock)
	go func() {
		select {
		case <-ctx.Done():
			c.RequestStop()
		case <-c.stop:
		}
	}()
	return c
}

// RequestStop asks the loop to stop and wakes it if it's sleeping.
// Safe to call from any goroutine, any number of times, including before the loop has started.
func (c *Controller) RequestStop() {
	c.once.Do(func() {
		close(c.stop)
	})
}

func (c *Controller) Stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Done returns a channel that's closed once stop has been requested.
func (c *Controller) Done() <-chan struct{} {
	return c.stop
}

// SleepUntilNextTick blocks until interval has passed on the controller's clock or stop is requested,
// whichever happens first, and returns true if stop was requested.
func (c *Controller) SleepUntilNextTick(interval time.Duration) bool {
	if c.Stopped() {
		return true
	}
	timer := c.clock.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-c.stop:
		return true
	case <-timer.C():
		return c.Stopped()
	}
}
