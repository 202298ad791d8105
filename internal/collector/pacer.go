package collector

import (
	"context"
	"math/rand/v2"
	"time"
)

// Waiter paces remote reads against a single computer.
type Waiter interface {
	Wait(ctx context.Context) error
}

// NoDelay never waits.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) error {
	return ctx.Err()
}

// DelayWaiter sleeps for Throttle, varied by up to Jitter percent either way.
type DelayWaiter struct {
	Throttle time.Duration
	Jitter   int
}

// NewWaiter returns NoDelay when throttle is zero.
func NewWaiter(throttle time.Duration, jitter int) Waiter {
	if throttle <= 0 {
		return NoDelay{}
	}
	return &DelayWaiter{Throttle: throttle, Jitter: jitter}
}

// Delay returns the next pause length.
func (w *DelayWaiter) Delay() time.Duration {
	if w.Throttle <= 0 {
		return 0
	}
	if w.Jitter <= 0 {
		return w.Throttle
	}

	spread := int64(w.Throttle) * int64(w.Jitter) / 100
	if spread == 0 {
		return w.Throttle
	}
	return w.Throttle + time.Duration(rand.Int64N(2*spread+1)-spread)
}

// Wait blocks for Delay or until ctx ends.
func (w *DelayWaiter) Wait(ctx context.Context) error {
	d := w.Delay()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
