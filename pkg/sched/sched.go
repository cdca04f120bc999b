// Package sched provides the time and cancellation primitives shared by the
// control loops: a Clock that loops sleep on, a Deadline computed once at
// call entry, and a cancellation Flag polled once per tick.
//
// Loops never call time.Sleep directly. The simulator's Clock advances
// physics only when a loop sleeps on it.
package sched

import (
	"context"
	"time"
)

// Clock is the time source and suspension point of a control loop.
type Clock interface {
	Now() time.Time
	// Sleep suspends for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deadline is a wall-clock limit fixed when it is created.
type Deadline struct {
	clock Clock
	at    time.Time
	set   bool
}

// NewDeadline returns a deadline timeout from now. A timeout <= 0 never expires.
func NewDeadline(clock Clock, timeout time.Duration) Deadline {
	if timeout <= 0 {
		return Deadline{clock: clock}
	}
	return Deadline{clock: clock, at: clock.Now().Add(timeout), set: true}
}

// Expired reports whether the deadline has passed.
func (d Deadline) Expired() bool {
	return d.set && !d.clock.Now().Before(d.at)
}

// Remaining returns the time left, or a negative value once expired.
// It returns 0 for a deadline that never expires.
func (d Deadline) Remaining() time.Duration {
	if !d.set {
		return 0
	}
	return d.at.Sub(d.clock.Now())
}
