// Package sim provides simulated devices for tests and dry runs.
//
// A World owns every simulated device and implements sched.Clock. In lock
// step mode (the default) sleeping advances simulated time and physics
// immediately, so a control loop under test runs as fast as the CPU allows
// and is fully deterministic. In real-time mode a background goroutine
// advances physics against the wall clock and Sleep waits for it, which lets
// several tasks (control loop, sensor poller) share one timeline.
package sim

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultStep is the physics integration step.
const DefaultStep = 5 * time.Millisecond

// Epoch is the simulated start time.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// World is a simulated robot environment.
type World struct {
	mu       sync.Mutex
	now      time.Time
	step     time.Duration
	realtime bool
	tickCh   chan struct{} // closed and replaced on every real-time advance

	motors []*Motor
	gyros  []*Gyro
	hooks  []func(now time.Time, dt time.Duration)
}

// NewWorld creates a lock-step world.
func NewWorld() *World {
	return &World{
		now:    Epoch,
		step:   DefaultStep,
		tickCh: make(chan struct{}),
	}
}

// Now returns the simulated time.
func (w *World) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

// Elapsed returns simulated time since Epoch.
func (w *World) Elapsed() time.Duration {
	return w.Now().Sub(Epoch)
}

// OnStep registers a hook called after every physics step.
func (w *World) OnStep(fn func(now time.Time, dt time.Duration)) {
	w.mu.Lock()
	w.hooks = append(w.hooks, fn)
	w.mu.Unlock()
}

// Sleep advances the world by d (lock step) or waits until the real-time
// driver has advanced it by d.
func (w *World) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	realtime := w.realtime
	w.mu.Unlock()

	if !realtime {
		w.Advance(d)
		return ctx.Err()
	}

	until := w.Now().Add(d)
	for {
		w.mu.Lock()
		if !w.now.Before(until) {
			w.mu.Unlock()
			return nil
		}
		ch := w.tickCh
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Advance integrates physics for d in fixed steps.
func (w *World) Advance(d time.Duration) {
	for d > 0 {
		dt := w.step
		if d < dt {
			dt = d
		}
		w.advanceStep(dt)
		d -= dt
	}
}

func (w *World) advanceStep(dt time.Duration) {
	w.mu.Lock()
	w.now = w.now.Add(dt)
	now := w.now
	motors := slices.Clone(w.motors)
	gyros := slices.Clone(w.gyros)
	hooks := slices.Clone(w.hooks)
	ch := w.tickCh
	w.tickCh = make(chan struct{})
	w.mu.Unlock()

	secs := dt.Seconds()
	// Gyros read the commands that were in effect during this step, so they
	// integrate before motors can stop at a SpinFor target.
	for _, g := range gyros {
		g.integrate(now, secs)
	}
	for _, m := range motors {
		m.integrate(secs)
	}
	for _, fn := range hooks {
		fn(now, dt)
	}
	close(ch)
}

// StartRealtime switches the world to real time and advances it against the
// wall clock, speed times faster than real, until ctx is done. The switch
// happens before StartRealtime returns.
func (w *World) StartRealtime(ctx context.Context, speed float64) {
	if speed <= 0 {
		speed = 1
	}
	w.mu.Lock()
	w.realtime = true
	step := w.step
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(float64(step) / speed))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.mu.Lock()
				w.realtime = false
				w.mu.Unlock()
				return
			case <-ticker.C:
				w.advanceStep(step)
			}
		}
	}()
}

func (w *World) addMotor(m *Motor) {
	w.mu.Lock()
	w.motors = append(w.motors, m)
	w.mu.Unlock()
}

func (w *World) addGyro(g *Gyro) {
	w.mu.Lock()
	w.gyros = append(w.gyros, g)
	w.mu.Unlock()
}
