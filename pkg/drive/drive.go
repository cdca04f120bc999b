// Package drive implements the closed-loop motion primitives of a two-wheel
// differential drivetrain: straight drives holding a heading, point turns to
// an absolute heading, open-loop pivots, acceleration-limited curves and
// open-loop arcs.
//
// Every primitive blocks until it finishes, polls once per tick on an
// injected clock and, on every exit path, leaves both wheels commanded to
// zero with an explicit stop. Outcomes are reported as errors: nil means the
// target was reached.
package drive

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/heading"
	"github.com/axolotls/axobotl/pkg/sched"
	"github.com/axolotls/axobotl/pkg/telemetry"
)

var (
	ErrTimeout       = errors.New("drive: timed out")
	ErrStuck         = errors.New("drive: no progress")
	ErrCancelled     = errors.New("drive: cancelled")
	ErrBusy          = errors.New("drive: drivetrain busy")
	ErrInvalidTarget = errors.New("drive: invalid target")
)

// State of the drivetrain.
type State int

const (
	Idle State = iota
	Driving
	Turning
)

func (s State) String() string {
	switch s {
	case Driving:
		return "driving"
	case Turning:
		return "turning"
	default:
		return "idle"
	}
}

// Outcome is the terminal condition of a primitive.
type Outcome int

const (
	None Outcome = iota
	TargetReached
	TimedOut
	Stuck
	Cancelled
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case TargetReached:
		return "target_reached"
	case TimedOut:
		return "timed_out"
	case Stuck:
		return "stuck"
	case Cancelled:
		return "cancelled"
	case Aborted:
		return "aborted"
	default:
		return "none"
	}
}

// OutcomeOf classifies an error returned by a primitive.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return TargetReached
	case errors.Is(err, ErrTimeout):
		return TimedOut
	case errors.Is(err, ErrStuck):
		return Stuck
	case errors.Is(err, ErrCancelled):
		return Cancelled
	default:
		return Aborted
	}
}

// Drivetrain is the hardware a Controller owns.
type Drivetrain struct {
	Left, Right device.Motor
	Heading     *heading.Source
	Clock       sched.Clock
	// Cancel is polled once per tick. A consumed raise ends the primitive
	// with ErrCancelled. Optional.
	Cancel *sched.Flag
	// Sink receives one sample per tick. Optional.
	Sink   telemetry.Sink
	Logger *slog.Logger
}

// Controller runs motion primitives. Only one primitive runs at a time.
type Controller struct {
	left, right device.Motor
	heading     *heading.Source
	clock       sched.Clock
	cancel      *sched.Flag
	sink        telemetry.Sink
	logger      *slog.Logger
	geom        Geometry
	tune        Tuning

	busy sync.Mutex

	mu    sync.RWMutex
	state State
	last  Outcome
}

// New creates a motion controller.
func New(cfg Config, dt Drivetrain) *Controller {
	sink := dt.Sink
	if sink == nil {
		sink = telemetry.Discard
	}
	clock := dt.Clock
	if clock == nil {
		clock = sched.System()
	}
	return &Controller{
		left:    dt.Left,
		right:   dt.Right,
		heading: dt.Heading,
		clock:   clock,
		cancel:  dt.Cancel,
		sink:    sink,
		logger:  log.Or(dt.Logger).With("component", "drive"),
		geom:    cfg.Geometry,
		tune:    cfg.Tuning.withDefaults(),
	}
}

// Setup zeroes the wheel commands and gives both motors full torque.
func (c *Controller) Setup() {
	for _, m := range []device.Motor{c.left, c.right} {
		m.SetVelocity(0)
		m.SetMaxTorque(100)
	}
}

// State returns the current drivetrain state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastOutcome returns the terminal condition of the previous primitive.
func (c *Controller) LastOutcome() Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Geometry returns the drivetrain geometry.
func (c *Controller) Geometry() Geometry { return c.geom }

// Tuning returns the effective control constants.
func (c *Controller) Tuning() Tuning { return c.tune }

// Stop commands zero velocity and stops both wheels with mode.
func (c *Controller) Stop(mode device.BrakeMode) {
	c.left.SetVelocity(0)
	c.right.SetVelocity(0)
	c.left.Stop(mode)
	c.right.Stop(mode)
}

// run executes one primitive: it takes exclusive ownership of the wheels,
// records the state and outcome, and always stops with mode on return.
func (c *Controller) run(ctx context.Context, op string, st State, mode device.BrakeMode, loop func(ctx context.Context) error) (err error) {
	if !c.busy.TryLock() {
		return ErrBusy
	}
	defer c.busy.Unlock()

	c.setState(st)
	start := c.clock.Now()
	defer func() {
		c.Stop(mode)
		outcome := OutcomeOf(err)
		c.mu.Lock()
		c.state = Idle
		c.last = outcome
		c.mu.Unlock()

		elapsed := c.clock.Now().Sub(start)
		switch outcome {
		case TargetReached:
			c.logger.Info(op+" done", "elapsed", elapsed, "heading", c.heading.Heading())
		case TimedOut, Stuck:
			c.logger.Warn(op+" ended early", "outcome", outcome, "elapsed", elapsed, "heading", c.heading.Heading())
		default:
			c.logger.Info(op+" ended", "outcome", outcome, "error", err)
		}
	}()

	return loop(ctx)
}

func (c *Controller) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// check is evaluated at the top of every tick.
func (c *Controller) check(ctx context.Context, deadline sched.Deadline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cancel.Consume() {
		return ErrCancelled
	}
	if deadline.Expired() {
		return ErrTimeout
	}
	return nil
}

// command applies signed velocities to each wheel independently.
func (c *Controller) command(left, right float64) {
	apply(c.left, left)
	apply(c.right, right)
}

func apply(m device.Motor, v float64) {
	m.SetVelocity(math.Abs(v))
	if v < 0 {
		m.Spin(device.Reverse)
	} else {
		m.Spin(device.Forward)
	}
}

// traveled returns the mean wheel rotation since the given start positions.
func (c *Controller) traveled(l0, r0 float64) float64 {
	l := c.left.Position(device.Turns) - l0
	r := c.right.Position(device.Turns) - r0
	return (l + r) / 2
}

func (c *Controller) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return c.tune.DefaultTimeout
	}
	return d
}

func (c *Controller) record(op string, tick int, errDeg, left, right, remaining float64) {
	c.sink.Record(telemetry.Sample{
		Op:        op,
		Tick:      tick,
		Time:      c.clock.Now(),
		Heading:   c.heading.Heading(),
		Error:     errDeg,
		Left:      left,
		Right:     right,
		Remaining: remaining,
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampMag limits |v| to limit and to 100 percent.
func clampMag(v, limit float64) float64 {
	limit = math.Min(limit, 100)
	return clamp(v, -limit, limit)
}

// approach moves current toward target by at most step.
func approach(current, target, step float64) float64 {
	if target > current {
		return math.Min(current+step, target)
	}
	return math.Max(current-step, target)
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func validVelocity(v float64) bool {
	return v != 0 && math.Abs(v) <= 100 && !math.IsNaN(v)
}

func validHeading(h float64) bool {
	return h >= 0 && h < 360
}
