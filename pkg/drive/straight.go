package drive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/heading"
	"github.com/axolotls/axobotl/pkg/sched"
)

// HeadingHold selects the yaw a straight drive holds.
// The zero value holds whatever yaw the drive starts at.
type HeadingHold struct {
	yaw float64
	set bool
}

// HoldYaw holds an explicit yaw in (-180, 180].
func HoldYaw(yaw float64) HeadingHold {
	return HeadingHold{yaw: yaw, set: true}
}

// HoldCurrent holds the yaw captured at the start of the drive.
func HoldCurrent() HeadingHold { return HeadingHold{} }

// Get returns the explicit yaw, if any.
func (h HeadingHold) Get() (float64, bool) { return h.yaw, h.set }

// DriveTarget is a straight drive request.
type DriveTarget struct {
	Distance float64
	Unit     device.DistanceUnit
	// Velocity is signed percent; negative drives in reverse.
	Velocity float64
	// Timeout <= 0 uses the tuning default.
	Timeout time.Duration
	Hold    HeadingHold
}

// GoStraight drives both wheels until the mean wheel rotation covers the
// distance, holding a yaw with a proportional correction. Inside the taper
// window the speed falls linearly with the remaining rotation but never
// below the stall floor.
func (c *Controller) GoStraight(ctx context.Context, t DriveTarget) error {
	if t.Distance < 0 || math.IsNaN(t.Distance) {
		return fmt.Errorf("%w: distance %v", ErrInvalidTarget, t.Distance)
	}
	if !validVelocity(t.Velocity) {
		return fmt.Errorf("%w: velocity %v", ErrInvalidTarget, t.Velocity)
	}
	if yaw, ok := t.Hold.Get(); ok && !heading.ValidYaw(yaw) {
		return fmt.Errorf("%w: required yaw %v outside (-180, 180]", ErrInvalidTarget, yaw)
	}

	return c.run(ctx, "straight", Driving, device.Brake, func(ctx context.Context) error {
		return c.straight(ctx, t)
	})
}

func (c *Controller) straight(ctx context.Context, t DriveTarget) error {
	deadline := sched.NewDeadline(c.clock, c.timeout(t.Timeout))
	needed := c.geom.TurnsFor(t.Unit.ToMillimeters(t.Distance))
	l0 := c.left.Position(device.Turns)
	r0 := c.right.Position(device.Turns)

	baseline, ok := t.Hold.Get()
	if !ok {
		baseline = c.heading.Yaw()
	}

	v := math.Abs(t.Velocity)
	dir := signOf(t.Velocity)
	maxCorrection := v / 4 // both wheels together never deviate by more than v/2
	floor := math.Min(c.tune.StraightFloor, v)

	c.logger.Debug("straight", "distance", t.Distance, "turns", needed, "velocity", t.Velocity, "yaw", baseline)

	for tick := 0; ; tick++ {
		if err := c.check(ctx, deadline); err != nil {
			return err
		}

		d := heading.Diff(c.heading.Yaw(), baseline)
		var correction float64
		if math.Abs(d) > c.tune.HeadingDeadband {
			correction = clamp(c.tune.HeadingGain*d, -maxCorrection, maxCorrection)
		}

		remaining := needed - math.Abs(c.traveled(l0, r0))
		if remaining <= 0 {
			c.command(0, 0)
			c.record("straight", tick, d, 0, 0, remaining)
			return nil
		}

		speed := v
		if remaining < c.tune.TaperTurns {
			speed = math.Max(v*remaining/c.tune.TaperTurns, floor)
		}

		// Drifted clockwise (d > 0): slow the left wheel, speed up the right.
		// Neither wheel drops below the stall floor while distance remains.
		base := dir * speed
		left := dir * math.Max(math.Abs(clampMag(base-correction, v)), floor)
		right := dir * math.Max(math.Abs(clampMag(base+correction, v)), floor)
		c.command(left, right)
		c.record("straight", tick, d, left, right, remaining)

		if err := c.clock.Sleep(ctx, c.tune.Tick); err != nil {
			return err
		}
	}
}
