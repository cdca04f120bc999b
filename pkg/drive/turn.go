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

// TurnTarget is a point turn to an absolute heading.
type TurnTarget struct {
	Heading  float64 // degrees in [0, 360)
	Velocity float64 // percent; only the magnitude is used
	Timeout  time.Duration
}

// GoTurn rotates in place to an absolute heading. The turn direction
// follows the shortest signed error, the speed tapers over the final
// degrees above a stall floor, and the turn ends with a holding stop so the
// heading is kept against disturbance.
func (c *Controller) GoTurn(ctx context.Context, t TurnTarget) error {
	if !validHeading(t.Heading) {
		return fmt.Errorf("%w: heading %v outside [0, 360)", ErrInvalidTarget, t.Heading)
	}
	if !validVelocity(t.Velocity) {
		return fmt.Errorf("%w: velocity %v", ErrInvalidTarget, t.Velocity)
	}
	return c.run(ctx, "turn", Turning, device.Hold, func(ctx context.Context) error {
		return c.turn(ctx, t)
	})
}

// TurnBy turns by delta degrees relative to the current heading;
// positive is clockwise.
func (c *Controller) TurnBy(ctx context.Context, delta, velocity float64, timeout time.Duration) error {
	return c.GoTurn(ctx, TurnTarget{
		Heading:  heading.Normalize(c.heading.Heading() + delta),
		Velocity: velocity,
		Timeout:  timeout,
	})
}

func (c *Controller) turn(ctx context.Context, t TurnTarget) error {
	deadline := sched.NewDeadline(c.clock, c.timeout(t.Timeout))
	target := heading.RemapToYaw(t.Heading)
	v := math.Abs(t.Velocity)
	floor := math.Min(c.tune.TurnFloor, v)

	c.logger.Debug("turn", "target", t.Heading, "from", c.heading.Heading(), "velocity", v)

	for tick := 0; ; tick++ {
		if err := c.check(ctx, deadline); err != nil {
			return err
		}

		e := heading.Diff(target, c.heading.Yaw())
		if math.Abs(e) < c.tune.TurnTolerance {
			c.command(0, 0)
			c.record("turn", tick, e, 0, 0, e)
			return nil
		}

		speed := v
		if math.Abs(e) < c.tune.TurnTaperDegrees {
			speed = math.Max(v*math.Abs(e)/c.tune.TurnTaperDegrees, floor)
		}

		// Positive error is clockwise: left forward, right back.
		s := signOf(e) * speed
		c.command(s, -s)
		c.record("turn", tick, e, s, -s, e)

		if err := c.clock.Sleep(ctx, c.tune.Tick); err != nil {
			return err
		}
	}
}

// GoTurn90 pivots roughly 90 degrees by dead reckoning: both wheels rotate
// a fixed amount in opposite directions. A positive velocity turns
// clockwise. The pivot ends with a brake.
func (c *Controller) GoTurn90(ctx context.Context, velocity float64, timeout time.Duration) error {
	if !validVelocity(velocity) {
		return fmt.Errorf("%w: velocity %v", ErrInvalidTarget, velocity)
	}
	return c.run(ctx, "turn90", Turning, device.Brake, func(ctx context.Context) error {
		deadline := sched.NewDeadline(c.clock, c.timeout(timeout))
		amount := c.geom.PivotTurns()
		l0 := c.left.Position(device.Turns)
		r0 := c.right.Position(device.Turns)

		for tick := 0; ; tick++ {
			if err := c.check(ctx, deadline); err != nil {
				return err
			}

			dl := math.Abs(c.left.Position(device.Turns) - l0)
			dr := math.Abs(c.right.Position(device.Turns) - r0)
			if dl >= amount && dr >= amount {
				c.command(0, 0)
				c.record("turn90", tick, 0, 0, 0, 0)
				return nil
			}

			// Each wheel stops on its own once it has covered the amount.
			var left, right float64
			if dl < amount {
				left = velocity
			}
			if dr < amount {
				right = -velocity
			}
			c.command(left, right)
			c.record("turn90", tick, 0, left, right, amount-math.Min(dl, dr))

			if err := c.clock.Sleep(ctx, c.tune.Tick); err != nil {
				return err
			}
		}
	})
}
