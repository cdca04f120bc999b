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

// CurveTarget is an acceleration-limited drive toward a heading.
type CurveTarget struct {
	Heading     float64 // degrees in [0, 360)
	Speed       float64 // signed percent
	Revolutions float64 // wheel revolutions to cover before decelerating

	MaxAcceleration        float64 // percent per second, forward channel
	MaxHeadingRate         float64 // percent, correction cap
	MaxHeadingAcceleration float64 // percent per second, correction channel
	Tolerance              float64 // degrees
	Gain                   float64 // percent per degree

	TickPeriod time.Duration // zero uses the tuning tick
	Timeout    time.Duration // zero uses the curve timeout
}

// GoCurve drives toward a heading while accumulating a revolution count.
// Both the forward speed and the heading correction are rate limited per
// tick to avoid wheel slip. The curve ends only when the speed has decayed
// to zero and the heading error is within tolerance.
func (c *Controller) GoCurve(ctx context.Context, t CurveTarget) error {
	switch {
	case !validHeading(t.Heading):
		return fmt.Errorf("%w: heading %v outside [0, 360)", ErrInvalidTarget, t.Heading)
	case math.Abs(t.Speed) > 100:
		return fmt.Errorf("%w: speed %v", ErrInvalidTarget, t.Speed)
	case t.Revolutions < 0:
		return fmt.Errorf("%w: revolutions %v", ErrInvalidTarget, t.Revolutions)
	case t.MaxAcceleration <= 0 || t.MaxHeadingAcceleration <= 0:
		return fmt.Errorf("%w: accelerations must be positive", ErrInvalidTarget)
	case t.MaxHeadingRate < 0 || t.Tolerance <= 0 || t.Gain < 0:
		return fmt.Errorf("%w: heading rate, tolerance and gain", ErrInvalidTarget)
	}
	if t.TickPeriod <= 0 {
		t.TickPeriod = c.tune.Tick
	}
	if t.Timeout <= 0 {
		t.Timeout = c.tune.CurveTimeout
	}

	return c.run(ctx, "curve", Driving, device.Brake, func(ctx context.Context) error {
		return c.curve(ctx, t)
	})
}

func (c *Controller) curve(ctx context.Context, t CurveTarget) error {
	deadline := sched.NewDeadline(c.clock, t.Timeout)
	target := heading.RemapToYaw(t.Heading)
	dt := t.TickPeriod.Seconds()
	speedStep := t.MaxAcceleration * dt
	corrStep := t.MaxHeadingAcceleration * dt
	l0 := c.left.Position(device.Turns)
	r0 := c.right.Position(device.Turns)

	var speed, correction float64
	for tick := 0; ; tick++ {
		if err := c.check(ctx, deadline); err != nil {
			return err
		}

		e := heading.Diff(target, c.heading.Yaw())
		want := clamp(t.Gain*e, -t.MaxHeadingRate, t.MaxHeadingRate)
		correction = approach(correction, want, corrStep)

		traveled := math.Abs(c.traveled(l0, r0))
		desired := t.Speed
		if traveled >= t.Revolutions {
			desired = 0
		}
		speed = approach(speed, desired, speedStep)
		remaining := math.Max(t.Revolutions-traveled, 0)

		if speed == 0 && desired == 0 && math.Abs(e) <= t.Tolerance {
			c.command(0, 0)
			c.record("curve", tick, e, 0, 0, remaining)
			return nil
		}

		left := device.ClampPercent(speed + correction)
		right := device.ClampPercent(speed - correction)
		c.command(left, right)
		c.record("curve", tick, e, left, right, remaining)

		if err := c.clock.Sleep(ctx, t.TickPeriod); err != nil {
			return err
		}
	}
}

// ArcTarget is an open-loop differential arc.
type ArcTarget struct {
	Heading       float64 // degrees in [0, 360)
	LeftVelocity  float64 // signed percent
	RightVelocity float64 // signed percent
	Timeout       time.Duration
}

// AutoArc commands fixed wheel velocities and polls the heading until it is
// inside the arc band of the target. A heading that stops changing for
// more than the stuck threshold of consecutive polls aborts with ErrStuck.
// The arc always ends with a brake.
func (c *Controller) AutoArc(ctx context.Context, t ArcTarget) error {
	if !validHeading(t.Heading) {
		return fmt.Errorf("%w: heading %v outside [0, 360)", ErrInvalidTarget, t.Heading)
	}
	if math.Abs(t.LeftVelocity) > 100 || math.Abs(t.RightVelocity) > 100 {
		return fmt.Errorf("%w: velocities %v/%v", ErrInvalidTarget, t.LeftVelocity, t.RightVelocity)
	}

	return c.run(ctx, "arc", Driving, device.Brake, func(ctx context.Context) error {
		deadline := sched.NewDeadline(c.clock, c.timeout(t.Timeout))
		c.command(t.LeftVelocity, t.RightVelocity)

		last := math.NaN()
		same := 0
		for tick := 0; ; tick++ {
			if err := c.check(ctx, deadline); err != nil {
				return err
			}

			h := c.heading.Heading()
			e := heading.Diff(t.Heading, h)
			c.record("arc", tick, e, t.LeftVelocity, t.RightVelocity, e)
			if math.Abs(e) < c.tune.ArcBand {
				return nil
			}

			if h == last {
				same++
			} else {
				same = 0
			}
			if same > c.tune.ArcStuckPolls {
				return fmt.Errorf("%w: heading held at %.1f for %d polls", ErrStuck, h, same)
			}
			last = h

			if err := c.clock.Sleep(ctx, c.tune.ArcPoll); err != nil {
				return err
			}
		}
	})
}
