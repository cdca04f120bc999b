package mechanism

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/sched"
)

// Basket move limits. A move without an explicit turn count runs until a
// limit bumper stops it or the move timeout expires.
const (
	FullTravelDegrees = 9000
	BasketMoveTimeout = 2 * time.Second
	BasketIdleTimeout = 60 * time.Second
	BasketVelocity    = 100
	DumpRaiseTurns    = 5
	DumpLowerTurns    = 6
	DumpSettle        = time.Second
)

// Basket is the scoring lift: a motor pair with a limit bumper at each end.
type Basket struct {
	motors   []device.Motor
	up, down device.DigitalInput
	intake   *Coordinator
	clock    sched.Clock
	logger   *slog.Logger
}

// BasketParts are the basket's devices. Intake, when set, is stopped before
// the basket rises.
type BasketParts struct {
	Motors   []device.Motor
	Up, Down device.DigitalInput
	Intake   *Coordinator
	Clock    sched.Clock
	Logger   *slog.Logger
}

// NewBasket creates the lift and arms its limit bumpers: either press coasts
// the motors.
func NewBasket(p BasketParts) *Basket {
	clock := p.Clock
	if clock == nil {
		clock = sched.System()
	}
	b := &Basket{
		motors: p.Motors,
		up:     p.Up,
		down:   p.Down,
		intake: p.Intake,
		clock:  clock,
		logger: log.Or(p.Logger).With("component", "basket"),
	}
	for _, bumper := range []device.DigitalInput{p.Up, p.Down} {
		if bumper != nil {
			bumper.OnPressed(func() { b.Stop(device.Coast) })
		}
	}
	return b
}

// Stop stops both lift motors.
func (b *Basket) Stop(mode device.BrakeMode) {
	for _, m := range b.motors {
		m.Stop(mode)
	}
}

// Raise lifts the basket by turns, or to the top bumper when turns is 0, and
// holds it there. The intake stops first. Nothing moves if the basket is
// already at the top.
func (b *Basket) Raise(ctx context.Context, turns float64) error {
	if b.intake != nil {
		b.intake.StopIntake()
	}
	if pressing(b.up) {
		b.logger.Debug("raise skipped, basket at top")
		return nil
	}
	if err := b.move(ctx, device.Forward, turns, true); err != nil {
		return err
	}
	b.setTimeout(BasketIdleTimeout)
	b.Stop(device.Hold)
	return nil
}

// Lower drops the basket by turns, or to the bottom bumper when turns is 0.
// Without wait the call returns as soon as the move starts and the bumper or
// move timeout ends it.
func (b *Basket) Lower(ctx context.Context, turns float64, wait bool) error {
	if pressing(b.down) {
		b.logger.Debug("lower skipped, basket at bottom")
		return nil
	}
	if err := b.move(ctx, device.Reverse, turns, wait); err != nil {
		return err
	}
	if wait {
		b.setTimeout(BasketIdleTimeout)
		b.Stop(device.Coast)
	}
	return nil
}

// Dump raises, lets the load slide out and starts lowering again without
// waiting for the bottom.
func (b *Basket) Dump(ctx context.Context) error {
	if err := b.Raise(ctx, DumpRaiseTurns); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if err := b.clock.Sleep(ctx, DumpSettle); err != nil {
		return err
	}
	if err := b.Lower(ctx, DumpLowerTurns, false); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return nil
}

func (b *Basket) move(ctx context.Context, dir device.Direction, turns float64, wait bool) error {
	if len(b.motors) == 0 {
		return nil
	}
	amount, unit := turns, device.Turns
	if turns == 0 {
		amount, unit = FullTravelDegrees, device.Degrees
	}
	b.setTimeout(BasketMoveTimeout)
	b.logger.Debug("basket move", "direction", dir, "amount", amount, "unit", unit, "wait", wait)

	// The group moves together: all but the last motor start without waiting.
	last := len(b.motors) - 1
	for i, m := range b.motors {
		err := m.SpinFor(ctx, dir, amount, unit, BasketVelocity, wait && i == last)
		switch {
		case err == nil:
		case errors.Is(err, device.ErrMotorTimeout):
			// A full-travel move with no bumper in reach ends here.
			b.logger.Warn("basket move timed out", "direction", dir)
		default:
			b.Stop(device.Brake)
			return fmt.Errorf("basket: %w", err)
		}
	}
	return nil
}

func (b *Basket) setTimeout(d time.Duration) {
	for _, m := range b.motors {
		m.SetTimeout(d)
	}
}

func pressing(in device.DigitalInput) bool {
	return in != nil && in.Pressing()
}
