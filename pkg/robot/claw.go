package robot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/axolotls/axobotl/pkg/device"
)

// AllJaws addresses every calibrated claw servo at once.
const AllJaws = 0

var ErrUnknownServo = errors.New("robot: unknown claw servo")

// servoGroup is the part of feetech.ServoGroup the claw drives.
type servoGroup interface {
	EnableAll(ctx context.Context) error
	DisableAll(ctx context.Context) error
	SetPositions(ctx context.Context, positions feetech.PositionMap) error
}

// Claw is the ball grabber: feetech STS servos that close to their
// calibrated maximum and open to their minimum. It implements
// device.BinaryActuator, with servo IDs as cylinder IDs.
type Claw struct {
	bus         *feetech.Bus
	group       servoGroup
	calibration ServoCalibrations
	timeout     time.Duration
}

// OpenBus opens an STS servo bus on port.
func OpenBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

// NewClaw opens the servo bus.
func NewClaw(cfg ClawConfig) (*Claw, error) {
	if !cfg.IsCalibrated() {
		return nil, fmt.Errorf("claw on %s is not calibrated, run setup first", cfg.Port)
	}
	bus, err := OpenBus(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	group := feetech.NewServoGroupByIDs(bus, cfg.Calibration.IDs()...)
	return newClaw(bus, group, cfg), nil
}

func newClaw(bus *feetech.Bus, group servoGroup, cfg ClawConfig) *Claw {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Claw{
		bus:         bus,
		group:       group,
		calibration: cfg.Calibration,
		timeout:     timeout,
	}
}

// Close closes the bus connection.
func (c *Claw) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

// PowerOn enables torque on all claw servos.
func (c *Claw) PowerOn() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.group.EnableAll(ctx)
}

// PowerOff disables torque so the jaws can be moved by hand.
func (c *Claw) PowerOff() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.group.DisableAll(ctx)
}

// Extend closes servo id, or every jaw for AllJaws.
func (c *Claw) Extend(id int) error {
	return c.write(id, 100)
}

// Retract opens servo id, or every jaw for AllJaws.
func (c *Claw) Retract(id int) error {
	return c.write(id, -100)
}

func (c *Claw) write(id int, norm float64) error {
	positions := make(feetech.PositionMap, len(c.calibration))
	if id == AllJaws {
		for _, sc := range c.calibration {
			positions[sc.ID] = sc.Denormalize(norm)
		}
	} else {
		_, sc, ok := c.calibration.ByID(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownServo, id)
		}
		positions[sc.ID] = sc.Denormalize(norm)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.group.SetPositions(ctx, positions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

var _ device.BinaryActuator = (*Claw)(nil)
