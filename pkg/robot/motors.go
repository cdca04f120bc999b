// Package robot assembles the axobotl robot: configuration, the device set a
// backend supplies and the Bot that owns every component.
package robot

import (
	"context"

	"github.com/axolotls/axobotl/pkg/device"
)

// MotorName identifies a motor on the robot.
type MotorName string

// Motor names of the competition robot.
const (
	DriveLeft   MotorName = "drive_left"
	DriveRight  MotorName = "drive_right"
	IntakeLeft  MotorName = "intake_left"
	IntakeRight MotorName = "intake_right"
	BasketLeft  MotorName = "basket_left"
	BasketRight MotorName = "basket_right"
	Winder      MotorName = "winder"
)

// AllMotors returns all motor names in port-mapping order.
func AllMotors() []MotorName {
	return []MotorName{
		DriveLeft,
		DriveRight,
		IntakeLeft,
		IntakeRight,
		BasketLeft,
		BasketRight,
		Winder,
	}
}

// Reverse returns m with its direction flipped: Forward spins the shaft
// backwards and positions are negated. Use it for motors mounted mirrored.
func Reverse(m device.Motor) device.Motor {
	if r, ok := m.(reversed); ok {
		return r.Motor
	}
	return reversed{m}
}

type reversed struct {
	device.Motor
}

func (r reversed) Spin(dir device.Direction) {
	r.Motor.Spin(dir.Opposite())
}

func (r reversed) SpinFor(ctx context.Context, dir device.Direction, amount float64, unit device.RotationUnit, velocity float64, wait bool) error {
	return r.Motor.SpinFor(ctx, dir.Opposite(), amount, unit, velocity, wait)
}

func (r reversed) Position(unit device.RotationUnit) float64 {
	return -r.Motor.Position(unit)
}
