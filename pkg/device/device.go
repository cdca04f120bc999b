// Package device defines the hardware capabilities the controller consumes.
//
// The drivetrain takes two Motors and a HeadingSensor; an edge detector
// takes one DistanceSensor. Implementations live in pkg/sim (simulation)
// and pkg/robot (feetech servo claw).
package device

import (
	"context"
	"errors"
	"time"
)

// ErrMotorTimeout is returned by SpinFor when the motor timeout elapses
// before the commanded rotation completes.
var ErrMotorTimeout = errors.New("motor: timeout before rotation completed")

// Motor is a velocity-commandable actuator with an encoder.
// Velocities are signed percent of the device maximum.
type Motor interface {
	SetVelocity(percent float64)
	SetMaxTorque(percent float64)
	Spin(dir Direction)
	// SpinFor rotates by amount at velocity. With wait it blocks until the
	// rotation completes, the motor timeout elapses or ctx is done.
	SpinFor(ctx context.Context, dir Direction, amount float64, unit RotationUnit, velocity float64, wait bool) error
	Stop(mode BrakeMode)
	Position(unit RotationUnit) float64
	ResetPosition()
	SetTimeout(d time.Duration)
}

// HeadingSensor is an inertial sensor reporting absolute heading.
type HeadingSensor interface {
	// Heading returns degrees in [0, 360).
	Heading() float64
	// Calibrate starts calibration and returns immediately.
	Calibrate()
	IsCalibrating() bool
}

// DistanceSensor is a proximity sensor.
type DistanceSensor interface {
	Distance(unit DistanceUnit) float64
	IsInstalled() bool
}

// BinaryActuator is a pneumatic cylinder or equivalent two-position device.
type BinaryActuator interface {
	Extend(id int) error
	Retract(id int) error
	PowerOn() error
	PowerOff() error
}

// DigitalInput is a bumper or button.
type DigitalInput interface {
	OnPressed(fn func())
	OnReleased(fn func())
	Pressing() bool
}
