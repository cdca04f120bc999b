// Package heading adapts an inertial sensor for control math.
//
// Sensors report heading in [0, 360). Control loops work in yaw, the same
// angle remapped to (-180, 180] so errors are symmetric around zero.
package heading

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/sched"
)

// Calibration polling parameters: 60 polls of 50ms bound the wait to 3s.
const (
	CalibrationPoll    = 50 * time.Millisecond
	CalibrationTimeout = 3 * time.Second
)

var (
	ErrCalibrationTimeout   = errors.New("heading: calibration did not finish in time")
	ErrCalibrationCancelled = errors.New("heading: calibration cancelled")
)

// Normalize maps any angle to [0, 360).
func Normalize(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// RemapToYaw maps a heading to (-180, 180]. Inputs outside [0, 360) are
// normalized first.
func RemapToYaw(h float64) float64 {
	h = Normalize(h)
	if h > 180 {
		return h - 360
	}
	return h
}

// FromYaw is the inverse of RemapToYaw.
func FromYaw(yaw float64) float64 {
	return Normalize(yaw)
}

// Diff returns the signed shortest rotation from b to a, in (-180, 180].
func Diff(a, b float64) float64 {
	return RemapToYaw(a - b)
}

// ValidYaw reports whether y lies in (-180, 180].
func ValidYaw(y float64) bool {
	return y > -180 && y <= 180 && !math.IsNaN(y)
}

// Source wraps a HeadingSensor.
type Source struct {
	sensor     device.HeadingSensor
	clock      sched.Clock
	logger     *slog.Logger
	calibrated atomic.Bool
}

// NewSource creates a heading source. A nil logger uses the global one.
func NewSource(sensor device.HeadingSensor, clock sched.Clock, logger *slog.Logger) *Source {
	return &Source{
		sensor: sensor,
		clock:  clock,
		logger: log.Or(logger).With("component", "heading"),
	}
}

// Heading returns the current heading in [0, 360).
func (s *Source) Heading() float64 {
	return Normalize(s.sensor.Heading())
}

// Yaw returns the current heading remapped to (-180, 180].
func (s *Source) Yaw() float64 {
	return RemapToYaw(s.sensor.Heading())
}

// Calibrating reports whether the sensor is calibrating.
func (s *Source) Calibrating() bool {
	return s.sensor.IsCalibrating()
}

// Calibrated reports whether the last calibration succeeded.
func (s *Source) Calibrated() bool {
	return s.calibrated.Load()
}

// Calibrate starts sensor calibration and waits for it to finish.
// The wait is bounded by CalibrationTimeout and can be cancelled through
// the flag. There is no automatic retry.
func (s *Source) Calibrate(ctx context.Context, cancel *sched.Flag) error {
	s.calibrated.Store(false)
	s.logger.Info("calibrating")
	s.sensor.Calibrate()

	countdown := int(CalibrationTimeout / CalibrationPoll)
	for s.sensor.IsCalibrating() && countdown > 0 {
		if cancel.Consume() {
			s.logger.Warn("calibration cancelled")
			return ErrCalibrationCancelled
		}
		if err := s.clock.Sleep(ctx, CalibrationPoll); err != nil {
			return err
		}
		countdown--
	}

	if s.sensor.IsCalibrating() {
		s.logger.Error("calibration failed", "timeout", CalibrationTimeout)
		return ErrCalibrationTimeout
	}

	s.calibrated.Store(true)
	s.logger.Info("calibrated", "heading", s.Heading())
	return nil
}
