package robot

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServoName identifies a servo on the claw bus.
type ServoName string

// Claw servos: one jaw each side.
const (
	ClawLeft  ServoName = "claw_left"
	ClawRight ServoName = "claw_right"
)

// AllServos returns all servo names in order (matching servo IDs 1-2).
func AllServos() []ServoName {
	return []ServoName{ClawLeft, ClawRight}
}

// ServoCalibration holds the recorded travel of a single servo.
type ServoCalibration struct {
	ID       int  `json:"id"`
	Inverted bool `json:"inverted,omitempty"`
	RangeMin int  `json:"range_min"`
	RangeMax int  `json:"range_max"`
}

// ServoCalibrations holds calibration data for all servos, keyed by name.
type ServoCalibrations map[ServoName]ServoCalibration

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (ServoCalibrations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var raw map[string]ServoCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(ServoCalibrations, len(raw))
	for name, sc := range raw {
		cal[ServoName(name)] = sc
	}
	return cal, nil
}

// Normalize converts a raw servo position to a value in [-100, 100].
// An inverted servo reports -100 at RangeMax.
func (c ServoCalibration) Normalize(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	norm := (float64(raw-c.RangeMin)/rangeSize)*200 - 100
	if c.Inverted {
		return -norm
	}
	return norm
}

// Denormalize converts a value in [-100, 100] to a raw servo position.
// Values outside the range are clamped to it.
func (c ServoCalibration) Denormalize(norm float64) int {
	if norm > 100 {
		norm = 100
	} else if norm < -100 {
		norm = -100
	}
	if c.Inverted {
		norm = -norm
	}
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*rangeSize) + c.RangeMin
}

// Span returns the recorded travel in raw steps.
func (c ServoCalibration) Span() int {
	return c.RangeMax - c.RangeMin
}

// IDs returns the servo IDs in AllServos order.
func (c ServoCalibrations) IDs() []int {
	ids := make([]int, 0, len(c))
	for _, name := range AllServos() {
		if sc, ok := c[name]; ok {
			ids = append(ids, sc.ID)
		}
	}
	return ids
}

// ByID returns the servo name and calibration for a servo ID.
func (c ServoCalibrations) ByID(id int) (ServoName, ServoCalibration, bool) {
	for name, sc := range c {
		if sc.ID == id {
			return name, sc, true
		}
	}
	return "", ServoCalibration{}, false
}

// Validate checks that every servo has a distinct ID and a usable range.
func (c ServoCalibrations) Validate() error {
	seen := make(map[int]ServoName, len(c))
	for name, sc := range c {
		if other, dup := seen[sc.ID]; dup {
			return fmt.Errorf("servos %s and %s share ID %d", other, name, sc.ID)
		}
		seen[sc.ID] = name
		if sc.RangeMax <= sc.RangeMin {
			return fmt.Errorf("servo %s: range %d..%d is empty", name, sc.RangeMin, sc.RangeMax)
		}
	}
	return nil
}
