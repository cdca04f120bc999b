package drive

import (
	"fmt"
	"math"
	"time"
)

// Geometry describes the drivetrain.
type Geometry struct {
	WheelDiameterMM   float64 `json:"wheel_diameter_mm"`
	TrackWidthMM      float64 `json:"track_width_mm"`
	WheelBaseMM       float64 `json:"wheel_base_mm"`
	ExternalGearRatio float64 `json:"external_gear_ratio"` // motor turns per wheel turn
	// Turn90Turns is the motor rotation for an open-loop 90 degree pivot.
	// Zero derives it from the track width.
	Turn90Turns float64 `json:"turn90_turns,omitempty"`
}

// DefaultGeometry matches a 200mm-travel wheel on a 200mm track.
func DefaultGeometry() Geometry {
	return Geometry{
		WheelDiameterMM:   200 / math.Pi,
		TrackWidthMM:      200.025,
		WheelBaseMM:       165.1,
		ExternalGearRatio: 1,
	}
}

// TravelMM returns the distance covered by one wheel revolution.
func (g Geometry) TravelMM() float64 {
	return math.Pi * g.WheelDiameterMM
}

// TurnsFor converts a travel distance to motor revolutions.
func (g Geometry) TurnsFor(distanceMM float64) float64 {
	return distanceMM / g.TravelMM() * g.ExternalGearRatio
}

// PivotTurns returns the motor rotation for a 90 degree pivot.
func (g Geometry) PivotTurns() float64 {
	if g.Turn90Turns > 0 {
		return g.Turn90Turns
	}
	// Each wheel travels a quarter of the circle whose diameter is the track.
	return g.TurnsFor(math.Pi * g.TrackWidthMM / 4)
}

// Validate checks the geometry is usable.
func (g Geometry) Validate() error {
	if g.WheelDiameterMM <= 0 {
		return fmt.Errorf("wheel diameter must be positive, got %v", g.WheelDiameterMM)
	}
	if g.ExternalGearRatio <= 0 {
		return fmt.Errorf("external gear ratio must be positive, got %v", g.ExternalGearRatio)
	}
	if g.Turn90Turns == 0 && g.TrackWidthMM <= 0 {
		return fmt.Errorf("track width must be positive, got %v", g.TrackWidthMM)
	}
	return nil
}

// Tuning holds the control-loop constants.
type Tuning struct {
	Tick           time.Duration `json:"tick"`
	DefaultTimeout time.Duration `json:"default_timeout"`

	HeadingDeadband float64 `json:"heading_deadband"` // degrees
	HeadingGain     float64 `json:"heading_gain"`     // percent per degree
	TaperTurns      float64 `json:"taper_turns"`
	StraightFloor   float64 `json:"straight_floor"` // percent; motors stall below this

	TurnTolerance    float64 `json:"turn_tolerance"` // degrees
	TurnTaperDegrees float64 `json:"turn_taper_degrees"`
	TurnFloor        float64 `json:"turn_floor"` // percent

	ArcBand       float64       `json:"arc_band"` // degrees
	ArcPoll       time.Duration `json:"arc_poll"`
	ArcStuckPolls int           `json:"arc_stuck_polls"`

	CurveTimeout time.Duration `json:"curve_timeout"`
}

// DefaultTuning returns the tuned constants of the competition robot.
func DefaultTuning() Tuning {
	return Tuning{
		Tick:             10 * time.Millisecond,
		DefaultTimeout:   100 * time.Second,
		HeadingDeadband:  0.1,
		HeadingGain:      2,
		TaperTurns:       0.75,
		StraightFloor:    20,
		TurnTolerance:    0.1,
		TurnTaperDegrees: 30,
		TurnFloor:        8,
		ArcBand:          5,
		ArcPoll:          100 * time.Millisecond,
		ArcStuckPolls:    5,
		CurveTimeout:     10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTuning.
func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	if t.DefaultTimeout <= 0 {
		t.DefaultTimeout = d.DefaultTimeout
	}
	if t.HeadingDeadband <= 0 {
		t.HeadingDeadband = d.HeadingDeadband
	}
	if t.HeadingGain <= 0 {
		t.HeadingGain = d.HeadingGain
	}
	if t.TaperTurns <= 0 {
		t.TaperTurns = d.TaperTurns
	}
	if t.StraightFloor <= 0 {
		t.StraightFloor = d.StraightFloor
	}
	if t.TurnTolerance <= 0 {
		t.TurnTolerance = d.TurnTolerance
	}
	if t.TurnTaperDegrees <= 0 {
		t.TurnTaperDegrees = d.TurnTaperDegrees
	}
	if t.TurnFloor <= 0 {
		t.TurnFloor = d.TurnFloor
	}
	if t.ArcBand <= 0 {
		t.ArcBand = d.ArcBand
	}
	if t.ArcPoll <= 0 {
		t.ArcPoll = d.ArcPoll
	}
	if t.ArcStuckPolls <= 0 {
		t.ArcStuckPolls = d.ArcStuckPolls
	}
	if t.CurveTimeout <= 0 {
		t.CurveTimeout = d.CurveTimeout
	}
	return t
}

// Config configures a Controller.
type Config struct {
	Geometry Geometry `json:"geometry"`
	Tuning   Tuning   `json:"tuning"`
}

// DefaultConfig returns DefaultGeometry and DefaultTuning.
func DefaultConfig() Config {
	return Config{Geometry: DefaultGeometry(), Tuning: DefaultTuning()}
}
