// Package routine describes autonomous runs as data. A Routine is an
// ordered list of steps decoded from YAML; a Runner executes it on a
// robot.Bot.
package routine

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/axolotls/axobotl/pkg/heading"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidStep    = errors.New("routine: invalid step")
	ErrUnknownRoutine = errors.New("routine: unknown routine")
	ErrInvalidRoutine = errors.New("routine: invalid routine")
)

// Op names a step action.
type Op string

const (
	OpStraight    Op = "straight"
	OpTurn        Op = "turn"
	OpTurnBy      Op = "turn_by"
	OpTurn90      Op = "turn90"
	OpCurve       Op = "curve"
	OpArc         Op = "arc"
	OpWait        Op = "wait"
	OpIntakeStart Op = "intake_start"
	OpIntakeStop  Op = "intake_stop"
	OpWind        Op = "wind"
	OpRelease     Op = "release"
	OpHug         Op = "hug"
	OpUnhug       Op = "unhug"
	OpBasketRaise Op = "basket_raise"
	OpBasketLower Op = "basket_lower"
	OpDump        Op = "dump"
	OpCalibrate   Op = "calibrate"
	OpStopAll     Op = "stop_all"
	OpCheckpoint  Op = "checkpoint"
)

// Ops lists every step action.
func Ops() []Op {
	return []Op{
		OpStraight, OpTurn, OpTurnBy, OpTurn90, OpCurve, OpArc, OpWait,
		OpIntakeStart, OpIntakeStop, OpWind, OpRelease, OpHug, OpUnhug,
		OpBasketRaise, OpBasketLower, OpDump, OpCalibrate, OpStopAll, OpCheckpoint,
	}
}

// Curve defaults for steps that leave the limits unset.
const (
	DefaultCurveAcceleration        = 50.0 // percent per second
	DefaultCurveHeadingRate         = 30.0 // percent
	DefaultCurveHeadingAcceleration = 100.0
	DefaultCurveTolerance           = 1.0 // degrees
	DefaultCurveGain                = 2.0
)

// DefaultTurnVelocity is used by turn steps without a velocity.
const DefaultTurnVelocity = 50.0

// TimeoutPolicy says what a drive step timing out or stalling does to the run.
type TimeoutPolicy string

const (
	// Abort stops the run. It is the default.
	Abort TimeoutPolicy = "abort"
	// Continue ends the step where the robot is and moves on.
	Continue TimeoutPolicy = "continue"
)

// Step is one routine action. Which fields apply depends on Op.
type Step struct {
	Op   Op     `yaml:"op"`
	Note string `yaml:"note,omitempty"`

	// straight
	MM     float64  `yaml:"mm,omitempty"`
	Inches float64  `yaml:"in,omitempty"`
	Hold   *float64 `yaml:"hold,omitempty"` // yaw to hold

	// Velocity is signed percent. A negative straight velocity reverses;
	// a negative turn90 velocity pivots counterclockwise.
	Velocity float64 `yaml:"velocity,omitempty"`

	// turn, curve, arc
	Heading float64 `yaml:"heading,omitempty"`
	// turn_by: positive is clockwise
	Degrees float64 `yaml:"degrees,omitempty"`

	// arc
	Left  float64 `yaml:"left,omitempty"`
	Right float64 `yaml:"right,omitempty"`

	// curve
	Revolutions         float64 `yaml:"revolutions,omitempty"`
	Acceleration        float64 `yaml:"acceleration,omitempty"`
	HeadingRate         float64 `yaml:"heading_rate,omitempty"`
	HeadingAcceleration float64 `yaml:"heading_acceleration,omitempty"`
	Tolerance           float64 `yaml:"tolerance,omitempty"`
	Gain                float64 `yaml:"gain,omitempty"`

	// basket_raise, basket_lower: zero turns runs to the bumper
	Turns float64 `yaml:"turns,omitempty"`
	Wait  *bool   `yaml:"wait,omitempty"`

	// release
	Rewind *bool `yaml:"rewind,omitempty"`

	// wait
	For time.Duration `yaml:"for,omitempty"`

	Timeout   time.Duration `yaml:"timeout,omitempty"`
	OnTimeout TimeoutPolicy `yaml:"on_timeout,omitempty"`
	Optional  bool          `yaml:"optional,omitempty"`
}

func (s Step) String() string {
	if s.Note != "" {
		return fmt.Sprintf("%s (%s)", s.Op, s.Note)
	}
	return string(s.Op)
}

// Validate checks the step's parameters.
func (s Step) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidStep, s.Op, fmt.Sprintf(format, args...))
	}
	percent := func(name string, v float64) error {
		if v < -100 || v > 100 {
			return bad("%s %v outside [-100, 100]", name, v)
		}
		return nil
	}
	validHeading := func(h float64) error {
		if h < 0 || h >= 360 {
			return bad("heading %v outside [0, 360)", h)
		}
		return nil
	}
	if s.Timeout < 0 {
		return bad("negative timeout")
	}
	switch s.OnTimeout {
	case "", Abort, Continue:
	default:
		return bad("on_timeout %q is neither abort nor continue", s.OnTimeout)
	}

	switch s.Op {
	case OpStraight:
		if s.MM != 0 && s.Inches != 0 {
			return bad("both mm and in given")
		}
		if s.MM < 0 || s.Inches < 0 {
			return bad("negative distance, use a negative velocity to reverse")
		}
		if s.MM == 0 && s.Inches == 0 {
			return bad("no distance")
		}
		if s.Velocity == 0 {
			return bad("no velocity")
		}
		if s.Hold != nil && !heading.ValidYaw(*s.Hold) {
			return bad("hold %v outside (-180, 180]", *s.Hold)
		}
		return percent("velocity", s.Velocity)
	case OpTurn:
		if err := validHeading(s.Heading); err != nil {
			return err
		}
		return percent("velocity", s.Velocity)
	case OpTurnBy:
		return percent("velocity", s.Velocity)
	case OpTurn90:
		if s.Velocity == 0 {
			return bad("no velocity")
		}
		return percent("velocity", s.Velocity)
	case OpCurve:
		if err := validHeading(s.Heading); err != nil {
			return err
		}
		if s.Revolutions < 0 {
			return bad("negative revolutions")
		}
		return percent("velocity", s.Velocity)
	case OpArc:
		if err := validHeading(s.Heading); err != nil {
			return err
		}
		if err := percent("left", s.Left); err != nil {
			return err
		}
		return percent("right", s.Right)
	case OpWait:
		if s.For <= 0 {
			return bad("no duration")
		}
	case OpBasketRaise, OpBasketLower:
		if s.Turns < 0 {
			return bad("negative turns")
		}
	case OpIntakeStart, OpIntakeStop, OpWind, OpRelease, OpHug, OpUnhug,
		OpDump, OpCalibrate, OpStopAll, OpCheckpoint:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidStep, s.Op)
	}
	return nil
}

// Routine is a named list of steps.
type Routine struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Validate checks the routine and every step.
func (r *Routine) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: no name", ErrInvalidRoutine)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidRoutine, r.Name)
	}
	var errs []error
	for i, s := range r.Steps {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes and validates a YAML routine.
func Parse(data []byte) (*Routine, error) {
	var r Routine
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoutine, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads a routine file.
func Load(path string) (*Routine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

//go:embed routines/*.yaml
var builtin embed.FS

// Builtins returns the embedded routines sorted by name.
func Builtins() ([]*Routine, error) {
	files, err := fs.Glob(builtin, "routines/*.yaml")
	if err != nil {
		return nil, err
	}
	var out []*Routine
	for _, f := range files {
		data, err := builtin.ReadFile(f)
		if err != nil {
			return nil, err
		}
		r, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(f), err)
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Routine) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Names returns the names of the embedded routines.
func Names() []string {
	rs, err := Builtins()
	if err != nil {
		return nil
	}
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

// Lookup resolves a built-in routine name or a path to a YAML file.
func Lookup(nameOrPath string) (*Routine, error) {
	ext := filepath.Ext(nameOrPath)
	if ext == ".yaml" || ext == ".yml" {
		return Load(nameOrPath)
	}
	rs, err := Builtins()
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		if r.Name == nameOrPath {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRoutine, nameOrPath)
}
