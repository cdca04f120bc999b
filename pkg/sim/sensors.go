package sim

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/axolotls/axobotl/pkg/device"
)

// DefaultTurnGain is the simulated heading rate, in degrees per second, per
// percent of wheel command differential.
const DefaultTurnGain = 1.0

// Gyro is a simulated heading sensor coupled to a pair of drive motors.
// Heading advances clockwise by TurnGain × (left − right) degrees per second.
type Gyro struct {
	left, right *Motor

	mu          sync.Mutex
	gain        float64
	leftSign    float64
	rightSign   float64
	heading     float64
	drift       float64 // degrees per second
	frozen      bool
	calibrating bool
	calibDur    time.Duration
	calibEnds   time.Time
	now         time.Time
}

// NewGyro adds a heading sensor driven by left and right.
func (w *World) NewGyro(left, right *Motor) *Gyro {
	g := &Gyro{
		left:      left,
		right:     right,
		gain:      DefaultTurnGain,
		leftSign:  1,
		rightSign: 1,
		calibDur:  time.Second,
		now:       w.Now(),
	}
	w.addGyro(g)
	return g
}

// SetGain sets the turn gain.
func (g *Gyro) SetGain(k float64) {
	g.mu.Lock()
	g.gain = k
	g.mu.Unlock()
}

// Mirror marks a drive motor as mounted backwards, so a negative shaft
// command moves its wheel forward.
func (g *Gyro) Mirror(left, right bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leftSign, g.rightSign = 1, 1
	if left {
		g.leftSign = -1
	}
	if right {
		g.rightSign = -1
	}
}

// SetHeading places the robot at an absolute heading.
func (g *Gyro) SetHeading(h float64) {
	g.mu.Lock()
	g.heading = normalize(h)
	g.mu.Unlock()
}

// SetDrift adds a constant heading drift in degrees per second.
func (g *Gyro) SetDrift(degPerSec float64) {
	g.mu.Lock()
	g.drift = degPerSec
	g.mu.Unlock()
}

// Freeze stops the reported heading from changing.
func (g *Gyro) Freeze(frozen bool) {
	g.mu.Lock()
	g.frozen = frozen
	g.mu.Unlock()
}

// SetCalibrationTime sets how long Calibrate takes. A negative value makes
// calibration never finish.
func (g *Gyro) SetCalibrationTime(d time.Duration) {
	g.mu.Lock()
	g.calibDur = d
	g.mu.Unlock()
}

// Heading returns degrees in [0, 360).
func (g *Gyro) Heading() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heading
}

// Calibrate starts calibration. The heading resets to zero.
func (g *Gyro) Calibrate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calibrating = true
	g.heading = 0
	if g.calibDur >= 0 {
		g.calibEnds = g.now.Add(g.calibDur)
	} else {
		g.calibEnds = time.Time{}
	}
}

// IsCalibrating reports whether calibration is in progress.
func (g *Gyro) IsCalibrating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calibrating
}

func (g *Gyro) integrate(now time.Time, secs float64) {
	var l, r float64
	if g.left != nil && g.right != nil {
		l, r = g.left.Command(), g.right.Command()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	diff := g.leftSign*l - g.rightSign*r
	g.now = now
	if g.calibrating {
		if !g.calibEnds.IsZero() && !now.Before(g.calibEnds) {
			g.calibrating = false
		}
		return
	}
	if g.frozen {
		return
	}
	g.heading = normalize(g.heading + (g.gain*diff+g.drift)*secs)
}

func normalize(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// Rangefinder is a simulated distance sensor.
type Rangefinder struct {
	mu        sync.Mutex
	distance  float64 // millimeters
	script    []float64
	fn        func() float64
	installed bool
	reads     int
}

// NewRangefinder returns an installed sensor reading distanceMM.
func NewRangefinder(distanceMM float64) *Rangefinder {
	return &Rangefinder{distance: distanceMM, installed: true}
}

// SetDistance sets a constant reading.
func (r *Rangefinder) SetDistance(mm float64) {
	r.mu.Lock()
	r.distance, r.script, r.fn = mm, nil, nil
	r.mu.Unlock()
}

// Script makes successive reads return readings in order, then hold the last.
func (r *Rangefinder) Script(readings ...float64) {
	r.mu.Lock()
	r.script, r.fn = append([]float64(nil), readings...), nil
	r.mu.Unlock()
}

// Follow computes every reading from fn.
func (r *Rangefinder) Follow(fn func() float64) {
	r.mu.Lock()
	r.fn, r.script = fn, nil
	r.mu.Unlock()
}

// SetInstalled plugs or unplugs the sensor.
func (r *Rangefinder) SetInstalled(ok bool) {
	r.mu.Lock()
	r.installed = ok
	r.mu.Unlock()
}

// Distance returns the reading in unit.
func (r *Rangefinder) Distance(unit device.DistanceUnit) float64 {
	r.mu.Lock()
	r.reads++
	fn := r.fn
	if len(r.script) > 0 {
		r.distance = r.script[0]
		if len(r.script) > 1 {
			r.script = r.script[1:]
		}
	}
	d := r.distance
	r.mu.Unlock()

	if fn != nil {
		d = fn()
	}
	return unit.FromMillimeters(d)
}

// IsInstalled reports whether the sensor is plugged in.
func (r *Rangefinder) IsInstalled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed
}

// Reads returns how many times Distance was called.
func (r *Rangefinder) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// ErrNotPowered is returned when a cylinder is actuated without power.
var ErrNotPowered = errors.New("sim: actuator not powered")

// Cylinder is a simulated pneumatic pump with numbered cylinders.
type Cylinder struct {
	mu       sync.Mutex
	powered  bool
	extended map[int]bool
	actions  []string
}

// NewCylinder returns an unpowered cylinder set, all retracted.
func NewCylinder() *Cylinder {
	return &Cylinder{extended: make(map[int]bool)}
}

func (c *Cylinder) PowerOn() error {
	c.mu.Lock()
	c.powered = true
	c.actions = append(c.actions, "power_on")
	c.mu.Unlock()
	return nil
}

func (c *Cylinder) PowerOff() error {
	c.mu.Lock()
	c.powered = false
	c.actions = append(c.actions, "power_off")
	c.mu.Unlock()
	return nil
}

func (c *Cylinder) Extend(id int) error {
	return c.set(id, true, "extend")
}

func (c *Cylinder) Retract(id int) error {
	return c.set(id, false, "retract")
}

func (c *Cylinder) set(id int, extended bool, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.powered {
		return ErrNotPowered
	}
	c.extended[id] = extended
	c.actions = append(c.actions, action)
	return nil
}

// Extended reports whether cylinder id is extended.
func (c *Cylinder) Extended(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extended[id]
}

// Actions returns the action log.
func (c *Cylinder) Actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.actions...)
}

// Bumper is a simulated digital input.
type Bumper struct {
	mu       sync.Mutex
	pressing bool
	pressed  []func()
	released []func()
}

func NewBumper() *Bumper { return &Bumper{} }

func (b *Bumper) OnPressed(fn func()) {
	b.mu.Lock()
	b.pressed = append(b.pressed, fn)
	b.mu.Unlock()
}

func (b *Bumper) OnReleased(fn func()) {
	b.mu.Lock()
	b.released = append(b.released, fn)
	b.mu.Unlock()
}

func (b *Bumper) Pressing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pressing
}

// Press presses the bumper and runs the pressed callbacks.
func (b *Bumper) Press() {
	b.mu.Lock()
	if b.pressing {
		b.mu.Unlock()
		return
	}
	b.pressing = true
	fns := append([]func(){}, b.pressed...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Release releases the bumper and runs the released callbacks.
func (b *Bumper) Release() {
	b.mu.Lock()
	if !b.pressing {
		b.mu.Unlock()
		return
	}
	b.pressing = false
	fns := append([]func(){}, b.released...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

var (
	_ device.HeadingSensor  = (*Gyro)(nil)
	_ device.DistanceSensor = (*Rangefinder)(nil)
	_ device.BinaryActuator = (*Cylinder)(nil)
	_ device.DigitalInput   = (*Bumper)(nil)
)
