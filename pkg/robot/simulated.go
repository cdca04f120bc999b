package robot

import (
	"math"
	"time"

	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/mechanism"
	"github.com/axolotls/axobotl/pkg/sim"
)

// Simulated robot geometry.
const (
	SimWindTurns      = 1.0 // winder travel from released to loaded
	SimBasketTopTurns = 5.5
	SimIntakeRPS      = 4.0
	SimBallSpacing    = 3.0 // intake turns between balls
)

// Rangefinder readings in millimeters.
const (
	simNear = 30
	simFar  = 300
)

// Sim is a simulated robot laid out like a Config: mirrored motors are
// mounted mirrored, the basket hits its bumpers, the loaded sensor follows
// the winder and balls pass the entry and top sensors as the intake turns.
type Sim struct {
	World        *sim.World
	Motors       map[MotorName]*sim.Motor
	Gyro         *sim.Gyro
	Rangefinders map[string]*sim.Rangefinder
	Bumpers      map[string]*sim.Bumper
	Claw         *sim.Cylinder

	cfg *Config
}

// NewSim builds a simulated robot for cfg.
func NewSim(cfg *Config) *Sim {
	w := sim.NewWorld()
	s := &Sim{
		World:        w,
		Motors:       make(map[MotorName]*sim.Motor),
		Rangefinders: make(map[string]*sim.Rangefinder),
		Bumpers:      make(map[string]*sim.Bumper),
		Claw:         sim.NewCylinder(),
		cfg:          cfg,
	}
	for _, name := range AllMotors() {
		if _, ok := cfg.Motors[name]; ok {
			s.Motors[name] = w.NewMotor(string(name))
		}
	}
	for _, name := range []MotorName{IntakeLeft, IntakeRight, BasketLeft, BasketRight} {
		if m, ok := s.Motors[name]; ok {
			m.SetMaxRPS(SimIntakeRPS)
		}
	}

	s.Gyro = w.NewGyro(s.Motors[DriveLeft], s.Motors[DriveRight])
	s.Gyro.Mirror(cfg.Motors[DriveLeft].Reversed, cfg.Motors[DriveRight].Reversed)

	for name := range cfg.Bumpers {
		s.Bumpers[name] = sim.NewBumper()
	}
	for name := range cfg.Detectors {
		s.Rangefinders[name] = sim.NewRangefinder(simFar)
	}

	s.wireLoaded()
	s.wireIntake()
	w.OnStep(func(time.Time, time.Duration) { s.basketLimits() })
	return s
}

// Devices returns the simulated device set.
func (s *Sim) Devices() Devices {
	d := Devices{
		Motors:   make(map[MotorName]device.Motor, len(s.Motors)),
		Heading:  s.Gyro,
		Distance: make(map[string]device.DistanceSensor, len(s.Rangefinders)),
		Bumpers:  make(map[string]device.DigitalInput, len(s.Bumpers)),
		Claw:     s.Claw,
		Clock:    s.World,
	}
	for name, m := range s.Motors {
		d.Motors[name] = m
	}
	for name, rf := range s.Rangefinders {
		d.Distance[name] = rf
	}
	for name, b := range s.Bumpers {
		d.Bumpers[name] = b
	}
	return d
}

// mounted returns a motor's position as the robot sees it.
func (s *Sim) mounted(name MotorName) float64 {
	m, ok := s.Motors[name]
	if !ok {
		return 0
	}
	p := m.Position(device.Turns)
	if s.cfg.Motors[name].Reversed {
		return -p
	}
	return p
}

func (s *Sim) wireLoaded() {
	rf, ok := s.Rangefinders[mechanism.DetectorLoaded]
	if !ok {
		return
	}
	cycle := SimWindTurns + s.cfg.Mechanism.FireTurns
	rf.Follow(func() float64 {
		p := math.Mod(s.mounted(Winder), cycle)
		if p < 0 {
			p += cycle
		}
		if p >= SimWindTurns {
			return simNear
		}
		return simFar
	})
}

func (s *Sim) wireIntake() {
	conveyor := func() float64 {
		return math.Mod(math.Abs(s.mounted(IntakeLeft)), SimBallSpacing)
	}
	if rf, ok := s.Rangefinders[mechanism.DetectorEntry]; ok {
		rf.Follow(func() float64 {
			if p := conveyor(); p >= 1 && p < 1.3 {
				return simNear
			}
			return simFar
		})
	}
	if rf, ok := s.Rangefinders[mechanism.DetectorTop]; ok {
		rf.Follow(func() float64 {
			if p := conveyor(); p >= 2 && p < 2.2 {
				return simNear
			}
			return simFar
		})
	}
}

func (s *Sim) basketLimits() {
	p := s.mounted(BasketLeft)
	press := func(name string, pressed bool) {
		b, ok := s.Bumpers[name]
		if !ok {
			return
		}
		if pressed {
			b.Press()
		} else {
			b.Release()
		}
	}
	press(BasketUpBumper, p >= SimBasketTopTurns)
	press(BasketDownBumper, p <= 0)
}
