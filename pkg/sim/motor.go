package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/axolotls/axobotl/pkg/device"
)

// DefaultMaxRPS is the free speed of a simulated motor at 100 percent.
const DefaultMaxRPS = 2.0

// CommandKind identifies an entry in a Motor's command log.
type CommandKind string

const (
	CmdVelocity CommandKind = "velocity"
	CmdSpin     CommandKind = "spin"
	CmdSpinFor  CommandKind = "spin_for"
	CmdStop     CommandKind = "stop"
)

// Command is one recorded motor command.
type Command struct {
	Kind  CommandKind
	Value float64
	Mode  device.BrakeMode
	At    time.Time
}

// Motor is a simulated encoder motor. It implements device.Motor.
//
// Position integrates the commanded velocity: at 100 percent the motor turns
// MaxRPS revolutions per second. Stopping an already stopped motor with the
// same brake mode is a no-op and is not logged.
type Motor struct {
	name  string
	world *World

	mu        sync.Mutex
	maxRPS    float64
	velocity  float64 // configured velocity, percent
	command   float64 // effective signed command, percent
	dir       float64 // +1 forward, -1 reverse
	spinning  bool
	stopped   bool
	mode      device.BrakeMode
	position  float64 // turns
	torque    float64
	timeout   time.Duration
	target    float64
	hasTarget bool
	jammed    bool
	log       []Command
}

// NewMotor adds a motor to the world.
func (w *World) NewMotor(name string) *Motor {
	m := &Motor{
		name:    name,
		world:   w,
		maxRPS:  DefaultMaxRPS,
		stopped: true,
		dir:     1,
		torque:  100,
		timeout: 60 * time.Second,
	}
	w.addMotor(m)
	return m
}

// Name returns the motor name.
func (m *Motor) Name() string { return m.name }

// SetMaxRPS sets the free speed at 100 percent.
func (m *Motor) SetMaxRPS(rps float64) {
	m.mu.Lock()
	m.maxRPS = rps
	m.mu.Unlock()
}

// Jam makes the motor stop moving while still accepting commands.
func (m *Motor) Jam(jammed bool) {
	m.mu.Lock()
	m.jammed = jammed
	m.mu.Unlock()
}

func (m *Motor) record(c Command) {
	c.At = m.world.Now()
	m.log = append(m.log, c)
}

// SetVelocity sets the velocity; a spinning motor follows it immediately.
func (m *Motor) SetVelocity(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.velocity = device.ClampPercent(percent)
	m.record(Command{Kind: CmdVelocity, Value: m.velocity})
	if m.spinning && !m.hasTarget {
		m.command = m.velocity * m.dir
	}
}

// SetMaxTorque sets the torque limit.
func (m *Motor) SetMaxTorque(percent float64) {
	m.mu.Lock()
	m.torque = math.Max(0, math.Min(100, percent))
	m.mu.Unlock()
}

// Spin starts continuous rotation at the configured velocity.
func (m *Motor) Spin(dir device.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spinning, m.stopped, m.hasTarget = true, false, false
	m.dir = dir.Sign()
	m.command = m.velocity * m.dir
	m.record(Command{Kind: CmdSpin, Value: m.command})
}

// SpinFor rotates by amount. With wait it blocks on the world clock.
func (m *Motor) SpinFor(ctx context.Context, dir device.Direction, amount float64, unit device.RotationUnit, velocity float64, wait bool) error {
	turns := math.Abs(unit.ToTurns(amount))
	s := dir.Sign()
	if amount < 0 {
		s = -s
	}

	m.mu.Lock()
	m.velocity = device.ClampPercent(math.Abs(velocity))
	m.target = m.position + s*turns
	m.hasTarget = true
	m.spinning, m.stopped = true, false
	m.command = s * m.velocity
	timeout := m.timeout
	m.record(Command{Kind: CmdSpinFor, Value: s * turns})
	m.mu.Unlock()

	if !wait {
		return nil
	}
	deadline := m.world.Now().Add(timeout)
	for {
		m.mu.Lock()
		done := !m.hasTarget
		m.mu.Unlock()
		if done {
			return nil
		}
		if !m.world.Now().Before(deadline) {
			m.Stop(device.Brake)
			return device.ErrMotorTimeout
		}
		if err := m.world.Sleep(ctx, m.world.step); err != nil {
			m.Stop(device.Brake)
			return err
		}
	}
}

// Stop halts the motor with the given brake mode.
func (m *Motor) Stop(mode device.BrakeMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(mode)
}

func (m *Motor) stopLocked(mode device.BrakeMode) {
	if m.stopped && m.mode == mode {
		return
	}
	m.spinning, m.stopped, m.hasTarget = false, true, false
	m.command = 0
	m.mode = mode
	m.record(Command{Kind: CmdStop, Mode: mode})
}

// Position returns the encoder position.
func (m *Motor) Position(unit device.RotationUnit) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unit.FromTurns(m.position)
}

// ResetPosition zeroes the encoder.
func (m *Motor) ResetPosition() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasTarget {
		m.target -= m.position
	}
	m.position = 0
}

// SetTimeout sets the SpinFor timeout.
func (m *Motor) SetTimeout(d time.Duration) {
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// Timeout returns the SpinFor timeout.
func (m *Motor) Timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

// Command returns the effective signed velocity command, zero when stopped.
func (m *Motor) Command() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.command
}

// Stopped reports whether the motor is stopped and with which mode.
func (m *Motor) Stopped() (bool, device.BrakeMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped, m.mode
}

// Log returns a copy of the command log.
func (m *Motor) Log() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.log...)
}

// Count returns how many commands of kind were logged.
func (m *Motor) Count(kind CommandKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.log {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (m *Motor) integrate(secs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.command == 0 || m.jammed {
		return
	}
	delta := m.command / 100 * m.maxRPS * secs
	next := m.position + delta
	if m.hasTarget && (delta > 0 && next >= m.target || delta < 0 && next <= m.target) {
		m.position = m.target
		m.stopLocked(device.Brake)
		return
	}
	m.position = next
}

var _ device.Motor = (*Motor)(nil)
