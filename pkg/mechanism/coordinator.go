// Package mechanism coordinates the ball-handling actuators: the winder that
// loads and fires the launcher, the intake rollers, the pneumatic claw and
// the basket lift.
//
// The Coordinator reacts to edge events from the loaded, entry and top
// detectors and to explicit commands from the routine task. Every call
// returns with its actuator stopped or holding; nothing is retried.
package mechanism

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/eye"
	"github.com/axolotls/axobotl/pkg/sched"
)

// Detector names the coordinator reacts to.
const (
	DetectorLoaded = "loaded"
	DetectorEntry  = "entry"
	DetectorTop    = "top"
)

var (
	ErrWindTimeout = errors.New("mechanism: winder never reached loaded")
	ErrCancelled   = errors.New("mechanism: cancelled")
	ErrNoWinder    = errors.New("mechanism: no winder configured")
)

// State of the launcher.
type State int

const (
	Idle State = iota
	Winding
	Holding
	Releasing
	Rewinding
	Failed
)

func (s State) String() string {
	switch s {
	case Winding:
		return "winding"
	case Holding:
		return "holding"
	case Releasing:
		return "releasing"
	case Rewinding:
		return "rewinding"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Config holds the mechanism settings.
type Config struct {
	WindVelocity   float64       `json:"wind_velocity"`
	WindTimeout    time.Duration `json:"wind_timeout"`
	FireTurns      float64       `json:"fire_turns"`
	FireVelocity   float64       `json:"fire_velocity"`
	IntakeVelocity float64       `json:"intake_velocity"`
	ClawID         int           `json:"claw_id"`
	// AutoHug stops the intake and closes the claw when the top detector
	// sees a ball.
	AutoHug bool          `json:"auto_hug"`
	Tick    time.Duration `json:"tick"`
}

// DefaultConfig returns the competition settings.
func DefaultConfig() Config {
	return Config{
		WindVelocity:   100,
		WindTimeout:    3 * time.Second,
		FireTurns:      0.5,
		FireVelocity:   100,
		IntakeVelocity: 100,
		ClawID:         1,
		AutoHug:        true,
		Tick:           10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindVelocity <= 0 {
		c.WindVelocity = d.WindVelocity
	}
	if c.WindTimeout <= 0 {
		c.WindTimeout = d.WindTimeout
	}
	if c.FireTurns <= 0 {
		c.FireTurns = d.FireTurns
	}
	if c.FireVelocity <= 0 {
		c.FireVelocity = d.FireVelocity
	}
	if c.IntakeVelocity <= 0 {
		c.IntakeVelocity = d.IntakeVelocity
	}
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	return c
}

// Parts are the actuators and sensors the coordinator owns.
// Any of them may be nil on a robot without that hardware.
type Parts struct {
	Winder device.Motor
	Intake []device.Motor
	Claw   device.BinaryActuator
	Loaded *eye.Detector
	// Poller, when set, carries edges the wind loop fires to its event
	// channel.
	Poller *eye.Poller

	Clock  sched.Clock
	Cancel *sched.Flag
	Logger *slog.Logger
}

// Counts tallies detector events.
type Counts struct {
	Entered int
	Topped  int
	Loads   int
}

// Coordinator drives the launcher protocol.
type Coordinator struct {
	cfg    Config
	winder device.Motor
	intake []device.Motor
	claw   device.BinaryActuator
	loaded *eye.Detector
	poller *eye.Poller
	clock  sched.Clock
	cancel *sched.Flag
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	isLoaded bool
	intakeOn bool
	hugging  bool
	counts   Counts
}

// New creates a coordinator.
func New(cfg Config, p Parts) *Coordinator {
	clock := p.Clock
	if clock == nil {
		clock = sched.System()
	}
	cancel := p.Cancel
	if cancel == nil {
		cancel = &sched.Flag{}
	}
	return &Coordinator{
		cfg:    cfg.withDefaults(),
		winder: p.Winder,
		intake: p.Intake,
		claw:   p.Claw,
		loaded: p.Loaded,
		poller: p.Poller,
		clock:  clock,
		cancel: cancel,
		logger: log.Or(p.Logger).With("component", "mechanism"),
	}
}

// State returns the launcher state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loaded reports whether the launcher is wound and holding a ball.
func (c *Coordinator) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLoaded
}

// IntakeRunning reports whether the intake rollers are spinning.
func (c *Coordinator) IntakeRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intakeOn
}

// Hugging reports whether the claw is closed.
func (c *Coordinator) Hugging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hugging
}

// Counts returns the event tallies.
func (c *Coordinator) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// WindMechanism spins the winder until the loaded detector sees the ball,
// then holds it. It gives up after the wind timeout, leaving the winder
// braked and the state Failed.
func (c *Coordinator) WindMechanism(ctx context.Context) error {
	return c.wind(ctx, Winding)
}

func (c *Coordinator) wind(ctx context.Context, st State) error {
	if c.winder == nil {
		return ErrNoWinder
	}
	c.setState(st)

	if c.sampleLoaded() {
		c.hold()
		return nil
	}

	deadline := sched.NewDeadline(c.clock, c.cfg.WindTimeout)
	c.winder.SetVelocity(c.cfg.WindVelocity)
	c.winder.Spin(device.Forward)
	c.logger.Debug("winding", "state", st, "timeout", c.cfg.WindTimeout)

	for {
		if err := ctx.Err(); err != nil {
			c.abort(device.Brake, Idle)
			return err
		}
		if c.cancel.Consume() {
			c.abort(device.Brake, Idle)
			return ErrCancelled
		}
		if c.sampleLoaded() {
			c.hold()
			return nil
		}
		if deadline.Expired() {
			c.abort(device.Brake, Failed)
			c.logger.Error("wind failed", "timeout", c.cfg.WindTimeout)
			return fmt.Errorf("%w after %v", ErrWindTimeout, c.cfg.WindTimeout)
		}
		if err := c.clock.Sleep(ctx, c.cfg.Tick); err != nil {
			c.abort(device.Brake, Idle)
			return err
		}
	}
}

// sampleLoaded polls the loaded detector once and reports its state.
// Without a detector the launcher is never considered loaded.
func (c *Coordinator) sampleLoaded() bool {
	if c.loaded == nil {
		return false
	}
	if c.poller != nil {
		c.poller.PollOne(c.loaded)
	} else {
		c.loaded.Poll()
	}
	return c.loaded.Seen()
}

func (c *Coordinator) hold() {
	c.winder.Stop(device.Hold)
	c.mu.Lock()
	c.state = Holding
	c.isLoaded = true
	c.counts.Loads++
	c.mu.Unlock()
	c.logger.Info("loaded")
}

func (c *Coordinator) abort(mode device.BrakeMode, st State) {
	c.winder.SetVelocity(0)
	c.winder.Stop(mode)
	c.setState(st)
}

// ReleaseMechanism fires: the winder turns a fixed stroke past the hold
// point without consulting the loaded detector, then winds again unless
// cancelRewind reports true. A nil predicate always rewinds.
func (c *Coordinator) ReleaseMechanism(ctx context.Context, cancelRewind func() bool) error {
	if c.winder == nil {
		return ErrNoWinder
	}
	c.setState(Releasing)
	c.logger.Info("release", "turns", c.cfg.FireTurns)

	err := c.winder.SpinFor(ctx, device.Forward, c.cfg.FireTurns, device.Turns, c.cfg.FireVelocity, true)
	c.mu.Lock()
	c.isLoaded = false
	c.mu.Unlock()
	if err != nil {
		c.abort(device.Brake, Failed)
		return fmt.Errorf("mechanism: fire stroke: %w", err)
	}

	if cancelRewind != nil && cancelRewind() {
		c.abort(device.Coast, Idle)
		c.logger.Info("rewind skipped")
		return nil
	}
	return c.wind(ctx, Rewinding)
}

// HugBall closes the claw.
func (c *Coordinator) HugBall() error {
	return c.actuate(true)
}

// ReleaseHug opens the claw.
func (c *Coordinator) ReleaseHug() error {
	return c.actuate(false)
}

func (c *Coordinator) actuate(extend bool) error {
	if c.claw == nil {
		return nil
	}
	if err := c.claw.PowerOn(); err != nil {
		return fmt.Errorf("mechanism: claw power: %w", err)
	}
	var err error
	if extend {
		err = c.claw.Extend(c.cfg.ClawID)
	} else {
		err = c.claw.Retract(c.cfg.ClawID)
	}
	if err != nil {
		return fmt.Errorf("mechanism: claw: %w", err)
	}
	c.mu.Lock()
	c.hugging = extend
	c.mu.Unlock()
	return nil
}

// StartIntake spins the intake rollers. An unloaded launcher is wound
// first; if the wind fails the intake stays off.
func (c *Coordinator) StartIntake(ctx context.Context) error {
	if c.winder != nil && !c.Loaded() {
		if err := c.WindMechanism(ctx); err != nil {
			return fmt.Errorf("mechanism: intake not started: %w", err)
		}
	}
	for _, m := range c.intake {
		m.SetVelocity(c.cfg.IntakeVelocity)
		m.Spin(device.Forward)
	}
	c.mu.Lock()
	c.intakeOn = true
	c.mu.Unlock()
	return nil
}

// StopIntake coasts the intake rollers.
func (c *Coordinator) StopIntake() {
	for _, m := range c.intake {
		m.Stop(device.Coast)
	}
	c.mu.Lock()
	c.intakeOn = false
	c.mu.Unlock()
}

// StopAll coasts every mechanism actuator.
func (c *Coordinator) StopAll() {
	c.StopIntake()
	if c.winder != nil {
		c.winder.Stop(device.Coast)
	}
	c.mu.Lock()
	c.isLoaded = false
	if c.state != Failed {
		c.state = Idle
	}
	c.mu.Unlock()
}

// OnEvent implements eye.Observer.
func (c *Coordinator) OnEvent(ev eye.Event) {
	c.logger.Debug("event", "detector", ev.Detector, "kind", ev.Kind, "distance", ev.Distance, "seq", ev.Seq)

	switch ev.Detector {
	case DetectorEntry:
		if ev.Kind == eye.ObjectSeen {
			c.mu.Lock()
			c.counts.Entered++
			c.mu.Unlock()
		}
	case DetectorTop:
		if ev.Kind != eye.ObjectSeen {
			return
		}
		c.mu.Lock()
		c.counts.Topped++
		c.mu.Unlock()
		if c.cfg.AutoHug {
			c.StopIntake()
			if err := c.HugBall(); err != nil {
				c.logger.Warn("auto hug failed", "error", err)
			}
		}
	case DetectorLoaded:
		c.mu.Lock()
		c.isLoaded = ev.Kind == eye.ObjectSeen
		c.mu.Unlock()
	}
}

// Run dispatches events until ctx is done or the channel closes.
func (c *Coordinator) Run(ctx context.Context, events <-chan eye.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.OnEvent(ev)
		}
	}
}

// WatchBumper makes a press of b raise the cancellation flag.
func (c *Coordinator) WatchBumper(name string, b device.DigitalInput) {
	b.OnPressed(func() {
		c.logger.Warn("bumper pressed, cancelling", "bumper", name)
		c.cancel.Raise()
	})
}

var _ eye.Observer = (*Coordinator)(nil)
