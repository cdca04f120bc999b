package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/drive"
	"github.com/axolotls/axobotl/pkg/eye"
	"github.com/axolotls/axobotl/pkg/heading"
	"github.com/axolotls/axobotl/pkg/mechanism"
	"github.com/axolotls/axobotl/pkg/sched"
	"github.com/axolotls/axobotl/pkg/telemetry"
)

var ErrAlreadyStarted = errors.New("robot: already started")

// Devices is the hardware a backend supplies. Motors are given as mounted;
// the Bot applies the configured reversal. Missing optional devices are
// left nil or absent from the maps.
type Devices struct {
	Motors   map[MotorName]device.Motor
	Heading  device.HeadingSensor
	Distance map[string]device.DistanceSensor
	Bumpers  map[string]device.DigitalInput
	Claw     device.BinaryActuator
	Clock    sched.Clock
}

// Options are optional Bot collaborators.
type Options struct {
	Sink   telemetry.Sink
	Logger *slog.Logger
}

// Bot owns every robot component. It replaces ambient globals: each
// component receives what it needs from here at construction.
type Bot struct {
	Config    *Config
	Cancel    *sched.Flag
	Clock     sched.Clock
	Heading   *heading.Source
	Drive     *drive.Controller
	Mechanism *mechanism.Coordinator
	Basket    *mechanism.Basket
	Poller    *eye.Poller

	logger *slog.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New assembles a Bot from a configuration and a device set.
func New(cfg *Config, dev Devices, opts Options) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if dev.Heading == nil {
		return nil, errors.New("robot: no heading sensor")
	}
	clock := dev.Clock
	if clock == nil {
		clock = sched.System()
	}
	logger := log.Or(opts.Logger)

	motors := make(map[MotorName]device.Motor, len(dev.Motors))
	for name, m := range dev.Motors {
		if cfg.Motors[name].Reversed {
			m = Reverse(m)
		}
		motors[name] = m
	}
	left, right := motors[DriveLeft], motors[DriveRight]
	if left == nil || right == nil {
		return nil, errors.New("robot: drive motors missing")
	}

	b := &Bot{
		Config: cfg,
		Cancel: &sched.Flag{},
		Clock:  clock,
		logger: logger.With("component", "bot"),
	}
	b.Heading = heading.NewSource(dev.Heading, clock, logger)
	b.Drive = drive.New(cfg.Drive, drive.Drivetrain{
		Left:    left,
		Right:   right,
		Heading: b.Heading,
		Clock:   clock,
		Cancel:  b.Cancel,
		Sink:    opts.Sink,
		Logger:  logger,
	})

	b.Poller = eye.NewPoller(clock, cfg.PollPeriod, logger)
	for _, name := range slices.Sorted(maps.Keys(cfg.Detectors)) {
		sensor, ok := dev.Distance[name]
		if !ok {
			continue
		}
		threshold := cfg.Detectors[name].ThresholdMM
		b.Poller.Add(eye.NewDetector(name, sensor, threshold).WithClock(clock.Now))
	}
	loaded, _ := b.Poller.Detector(mechanism.DetectorLoaded)

	var intake []device.Motor
	for _, name := range []MotorName{IntakeLeft, IntakeRight} {
		if m, ok := motors[name]; ok {
			intake = append(intake, m)
		}
	}
	b.Mechanism = mechanism.New(cfg.Mechanism, mechanism.Parts{
		Winder: motors[Winder],
		Intake: intake,
		Claw:   dev.Claw,
		Loaded: loaded,
		Poller: b.Poller,
		Clock:  clock,
		Cancel: b.Cancel,
		Logger: logger,
	})

	var lift []device.Motor
	for _, name := range []MotorName{BasketLeft, BasketRight} {
		if m, ok := motors[name]; ok {
			lift = append(lift, m)
		}
	}
	b.Basket = mechanism.NewBasket(mechanism.BasketParts{
		Motors: lift,
		Up:     dev.Bumpers[BasketUpBumper],
		Down:   dev.Bumpers[BasketDownBumper],
		Intake: b.Mechanism,
		Clock:  clock,
		Logger: logger,
	})
	for name, in := range dev.Bumpers {
		if name != BasketUpBumper && name != BasketDownBumper {
			b.Mechanism.WatchBumper(name, in)
		}
	}

	b.Drive.Setup()
	return b, nil
}

// Start runs the detector poller and the event loop until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		if err := b.Poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("poller stopped", "error", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		b.Mechanism.Run(ctx, b.Poller.Events())
	}()
	b.logger.Info("started", "detectors", b.Config.Detectors, "poll", b.Poller.Period())
	return nil
}

// Wait blocks until the tasks launched by Start have exited.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Calibrate calibrates the heading sensor. A failed calibration stops
// everything.
func (b *Bot) Calibrate(ctx context.Context) error {
	if err := b.Heading.Calibrate(ctx, b.Cancel); err != nil {
		b.StopAll()
		return err
	}
	return nil
}

// StartIntake lowers the basket and starts the intake.
func (b *Bot) StartIntake(ctx context.Context) error {
	if err := b.Basket.Lower(ctx, 0, true); err != nil {
		return err
	}
	return b.Mechanism.StartIntake(ctx)
}

// StopAll coasts every actuator.
func (b *Bot) StopAll() {
	b.Drive.Stop(device.Coast)
	b.Mechanism.StopAll()
	b.Basket.Stop(device.Coast)
	b.logger.Info("all stopped")
}
