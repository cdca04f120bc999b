package eye

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/sched"
)

// DefaultPeriod is the shared polling tick.
const DefaultPeriod = 10 * time.Millisecond

// ErrAlreadyRunning is returned by Run when the poller is already running.
var ErrAlreadyRunning = errors.New("eye: poller already running")

// Poller runs every registered detector on one fixed tick and forwards the
// events, in poll order, to a buffered channel. It never blocks: when the
// channel is full the event is dropped and counted.
type Poller struct {
	clock  sched.Clock
	period time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	detectors []*Detector
	running   bool

	events  chan Event
	dropped atomic.Uint64
	ticks   atomic.Uint64
}

// NewPoller creates a poller. period <= 0 uses DefaultPeriod.
func NewPoller(clock sched.Clock, period time.Duration, logger *slog.Logger) *Poller {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Poller{
		clock:  clock,
		period: period,
		logger: log.Or(logger).With("component", "poller"),
		events: make(chan Event, 64),
	}
}

// Add registers detectors. They are polled in registration order.
func (p *Poller) Add(ds ...*Detector) {
	p.mu.Lock()
	p.detectors = append(p.detectors, ds...)
	p.mu.Unlock()
}

// Detector returns a registered detector by name.
func (p *Poller) Detector(name string) (*Detector, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, d := range p.detectors {
		if d.name == name {
			return d, true
		}
	}
	return nil, false
}

// Events returns the ordered event stream.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Dropped returns how many events were dropped on a full channel.
func (p *Poller) Dropped() uint64 { return p.dropped.Load() }

// Ticks returns how many ticks have run.
func (p *Poller) Ticks() uint64 { return p.ticks.Load() }

// Period returns the polling tick.
func (p *Poller) Period() time.Duration { return p.period }

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	n := len(p.detectors)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.logger.Debug("polling started", "detectors", n, "period", p.period)
	for {
		p.Step()
		if err := p.clock.Sleep(ctx, p.period); err != nil {
			p.logger.Debug("polling stopped", "ticks", p.Ticks(), "dropped", p.Dropped())
			return err
		}
	}
}

// Step performs one polling tick and returns the events it fired.
func (p *Poller) Step() []Event {
	p.mu.RLock()
	detectors := append([]*Detector(nil), p.detectors...)
	p.mu.RUnlock()

	p.ticks.Add(1)
	var fired []Event
	for _, d := range detectors {
		ev, ok := d.Poll()
		if !ok {
			continue
		}
		fired = append(fired, ev)
		p.send(ev)
	}
	return fired
}

// PollOne polls d outside the tick. A fired event goes to the channel as
// if Step had fired it.
func (p *Poller) PollOne(d *Detector) (Event, bool) {
	ev, ok := d.Poll()
	if ok {
		p.send(ev)
	}
	return ev, ok
}

func (p *Poller) send(ev Event) {
	select {
	case p.events <- ev:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("event channel full, dropping events", "detector", ev.Detector)
		}
	}
}
