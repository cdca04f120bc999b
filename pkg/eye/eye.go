// Package eye turns thresholded proximity readings into one-shot edge events.
package eye

import (
	"fmt"
	"sync"
	"time"

	"github.com/axolotls/axobotl/pkg/device"
)

// Kind of edge event.
type Kind int

const (
	ObjectSeen Kind = iota + 1
	ObjectLost
)

func (k Kind) String() string {
	switch k {
	case ObjectSeen:
		return "seen"
	case ObjectLost:
		return "lost"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is fired once per state transition of a Detector.
type Event struct {
	Detector string
	Kind     Kind
	Distance float64 // millimeters
	Seq      uint64  // per-detector sequence number, starting at 1
	At       time.Time
}

// Observer receives edge events.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Detector ("eye") wraps a distance sensor with a threshold.
//
// It is a two-state machine. NotSeen is entered with ObjectLost and Seen is
// entered with ObjectSeen; re-polling an unchanged state fires nothing.
// A detector starts NotSeen, so a first far reading is silent.
type Detector struct {
	name      string
	sensor    device.DistanceSensor
	threshold float64 // millimeters
	now       func() time.Time

	mu        sync.Mutex
	seen      bool
	lost      bool
	seq       uint64
	observers []Observer
}

// NewDetector creates a detector that sees an object at or below thresholdMM.
func NewDetector(name string, sensor device.DistanceSensor, thresholdMM float64) *Detector {
	return &Detector{
		name:      name,
		sensor:    sensor,
		threshold: thresholdMM,
		now:       time.Now,
		lost:      true,
	}
}

// WithClock sets the time source used to stamp events.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Name returns the detector name.
func (d *Detector) Name() string { return d.name }

// Threshold returns the distance threshold in millimeters.
func (d *Detector) Threshold() float64 { return d.threshold }

// Subscribe registers an observer for this detector's events.
func (d *Detector) Subscribe(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Seen reports whether the detector is in the Seen state.
func (d *Detector) Seen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen
}

// Installed reports whether the underlying sensor is present.
func (d *Detector) Installed() bool {
	return d.sensor.IsInstalled()
}

// Poll samples the sensor once. It returns the fired event, if any, after
// delivering it to the subscribed observers.
//
// An absent sensor is permanently NotSeen: it never fires, and a sensor
// unplugged while Seen drops back to NotSeen silently.
func (d *Detector) Poll() (Event, bool) {
	if !d.sensor.IsInstalled() {
		d.Reset()
		return Event{}, false
	}
	dist := d.sensor.Distance(device.Millimeters)

	d.mu.Lock()
	var kind Kind
	if dist <= d.threshold {
		if !d.seen {
			d.seen, d.lost = true, false
			kind = ObjectSeen
		}
	} else if !d.lost {
		d.lost, d.seen = true, false
		kind = ObjectLost
	}
	if kind == 0 {
		d.mu.Unlock()
		return Event{}, false
	}
	d.seq++
	ev := Event{Detector: d.name, Kind: kind, Distance: dist, Seq: d.seq, At: d.now()}
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	for _, o := range observers {
		o.OnEvent(ev)
	}
	return ev, true
}

// Reset returns the detector to NotSeen without firing.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.seen, d.lost = false, true
	d.mu.Unlock()
}
