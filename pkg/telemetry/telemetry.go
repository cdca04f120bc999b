// Package telemetry carries per-tick samples from the control loops to
// observers such as the TUI chart and the websocket stream.
package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// Sample is one control-loop tick.
type Sample struct {
	Op        string    `json:"op"`
	Tick      int       `json:"tick"`
	Time      time.Time `json:"time"`
	Heading   float64   `json:"heading"`
	Error     float64   `json:"error"`
	Left      float64   `json:"left"`
	Right     float64   `json:"right"`
	Remaining float64   `json:"remaining"`
}

// Sink receives samples. Implementations must not block the caller.
type Sink interface {
	Record(Sample)
}

// Discard is a Sink that drops every sample.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Sample) {}

// Recorder fans samples out to a latest-value channel, a log channel and
// any subscribed sinks.
type Recorder struct {
	mu      sync.RWMutex
	sinks   []Sink
	count   int
	stateCh chan Sample
	logCh   chan string
}

// NewRecorder creates a recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		stateCh: make(chan Sample, 1),
		logCh:   make(chan string, 10),
	}
}

// Samples returns a channel holding the most recent sample.
func (r *Recorder) Samples() <-chan Sample {
	return r.stateCh
}

// Logs returns a channel of log messages.
func (r *Recorder) Logs() <-chan string {
	return r.logCh
}

// Subscribe adds a sink that receives every sample.
func (r *Recorder) Subscribe(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Count returns how many samples were recorded.
func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Record implements Sink.
func (r *Recorder) Record(s Sample) {
	r.mu.Lock()
	r.count++
	sinks := r.sinks
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Record(s)
	}

	select {
	case r.stateCh <- s:
	default:
		// Drop old sample if channel full, replace with new
		select {
		case <-r.stateCh:
		default:
		}
		select {
		case r.stateCh <- s:
		default:
		}
	}
}

// Logf queues a log message. It drops the message if nobody is reading.
func (r *Recorder) Logf(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case r.logCh <- msg:
	default:
	}
}
