// Package trace carries simulation waveforms from a session to a consumer.
package trace

import (
	"github.com/xplshn/rtlc/pkg/bits"
)

// Event is the value of one signal at one point in simulated time. Valid is
// false while the signal is unknown.
type Event struct {
	Time   uint64
	Signal string
	Width  int
	Signed bool
	Value  bits.Value
	Valid  bool
}

// Sink receives events in non-decreasing time order. A session hands over
// one batch per evaluated step and never touches a batch again.
type Sink interface {
	Emit(events []Event) error
	Close() error
}

// Recorder keeps every event in memory.
type Recorder struct {
	Events []Event
	closed bool
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(events []Event) error {
	r.Events = append(r.Events, events...)
	return nil
}

func (r *Recorder) Close() error {
	r.closed = true
	return nil
}

func (r *Recorder) Closed() bool { return r.closed }

// Series returns the events of one signal in time order.
func (r *Recorder) Series(signal string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Signal == signal { out = append(out, e) }
	}
	return out
}

// At returns the last event of signal at or before t.
func (r *Recorder) At(signal string, t uint64) (Event, bool) {
	var last Event
	found := false
	for _, e := range r.Events {
		if e.Time > t { break }
		if e.Signal == signal { last, found = e, true }
	}
	return last, found
}

// Signals lists the traced signal names in first-seen order.
func (r *Recorder) Signals() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.Events {
		if !seen[e.Signal] {
			seen[e.Signal] = true
			out = append(out, e.Signal)
		}
	}
	return out
}

// Tee fans every batch out to several sinks.
type Tee []Sink

func (t Tee) Emit(events []Event) error {
	for _, s := range t {
		if err := s.Emit(events); err != nil { return err }
	}
	return nil
}

func (t Tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil { first = err }
	}
	return first
}
