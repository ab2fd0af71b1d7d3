package lifecycle

import (
	"sync"
	"time"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	KindStarting      Kind = "starting"
	KindReady         Kind = "ready"
	KindStartupFailed Kind = "startup_failed"
	KindStopping      Kind = "stopping"
	KindEscalated     Kind = "escalated"
	KindStopped       Kind = "stopped"
	KindStopFailed    Kind = "stop_failed"
	KindCleanedUp     Kind = "cleaned_up"
)

// Terminal reports whether no further events follow k for the same server,
// apart from cleanup.
func (k Kind) Terminal() bool {
	switch k {
	case KindStartupFailed, KindStopped, KindStopFailed:
		return true
	default:
		return false
	}
}

// Event describes one lifecycle transition of a server instance.
type Event struct {
	Kind     Kind          `json:"kind"`
	ServerID string        `json:"server_id"`
	Version  string        `json:"version,omitempty"`
	PID      int           `json:"pid,omitempty"`
	Address  string        `json:"address,omitempty"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Sink receives lifecycle events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// MultiSink fans events out to several sinks in order. Nil entries are skipped.
type MultiSink []Sink

// Emit delivers e to every sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}
