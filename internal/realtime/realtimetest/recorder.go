// Package realtimetest provides a recording realtime.Conn for tests.
package realtimetest

import (
	"encoding/json"
	"sync"
)

type Event struct {
	Name string
	Data json.RawMessage
}

// Recorder is a realtime.Conn that keeps every event it is sent.
type Recorder struct {
	id string

	mu     sync.Mutex
	events []Event
	Err    error
}

func NewRecorder(id string) *Recorder { return &Recorder{id: id} }

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Send(event string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, Event{Name: event, Data: append(json.RawMessage(nil), data...)})
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the events called name, in order.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Count(name string) int { return len(r.Named(name)) }

// Decode unmarshals the last event called name into v and reports whether
// one was found.
func (r *Recorder) Decode(name string, v any) bool {
	evs := r.Named(name)
	if len(evs) == 0 {
		return false
	}
	return json.Unmarshal(evs[len(evs)-1].Data, v) == nil
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
