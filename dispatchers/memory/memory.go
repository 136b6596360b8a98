// Package memory provides a dispatcher that records committed envelopes in
// memory, grouped by aggregate id.
package memory

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/go-stoat"
)

var _ stoat.Dispatcher = (*Recorder)(nil)

// Recorder keeps every envelope it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.RWMutex
	name   string
	events map[string][]stoat.Envelope
	order  []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		name:   "memory",
		events: make(map[string][]stoat.Envelope),
	}
}

// Name implements stoat.Named.
func (r *Recorder) Name() string {
	return r.name
}

// Dispatch implements stoat.Dispatcher.
func (r *Recorder) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, env := range envelopes {
		if _, ok := r.events[env.AggregateID]; !ok {
			r.order = append(r.order, env.AggregateID)
		}
		r.events[env.AggregateID] = append(r.events[env.AggregateID], env)
	}
	return nil
}

// Events returns the envelopes recorded for one aggregate, in dispatch order.
func (r *Recorder) Events(aggregateID string) []stoat.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]stoat.Envelope(nil), r.events[aggregateID]...)
}

// All returns a copy of every recorded envelope keyed by aggregate id.
func (r *Recorder) All() map[string][]stoat.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]stoat.Envelope, len(r.events))
	for id, envs := range r.events {
		out[id] = append([]stoat.Envelope(nil), envs...)
	}
	return out
}

// AggregateIDs returns the aggregate ids in the order they were first seen.
func (r *Recorder) AggregateIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of recorded envelopes.
func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, envs := range r.events {
		n += len(envs)
	}
	return n
}

// Clear forgets everything recorded so far.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]stoat.Envelope)
	r.order = nil
}
