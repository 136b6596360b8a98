// Package projections provides testing utilities for view projections.
// A fixture feeds envelopes through a view dispatcher and asserts on the
// views it leaves in the store.
package projections

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers/view"
)

// TB is an alias for testing.TB to enable easier mocking in tests.
type TB = testing.TB

// ViewTestFixture provides testing utilities for a view projection.
type ViewTestFixture[V any] struct {
	t          TB
	ctx        context.Context
	name       string
	projection view.Projection[V]
	store      view.Store[V]
	dispatcher *view.Dispatcher[V]
	envelopes  []stoat.Envelope
	sequences  map[string]uint64
	now        func() time.Time
}

// TestView creates a fixture backed by a view.MemoryStore.
func TestView[V any](t TB, projection view.Projection[V]) *ViewTestFixture[V] {
	t.Helper()
	f := &ViewTestFixture[V]{
		t:          t,
		ctx:        context.Background(),
		name:       "test",
		projection: projection,
		sequences:  make(map[string]uint64),
		now:        func() time.Time { return time.Now().UTC() },
	}
	return f.WithStore(view.NewMemoryStore[V]())
}

// WithContext sets a custom context.
func (f *ViewTestFixture[V]) WithContext(ctx context.Context) *ViewTestFixture[V] {
	f.ctx = ctx
	return f
}

// WithStore sets a custom view store.
func (f *ViewTestFixture[V]) WithStore(store view.Store[V]) *ViewTestFixture[V] {
	f.store = store
	f.dispatcher = view.New(f.name, f.projection, store)
	return f
}

// WithClock fixes the RecordedAt of generated envelopes.
func (f *ViewTestFixture[V]) WithClock(now func() time.Time) *ViewTestFixture[V] {
	f.now = now
	return f
}

// GivenEnvelopes dispatches envelopes as they are.
func (f *ViewTestFixture[V]) GivenEnvelopes(envelopes ...stoat.Envelope) *ViewTestFixture[V] {
	f.t.Helper()

	if err := f.dispatcher.Dispatch(f.ctx, aggregateTypeOf(envelopes), envelopes); err != nil {
		f.t.Fatalf("Failed to dispatch envelopes: %v", err)
	}
	f.envelopes = append(f.envelopes, envelopes...)
	return f
}

// GivenEvents wraps domain events in envelopes for one aggregate and
// dispatches them as a single batch. Sequences continue across calls for
// the same aggregate.
func (f *ViewTestFixture[V]) GivenEvents(aggregateType, aggregateID string, events ...stoat.Event) *ViewTestFixture[V] {
	f.t.Helper()

	streamID := stoat.BuildStreamID(aggregateType, aggregateID)
	batch := make([]stoat.Envelope, 0, len(events))
	for _, event := range events {
		seq := f.sequences[streamID]
		f.sequences[streamID] = seq + 1
		batch = append(batch, stoat.Envelope{
			ID:            uuid.NewString(),
			StreamID:      streamID,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Sequence:      seq,
			EventType:     event.EventType(),
			Payload:       event,
			RecordedAt:    f.now(),
			UserID:        stoat.AnonymousUser,
		})
	}
	return f.GivenEnvelopes(batch...)
}

// ThenView asserts the view matches the expected state.
func (f *ViewTestFixture[V]) ThenView(id string, expected V) {
	f.t.Helper()

	actual := f.ThenViewExists(id)
	if !reflect.DeepEqual(actual, expected) {
		f.t.Errorf("View mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// ThenViewExists asserts that a view exists and returns it.
func (f *ViewTestFixture[V]) ThenViewExists(id string) V {
	f.t.Helper()

	actual, found, err := f.store.Find(f.ctx, id)
	if err != nil {
		f.t.Fatalf("Failed to get view %s: %v", id, err)
	}
	if !found {
		f.t.Fatalf("View %s not found", id)
	}
	return actual
}

// ThenViewNotExists asserts that a view does not exist.
func (f *ViewTestFixture[V]) ThenViewNotExists(id string) {
	f.t.Helper()

	actual, found, err := f.store.Find(f.ctx, id)
	if err != nil {
		f.t.Fatalf("Unexpected error: %v", err)
	}
	if found {
		f.t.Errorf("Expected view %s to not exist, but found: %+v", id, actual)
	}
}

// ThenViewCount asserts the number of views. The store must report its
// size through a Len method, as view.MemoryStore does.
func (f *ViewTestFixture[V]) ThenViewCount(expected int) {
	f.t.Helper()

	sized, ok := f.store.(interface{ Len() int })
	if !ok {
		f.t.Fatalf("View store %T cannot count its views", f.store)
	}
	if n := sized.Len(); n != expected {
		f.t.Errorf("Expected %d views, got %d", expected, n)
	}
}

// ThenViewMatches asserts the view passes a custom check.
func (f *ViewTestFixture[V]) ThenViewMatches(id string, check func(t TB, view V)) {
	f.t.Helper()
	check(f.t, f.ThenViewExists(id))
}

// Store returns the underlying store for additional assertions.
func (f *ViewTestFixture[V]) Store() view.Store[V] {
	return f.store
}

// Dispatcher returns the view dispatcher under test.
func (f *ViewTestFixture[V]) Dispatcher() *view.Dispatcher[V] {
	return f.dispatcher
}

// Envelopes returns every dispatched envelope.
func (f *ViewTestFixture[V]) Envelopes() []stoat.Envelope {
	return f.envelopes
}

func aggregateTypeOf(envelopes []stoat.Envelope) string {
	if len(envelopes) == 0 {
		return ""
	}
	return envelopes[0].AggregateType
}
