package stoat

import "fmt"

// Aggregate describes one kind of event-sourced aggregate as a pure state
// machine over a state value S. Implementations must be deterministic and
// free of I/O; the engine owns every state value for the duration of one
// command and never shares it across calls.
type Aggregate[S any] interface {
	// AggregateType is the stream category, constant per aggregate kind.
	AggregateType() string

	// Default returns the state of a brand-new aggregate with the given identity.
	Default(id string) S

	// Apply folds one event into the state. An error means the event cannot
	// belong to this stream and aborts the load.
	Apply(state S, event Event) (S, error)

	// Identity extracts the aggregate id from a state.
	Identity(state S) string
}

// Fold applies events to state in order.
func Fold[S any](agg Aggregate[S], state S, events []Event) (S, error) {
	for i, e := range events {
		next, err := agg.Apply(state, e)
		if err != nil {
			return state, fmt.Errorf("stoat: apply event %d (%s): %w", i, e.EventType(), err)
		}
		state = next
	}
	return state, nil
}

// Replay folds events onto the default state for id.
func Replay[S any](agg Aggregate[S], id string, events []Event) (S, error) {
	return Fold(agg, agg.Default(id), events)
}
