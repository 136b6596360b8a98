// Package assertions provides event and envelope assertions for testing
// event-sourced code. It includes helpers for comparing events, checking
// event types, generating event diffs and verifying envelope streams.
package assertions

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-stoat"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// AssertEventTypes checks that the events have the expected EventType
// names in order.
func AssertEventTypes(t TB, events []stoat.Event, types ...string) {
	t.Helper()

	if len(events) != len(types) {
		t.Fatalf("Expected %d events, got %d", len(types), len(events))
	}

	for i, expectedType := range types {
		actualType := typeName(events[i])
		if actualType != expectedType {
			t.Errorf("Event %d: expected type %s, got %s", i, expectedType, actualType)
		}
	}
}

// AssertEventData checks that an event is a T equal to expected.
func AssertEventData[T stoat.Event](t TB, event stoat.Event, expected T) {
	t.Helper()

	actual, ok := event.(T)
	if !ok {
		t.Fatalf("Event is not of expected type %T, got %T", expected, event)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("Event data mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// AssertEventCount checks the number of events.
func AssertEventCount(t TB, events []stoat.Event, expected int) {
	t.Helper()

	if len(events) != expected {
		t.Errorf("Expected %d events, got %d", expected, len(events))
	}
}

// AssertNoEvents checks that no events were produced.
func AssertNoEvents(t TB, events []stoat.Event) {
	t.Helper()

	if len(events) > 0 {
		t.Errorf("Expected no events, got %d: %+v", len(events), events)
	}
}

// AssertFirstEvent checks the first event.
func AssertFirstEvent[T stoat.Event](t TB, events []stoat.Event, expected T) {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("Expected at least one event, got none")
	}

	AssertEventData(t, events[0], expected)
}

// AssertLastEvent checks the last event.
func AssertLastEvent[T stoat.Event](t TB, events []stoat.Event, expected T) {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("Expected at least one event, got none")
	}

	AssertEventData(t, events[len(events)-1], expected)
}

// AssertEventAtIndex checks the event at index.
func AssertEventAtIndex[T stoat.Event](t TB, events []stoat.Event, index int, expected T) {
	t.Helper()

	if index < 0 || index >= len(events) {
		t.Fatalf("Index %d out of bounds, have %d events", index, len(events))
	}

	AssertEventData(t, events[index], expected)
}

// AssertContainsEvent checks that some event equals expected.
func AssertContainsEvent[T stoat.Event](t TB, events []stoat.Event, expected T) {
	t.Helper()

	if CountMatches(events, MatchEvent(expected)) == 0 {
		t.Errorf("Events do not contain expected event: %+v", expected)
	}
}

// AssertContainsEventType checks that at least one event has the type.
func AssertContainsEventType(t TB, events []stoat.Event, eventType string) {
	t.Helper()

	if CountMatches(events, MatchEventType(eventType)) == 0 {
		t.Errorf("Events do not contain event of type %s", eventType)
	}
}

// EventDiff represents a difference between expected and actual events.
type EventDiff struct {
	Index    int
	Expected stoat.Event
	Actual   stoat.Event
	Type     DiffType
}

// DiffType represents the type of difference.
type DiffType int

const (
	// DiffMissing indicates an expected event was not present.
	DiffMissing DiffType = iota
	// DiffExtra indicates an unexpected event was present.
	DiffExtra
	// DiffMismatch indicates event data did not match.
	DiffMismatch
)

// String returns a human-readable representation of the diff type.
func (d DiffType) String() string {
	switch d {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// DiffEvents compares two event slices position by position.
func DiffEvents(expected, actual []stoat.Event) []EventDiff {
	var diffs []EventDiff

	n := max(len(expected), len(actual))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: actual[i], Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Type: DiffMissing})
		case !reflect.DeepEqual(expected[i], actual[i]):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Actual: actual[i], Type: DiffMismatch})
		}
	}

	return diffs
}

// FormatDiffs formats event diffs as a human-readable string.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var buf strings.Builder
	buf.WriteString("Event differences:\n")
	for _, diff := range diffs {
		buf.WriteString(formatDiff(diff))
	}
	return buf.String()
}

func formatDiff(diff EventDiff) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "  Event %d (%s):\n", diff.Index, diff.Type)

	switch diff.Type {
	case DiffExtra:
		fmt.Fprintf(&buf, "    + %s %+v (unexpected)\n", typeName(diff.Actual), diff.Actual)
	case DiffMissing:
		fmt.Fprintf(&buf, "    - %s %+v (missing)\n", typeName(diff.Expected), diff.Expected)
	case DiffMismatch:
		fmt.Fprintf(&buf, "    - %s %+v\n", typeName(diff.Expected), diff.Expected)
		fmt.Fprintf(&buf, "    + %s %+v\n", typeName(diff.Actual), diff.Actual)
	}

	return buf.String()
}

// AssertEventsEqual compares two event slices and fails if they differ.
func AssertEventsEqual(t TB, expected, actual []stoat.Event) {
	t.Helper()

	if diffs := DiffEvents(expected, actual); len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}

// AssertEventsMatch checks that actual starts with expected, allowing extra
// events at the end.
func AssertEventsMatch(t TB, expected, actual []stoat.Event) {
	t.Helper()

	if len(actual) < len(expected) {
		t.Fatalf("Expected at least %d events, got %d", len(expected), len(actual))
	}

	for i, exp := range expected {
		if !reflect.DeepEqual(exp, actual[i]) {
			t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v", i, exp, actual[i])
		}
	}
}

func typeName(e stoat.Event) string {
	if e == nil {
		return "<nil>"
	}
	return e.EventType()
}

// EventMatcher is a function that checks if an event matches certain criteria.
type EventMatcher func(event stoat.Event) bool

// MatchEventType returns a matcher that checks the EventType name.
func MatchEventType(eventType string) EventMatcher {
	return func(event stoat.Event) bool {
		return typeName(event) == eventType
	}
}

// MatchEvent returns a matcher that checks for exact event equality.
func MatchEvent[T stoat.Event](expected T) EventMatcher {
	return func(event stoat.Event) bool {
		actual, ok := event.(T)
		return ok && reflect.DeepEqual(actual, expected)
	}
}

// AssertAnyMatch checks that at least one event matches the matcher.
func AssertAnyMatch(t TB, events []stoat.Event, matcher EventMatcher) {
	t.Helper()

	if CountMatches(events, matcher) == 0 {
		t.Error("No event matched the criteria")
	}
}

// AssertAllMatch checks that all events match the matcher.
func AssertAllMatch(t TB, events []stoat.Event, matcher EventMatcher) {
	t.Helper()

	for i, event := range events {
		if !matcher(event) {
			t.Errorf("Event %d did not match: %+v", i, event)
		}
	}
}

// AssertNoneMatch checks that no events match the matcher.
func AssertNoneMatch(t TB, events []stoat.Event, matcher EventMatcher) {
	t.Helper()

	for i, event := range events {
		if matcher(event) {
			t.Errorf("Event %d unexpectedly matched: %+v", i, event)
		}
	}
}

// CountMatches returns the number of events that match the matcher.
func CountMatches(events []stoat.Event, matcher EventMatcher) int {
	count := 0
	for _, event := range events {
		if matcher(event) {
			count++
		}
	}
	return count
}

// FilterEvents returns events that match the matcher.
func FilterEvents(events []stoat.Event, matcher EventMatcher) []stoat.Event {
	var result []stoat.Event
	for _, event := range events {
		if matcher(event) {
			result = append(result, event)
		}
	}
	return result
}

// =============================================================================
// Envelope assertions
// =============================================================================

// Payloads returns the payload of each envelope.
func Payloads(envelopes []stoat.Envelope) []stoat.Event {
	events := make([]stoat.Event, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Payload
	}
	return events
}

// AssertSequences checks that envelopes of a single stream carry
// consecutive sequences starting at from, and that EventType agrees with
// the payload.
func AssertSequences(t TB, envelopes []stoat.Envelope, from uint64) {
	t.Helper()

	for i, env := range envelopes {
		if want := from + uint64(i); env.Sequence != want {
			t.Errorf("Envelope %d: expected sequence %d, got %d", i, want, env.Sequence)
		}
		if i > 0 && env.StreamID != envelopes[0].StreamID {
			t.Errorf("Envelope %d: expected stream %s, got %s", i, envelopes[0].StreamID, env.StreamID)
		}
		if env.Payload != nil && env.EventType != env.Payload.EventType() {
			t.Errorf("Envelope %d: type %s does not match payload %s", i, env.EventType, env.Payload.EventType())
		}
	}
}

// AssertCorrelated checks that every envelope carries the correlation id
// and acting user of cc.
func AssertCorrelated(t TB, envelopes []stoat.Envelope, cc stoat.CommandContext) {
	t.Helper()

	for i, env := range envelopes {
		if env.CorrelationID != cc.CorrelationID() {
			t.Errorf("Envelope %d: expected correlation %s, got %s", i, cc.CorrelationID(), env.CorrelationID)
		}
		if env.UserID != cc.CurrentUser() {
			t.Errorf("Envelope %d: expected user %s, got %s", i, cc.CurrentUser(), env.UserID)
		}
	}
}

// AssertMetadata checks that every envelope carries the key with value.
func AssertMetadata(t TB, envelopes []stoat.Envelope, key, value string) {
	t.Helper()

	for i, env := range envelopes {
		got, ok := env.Metadata[key]
		if !ok {
			t.Errorf("Envelope %d: metadata %q missing", i, key)
			continue
		}
		if got != value {
			t.Errorf("Envelope %d: metadata %q: expected %q, got %q", i, key, value, got)
		}
	}
}
