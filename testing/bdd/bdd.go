// Package bdd provides BDD-style test fixtures for stoat aggregates and
// command handlers. It enables expressive Given-When-Then tests for command
// handling, either against the handler alone or through a full Engine.
package bdd

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers/memory"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// DefaultAggregateID is the id Given streams are folded under.
const DefaultAggregateID = "bdd-aggregate"

// Scenario tests a command handler without storage. Given events are folded
// onto the aggregate's default state, the command runs against that state,
// and the produced events can be asserted on.
type Scenario[S, C, U any] struct {
	t         TB
	ctx       context.Context
	cc        stoat.CommandContext
	aggregate stoat.Aggregate[S]
	handler   stoat.CommandHandler[S, C, U]
	id        string
	given     []stoat.Event

	state    S
	produced []stoat.Event
	err      error
	executed bool
}

// Given starts a scenario whose history is events.
func Given[S, C, U any](t TB, aggregate stoat.Aggregate[S], handler stoat.CommandHandler[S, C, U], events ...stoat.Event) *Scenario[S, C, U] {
	t.Helper()
	return &Scenario[S, C, U]{
		t:         t,
		ctx:       context.Background(),
		cc:        stoat.NewCommandContext(),
		aggregate: aggregate,
		handler:   handler,
		id:        DefaultAggregateID,
		given:     events,
	}
}

// WithID sets the aggregate id the history belongs to.
func (s *Scenario[S, C, U]) WithID(id string) *Scenario[S, C, U] {
	s.id = id
	return s
}

// WithContext sets the context passed to the handler.
func (s *Scenario[S, C, U]) WithContext(ctx context.Context) *Scenario[S, C, U] {
	s.ctx = ctx
	return s
}

// WithCommandContext sets the command context passed to the handler.
func (s *Scenario[S, C, U]) WithCommandContext(cc stoat.CommandContext) *Scenario[S, C, U] {
	s.cc = cc
	return s
}

// WhenCreate runs a create command. Given events are ignored: a create
// always starts from the default state.
func (s *Scenario[S, C, U]) WhenCreate(cmd C) *Scenario[S, C, U] {
	s.t.Helper()

	s.state = s.aggregate.Default(s.id)
	s.err = validate(cmd)
	if s.err == nil {
		s.produced, s.err = s.handler.HandleCreate(s.ctx, cmd, s.cc)
	}
	s.finish()
	return s
}

// WhenUpdate runs an update command against the folded history.
func (s *Scenario[S, C, U]) WhenUpdate(cmd U) *Scenario[S, C, U] {
	s.t.Helper()

	state, err := stoat.Fold(s.aggregate, s.aggregate.Default(s.id), s.given)
	if err != nil {
		s.t.Fatalf("bdd: failed to apply given events: %v", err)
	}
	s.state = state

	s.err = validate(cmd)
	if s.err == nil {
		s.produced, s.err = s.handler.HandleUpdate(s.ctx, state, cmd, s.cc)
	}
	s.finish()
	return s
}

func (s *Scenario[S, C, U]) finish() {
	s.t.Helper()
	s.executed = true
	if s.err != nil {
		s.produced = nil
		return
	}
	next, err := stoat.Fold(s.aggregate, s.state, s.produced)
	if err != nil {
		s.err = err
		return
	}
	s.state = next
}

// Then asserts that the command produced exactly the expected events.
func (s *Scenario[S, C, U]) Then(expected ...stoat.Event) *Scenario[S, C, U] {
	s.t.Helper()
	s.mustHaveRun("Then")
	if s.err != nil {
		s.t.Fatalf("Expected success but got error: %v", s.err)
	}
	assertEvents(s.t, expected, s.produced)
	return s
}

// ThenNoEvents asserts that the command succeeded without producing events.
func (s *Scenario[S, C, U]) ThenNoEvents() *Scenario[S, C, U] {
	s.t.Helper()
	s.mustHaveRun("ThenNoEvents")
	if s.err != nil {
		s.t.Fatalf("Expected success but got error: %v", s.err)
	}
	if len(s.produced) > 0 {
		s.t.Errorf("Expected no events, got %d: %+v", len(s.produced), s.produced)
	}
	return s
}

// ThenState asserts the state after applying the produced events.
func (s *Scenario[S, C, U]) ThenState(expected S) *Scenario[S, C, U] {
	s.t.Helper()
	s.mustHaveRun("ThenState")
	if s.err != nil {
		s.t.Fatalf("Expected success but got error: %v", s.err)
	}
	if !reflect.DeepEqual(s.state, expected) {
		s.t.Errorf("State mismatch:\nExpected: %+v\nActual: %+v", expected, s.state)
	}
	return s
}

// ThenError asserts that the command failed with an error matching target.
func (s *Scenario[S, C, U]) ThenError(target error) {
	s.t.Helper()
	s.mustHaveRun("ThenError")
	assertErrorIs(s.t, s.err, target)
}

// ThenErrorKind asserts the classified kind of the failure.
func (s *Scenario[S, C, U]) ThenErrorKind(kind stoat.Kind) {
	s.t.Helper()
	s.mustHaveRun("ThenErrorKind")
	assertKind(s.t, s.err, kind)
}

// ThenErrorCode asserts that the failure carries code.
func (s *Scenario[S, C, U]) ThenErrorCode(code stoat.ErrorCode) {
	s.t.Helper()
	s.mustHaveRun("ThenErrorCode")
	assertCode(s.t, s.err, code)
}

// ThenErrorContains asserts that the error message contains a substring.
func (s *Scenario[S, C, U]) ThenErrorContains(substring string) {
	s.t.Helper()
	s.mustHaveRun("ThenErrorContains")
	assertContains(s.t, s.err, substring)
}

// Produced returns the events the command produced.
func (s *Scenario[S, C, U]) Produced() []stoat.Event {
	return s.produced
}

// Err returns the command error.
func (s *Scenario[S, C, U]) Err() error {
	return s.err
}

func (s *Scenario[S, C, U]) mustHaveRun(step string) {
	s.t.Helper()
	if !s.executed {
		s.t.Fatalf("bdd: %s() must be called after a When step - no command was executed", step)
	}
}

// EngineScenario drives commands through an Engine so middleware, storage
// and dispatch take part. Committed envelopes are captured by a recorder
// dispatcher appended to the engine.
type EngineScenario[S, C, U any] struct {
	t        TB
	ctx      context.Context
	cc       stoat.CommandContext
	engine   *stoat.Engine[S, C, U]
	recorder *memory.Recorder
	metadata map[string]string

	id       string
	err      error
	executed bool
}

// GivenEngine starts an engine scenario. The engine gains a recorder
// dispatcher for the rest of its life.
func GivenEngine[S, C, U any](t TB, engine *stoat.Engine[S, C, U]) *EngineScenario[S, C, U] {
	t.Helper()
	recorder := memory.NewRecorder()
	engine.AppendDispatcher(recorder)
	return &EngineScenario[S, C, U]{
		t:        t,
		ctx:      context.Background(),
		cc:       stoat.NewCommandContext(),
		engine:   engine,
		recorder: recorder,
	}
}

// WithContext sets a custom context for command execution.
func (f *EngineScenario[S, C, U]) WithContext(ctx context.Context) *EngineScenario[S, C, U] {
	f.ctx = ctx
	return f
}

// WithCommandContext sets the command context used for every command.
func (f *EngineScenario[S, C, U]) WithCommandContext(cc stoat.CommandContext) *EngineScenario[S, C, U] {
	f.cc = cc
	return f
}

// WithMetadata attaches metadata to the envelopes of the next command.
func (f *EngineScenario[S, C, U]) WithMetadata(metadata map[string]string) *EngineScenario[S, C, U] {
	f.metadata = metadata
	return f
}

// WithExistingEvents commits history for id before the command runs.
// The event types must be known to the store's serializer.
func (f *EngineScenario[S, C, U]) WithExistingEvents(id string, events ...stoat.Event) *EngineScenario[S, C, U] {
	f.t.Helper()
	store := f.engine.Store()
	_, version, err := store.Load(f.ctx, id)
	if err != nil {
		f.t.Fatalf("bdd: failed to load %s: %v", id, err)
	}
	if _, err := store.Commit(f.ctx, id, version, events, f.cc); err != nil {
		f.t.Fatalf("bdd: failed to store given events: %v", err)
	}
	return f
}

// WhenCreate runs a create command.
func (f *EngineScenario[S, C, U]) WhenCreate(cmd C) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.recorder.Clear()
	f.id, f.err = f.engine.CreateWithMetadata(f.ctx, cmd, f.metadata, f.cc)
	f.settle()
	return f
}

// WhenUpdate runs an update command against id.
func (f *EngineScenario[S, C, U]) WhenUpdate(id string, cmd U) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.recorder.Clear()
	f.id = id
	f.err = f.engine.UpdateWithMetadata(f.ctx, id, cmd, f.metadata, f.cc)
	f.settle()
	return f
}

func (f *EngineScenario[S, C, U]) settle() {
	f.t.Helper()
	f.executed = true
	f.metadata = nil
	if err := f.engine.Drain(f.ctx); err != nil {
		f.t.Fatalf("bdd: dispatch did not drain: %v", err)
	}
}

// ThenSucceeds asserts the command succeeded.
func (f *EngineScenario[S, C, U]) ThenSucceeds() *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenSucceeds")
	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}
	return f
}

// ThenFails asserts the command failed with an error matching target.
func (f *EngineScenario[S, C, U]) ThenFails(target error) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenFails")
	assertErrorIs(f.t, f.err, target)
	return f
}

// ThenFailsWithKind asserts the classified kind of the failure.
func (f *EngineScenario[S, C, U]) ThenFailsWithKind(kind stoat.Kind) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenFailsWithKind")
	assertKind(f.t, f.err, kind)
	return f
}

// ThenFailsWithCode asserts that the failure carries code.
func (f *EngineScenario[S, C, U]) ThenFailsWithCode(code stoat.ErrorCode) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenFailsWithCode")
	assertCode(f.t, f.err, code)
	return f
}

// ThenEvents asserts the payloads dispatched for the command.
func (f *EngineScenario[S, C, U]) ThenEvents(expected ...stoat.Event) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenEvents")
	envelopes := f.recorder.Events(f.id)
	actual := make([]stoat.Event, len(envelopes))
	for i, env := range envelopes {
		actual[i] = env.Payload
	}
	assertEvents(f.t, expected, actual)
	return f
}

// ThenNoEvents asserts that nothing was dispatched.
func (f *EngineScenario[S, C, U]) ThenNoEvents() *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenNoEvents")
	if n := f.recorder.Count(); n > 0 {
		f.t.Errorf("Expected no events, got %d", n)
	}
	return f
}

// ThenReturnsAggregateID asserts the id the command ran against.
func (f *EngineScenario[S, C, U]) ThenReturnsAggregateID(expected string) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenReturnsAggregateID")
	if f.id != expected {
		f.t.Errorf("Expected aggregate ID %q, got %q", expected, f.id)
	}
	return f
}

// ThenVersion asserts the stream version after the command.
func (f *EngineScenario[S, C, U]) ThenVersion(expected uint64) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenVersion")
	var version uint64
	if f.id != "" {
		var err error
		if _, version, err = f.engine.Store().Load(f.ctx, f.id); err != nil {
			f.t.Fatalf("bdd: failed to load %s: %v", f.id, err)
		}
	}
	if version != expected {
		f.t.Errorf("Expected version %d, got %d", expected, version)
	}
	return f
}

// ThenState asserts the loaded aggregate state.
func (f *EngineScenario[S, C, U]) ThenState(expected S) *EngineScenario[S, C, U] {
	f.t.Helper()
	f.mustHaveRun("ThenState")
	state, _, err := f.engine.Store().Load(f.ctx, f.id)
	if err != nil {
		f.t.Fatalf("bdd: failed to load %s: %v", f.id, err)
	}
	if !reflect.DeepEqual(state, expected) {
		f.t.Errorf("State mismatch:\nExpected: %+v\nActual: %+v", expected, state)
	}
	return f
}

// AggregateID returns the id of the last command's aggregate.
func (f *EngineScenario[S, C, U]) AggregateID() string {
	return f.id
}

// Envelopes returns the envelopes dispatched for the last command.
func (f *EngineScenario[S, C, U]) Envelopes() []stoat.Envelope {
	return f.recorder.Events(f.id)
}

// Err returns the last command error.
func (f *EngineScenario[S, C, U]) Err() error {
	return f.err
}

func (f *EngineScenario[S, C, U]) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s() must be called after a When step - no command was executed", step)
	}
}

func validate(cmd any) error {
	if v, ok := cmd.(stoat.Validator); ok {
		return v.Validate()
	}
	return nil
}

func assertEvents(t TB, expected, actual []stoat.Event) {
	t.Helper()
	if len(actual) != len(expected) {
		t.Fatalf("Expected %d events, got %d.\nExpected: %+v\nActual: %+v",
			len(expected), len(actual), expected, actual)
	}
	for i := range expected {
		if !reflect.DeepEqual(actual[i], expected[i]) {
			t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v", i, expected[i], actual[i])
		}
	}
}

func assertErrorIs(t TB, err, target error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got success")
	}
	if !errors.Is(err, target) {
		t.Errorf("Expected error %v, got %v", target, err)
	}
}

func assertKind(t TB, err error, kind stoat.Kind) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got success")
	}
	if got := stoat.KindOf(err); got != kind {
		t.Errorf("Expected error kind %s, got %s (%v)", kind, got, err)
	}
}

func assertCode(t TB, err error, code stoat.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got success")
	}
	if !stoat.HasCode(err, code) {
		t.Errorf("Expected error code %s, got %v", code, err)
	}
}

func assertContains(t TB, err error, substring string) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got success")
	}
	if !strings.Contains(err.Error(), substring) {
		t.Errorf("Expected error containing %q, got %q", substring, err.Error())
	}
}
