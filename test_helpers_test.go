package stoat

// Shared test doubles and fixtures for package tests.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
)

// =============================================================================
// Shared Test Logger
// =============================================================================

type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errorLogs...)
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnLogs...)
}

// =============================================================================
// Account fixture
// =============================================================================

type opened struct {
	Owner string `json:"owner"`
}

func (opened) EventType() string { return "Opened" }

type deposited struct {
	Amount int64 `json:"amount"`
}

func (deposited) EventType() string { return "Deposited" }

type withdrawn struct {
	Amount int64 `json:"amount"`
}

func (withdrawn) EventType() string { return "Withdrawn" }

// poison is never accepted by the aggregate.
type poison struct{}

func (poison) EventType() string { return "Poison" }

type account struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

type accountAggregate struct{}

func (accountAggregate) AggregateType() string     { return "acct" }
func (accountAggregate) Default(id string) account { return account{ID: id} }
func (accountAggregate) Identity(a account) string { return a.ID }

func (accountAggregate) Apply(a account, e Event) (account, error) {
	switch ev := e.(type) {
	case opened:
		a.Owner = ev.Owner
	case deposited:
		a.Balance += ev.Amount
	case withdrawn:
		if ev.Amount > a.Balance {
			return a, fmt.Errorf("overdrawn by %d", ev.Amount-a.Balance)
		}
		a.Balance -= ev.Amount
	default:
		return a, fmt.Errorf("unexpected event %s", e.EventType())
	}
	return a, nil
}

type openCmd struct {
	Owner string
}

func (c openCmd) Validate() error {
	if c.Owner == "" {
		return NewValidationError("owner", "owner is required")
	}
	return nil
}

type moveCmd struct {
	Deposit  int64
	Withdraw int64
	Events   []Event
	Err      error
	Panic    bool
}

func (moveCmd) CommandType() string { return "Move" }

var errInsufficient = errors.New("insufficient funds")

type accountHandler struct{}

func (accountHandler) HandleCreate(_ context.Context, cmd openCmd, _ CommandContext) ([]Event, error) {
	if cmd.Owner == "nobody" {
		return nil, nil
	}
	return []Event{opened{Owner: cmd.Owner}}, nil
}

func (accountHandler) HandleUpdate(_ context.Context, a account, cmd moveCmd, _ CommandContext) ([]Event, error) {
	switch {
	case cmd.Panic:
		panic("handler exploded")
	case cmd.Err != nil:
		return nil, cmd.Err
	case cmd.Events != nil:
		return cmd.Events, nil
	case cmd.Withdraw > a.Balance:
		return nil, errInsufficient
	case cmd.Withdraw > 0:
		return []Event{withdrawn{Amount: cmd.Withdraw}}, nil
	case cmd.Deposit > 0:
		return []Event{deposited{Amount: cmd.Deposit}}, nil
	}
	return nil, nil
}

func newAccountStore(opts ...StoreOption) (*EventStore[account], *memory.MemoryAdapter) {
	adapter := memory.NewAdapter()
	store := NewEventStore[account](adapter, accountAggregate{}, opts...)
	store.RegisterEvents(opened{}, deposited{}, withdrawn{}, poison{})
	return store, adapter
}

func newAccountEngine(opts ...EngineOption) (*Engine[account, openCmd, moveCmd], *memory.MemoryAdapter) {
	store, adapter := newAccountStore()
	return NewEngine[account, openCmd, moveCmd](store, accountHandler{}, opts...), adapter
}

// recorder is a Dispatcher that keeps every batch it sees.
type recorder struct {
	name string
	err  error

	mu      sync.Mutex
	batches [][]Envelope
	order   *[]string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Dispatch(_ context.Context, _ string, envelopes []Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, envelopes)
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	return r.err
}

func (r *recorder) seen() [][]Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Envelope(nil), r.batches...)
}

// errorSink collects dispatch failures passed to the ErrorHandler.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}
