// Package stoat provides an event-sourcing and CQRS runtime for Go.
//
// Aggregate state is never stored directly. Each aggregate instance owns an
// append-only stream of envelopes, and its current state is the left fold of
// those envelopes from a default value. Commands are turned into new events
// by a handler, committed under an optimistic concurrency check, and then
// handed to dispatchers that build read models or notify other systems.
//
// # Defining an Aggregate
//
// An aggregate is a pure state machine over a state value:
//
//	type Account struct {
//	    ID      string
//	    Balance int64
//	}
//
//	type AccountAggregate struct{}
//
//	func (AccountAggregate) AggregateType() string      { return "Account" }
//	func (AccountAggregate) Default(id string) Account  { return Account{ID: id} }
//	func (AccountAggregate) Identity(s Account) string  { return s.ID }
//
//	func (AccountAggregate) Apply(s Account, e stoat.Event) (Account, error) {
//	    switch ev := e.(type) {
//	    case Opened:
//	    case Deposited:
//	        s.Balance += ev.Amount
//	    default:
//	        return s, fmt.Errorf("unexpected event %s", e.EventType())
//	    }
//	    return s, nil
//	}
//
// Events name themselves with EventType and are registered with the store's
// serializer so they can be decoded on replay.
//
// # Handling Commands
//
// A CommandHandler validates a command against the current state and returns
// new events. It never mutates state:
//
//	func (h Handler) HandleUpdate(ctx context.Context, s Account, cmd Withdraw, cc stoat.CommandContext) ([]stoat.Event, error) {
//	    if s.Balance < cmd.Amount {
//	        return nil, bankErrors.Code("INSUFFICIENT_FUNDS").New("balance too low")
//	    }
//	    return []stoat.Event{Withdrawn{Amount: cmd.Amount}}, nil
//	}
//
// # Running the Engine
//
//	adapter := memory.NewAdapter()
//	store := stoat.NewEventStore[Account](adapter, AccountAggregate{})
//	store.RegisterEvents(Opened{}, Deposited{}, Withdrawn{})
//
//	engine := stoat.NewEngine[Account, Open, Withdraw](store, Handler{},
//	    stoat.WithDispatchers(projection),
//	    stoat.WithErrorHandler(func(err error) { log.Println(err) }),
//	)
//
//	id, err := engine.Create(ctx, Open{Owner: "alice"}, stoat.NewCommandContext())
//	err = engine.Update(ctx, id, Withdraw{Amount: 10}, stoat.NewCommandContext())
//
// Every error returned by the engine is a *CqrsError. Use errors.Is with
// ErrConcurrencyConflict, ErrNotFound, ErrAlreadyExists, ErrStorageUnavailable,
// ErrCorruption, ErrValidationRejected or ErrDomain to branch on its kind.
//
// # Storage Backends
//
// Backends implement adapters.EventStoreAdapter: memory, postgres, sqlite
// and badger ship with the module.
package stoat

// Version returns the current version of stoat.
func Version() string {
	return "0.1.0"
}

// BuildStreamID creates a stream ID from aggregate type and ID.
func BuildStreamID(aggregateType, aggregateID string) string {
	return aggregateType + "-" + aggregateID
}
