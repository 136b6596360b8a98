package stoat

import (
	"context"
	"reflect"
)

// CommandHandler turns commands into events. It never mutates state: the
// engine folds the returned events afterwards. Services the handler needs
// (clocks, repositories, clients) are fields of the implementing type.
//
// Errors should be *CqrsError or implement CqrsErrorer; anything else is
// reported as an opaque domain error with the original kept as its cause.
type CommandHandler[S, C, U any] interface {
	// HandleCreate is called only when no stream exists for the new id.
	HandleCreate(ctx context.Context, cmd C, cc CommandContext) ([]Event, error)

	// HandleUpdate is called with freshly replayed state. Zero events is an
	// accepted no-op.
	HandleUpdate(ctx context.Context, state S, cmd U, cc CommandContext) ([]Event, error)
}

// Validator is implemented by commands that can check themselves before
// reaching the handler. A failure is reported as ValidationRejected.
type Validator interface {
	Validate() error
}

// Typed is implemented by commands that name themselves for logs and metrics.
type Typed interface {
	CommandType() string
}

// HandlerFuncs adapts two functions to a CommandHandler.
type HandlerFuncs[S, C, U any] struct {
	Create func(ctx context.Context, cmd C, cc CommandContext) ([]Event, error)
	Update func(ctx context.Context, state S, cmd U, cc CommandContext) ([]Event, error)
}

// HandleCreate implements CommandHandler.
func (h HandlerFuncs[S, C, U]) HandleCreate(ctx context.Context, cmd C, cc CommandContext) ([]Event, error) {
	if h.Create == nil {
		return nil, Validation("create is not supported")
	}
	return h.Create(ctx, cmd, cc)
}

// HandleUpdate implements CommandHandler.
func (h HandlerFuncs[S, C, U]) HandleUpdate(ctx context.Context, state S, cmd U, cc CommandContext) ([]Event, error) {
	if h.Update == nil {
		return nil, Validation("update is not supported")
	}
	return h.Update(ctx, state, cmd, cc)
}

// CommandTypeOf names a command: its CommandType if it has one, otherwise
// the name of its Go type.
func CommandTypeOf(cmd any) string {
	if t, ok := cmd.(Typed); ok {
		return t.CommandType()
	}
	t := reflect.TypeOf(cmd)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

func validateCommand(cmd any) error {
	v, ok := cmd.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		ce := classifyHandler(err)
		if ce.Kind == KindDomain && ce.Matches(InfraDomainError) {
			ce = InfraValidationFailed.New(err.Error()).WithKind(KindValidationRejected).WithCause(err)
		}
		return ce
	}
	return nil
}
