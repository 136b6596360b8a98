package stoat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainValidated struct{ ok bool }

func (c plainValidated) Validate() error {
	if !c.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, validateCommand(moveCmd{}))
	assert.NoError(t, validateCommand(plainValidated{ok: true}))

	err := validateCommand(plainValidated{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationRejected)
	assert.Equal(t, KindValidationRejected, KindOf(err))

	err = validateCommand(openCmd{})
	var ce *CqrsError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, map[string]string{"field": "owner"}, ce.Details)

	t.Run("structured errors keep their code", func(t *testing.T) {
		err := validateCommand(structuredValidated{})
		assert.True(t, HasCode(err, GenericConflict))
	})
}

type structuredValidated struct{}

func (structuredValidated) Validate() error { return Conflict("taken") }

func TestCommandTypeOf(t *testing.T) {
	assert.Equal(t, "Move", CommandTypeOf(moveCmd{}))
	assert.Equal(t, "openCmd", CommandTypeOf(openCmd{}))
	assert.Equal(t, "openCmd", CommandTypeOf(&openCmd{}))
	assert.Equal(t, "nil", CommandTypeOf(nil))
	assert.Equal(t, "[]string", CommandTypeOf([]string{}))
}

func TestHandlerFuncs(t *testing.T) {
	ctx := context.Background()
	cc := NewCommandContext()

	h := HandlerFuncs[account, openCmd, moveCmd]{
		Create: func(_ context.Context, cmd openCmd, _ CommandContext) ([]Event, error) {
			return []Event{opened{Owner: cmd.Owner}}, nil
		},
	}

	events, err := h.HandleCreate(ctx, openCmd{Owner: "a"}, cc)
	require.NoError(t, err)
	assert.Equal(t, []Event{opened{Owner: "a"}}, events)

	_, err = h.HandleUpdate(ctx, account{}, moveCmd{}, cc)
	assert.ErrorIs(t, err, ErrValidationRejected)

	t.Run("drives an engine", func(t *testing.T) {
		store, _ := newAccountStore()
		engine := NewEngine[account, openCmd, moveCmd](store, h)
		id, err := engine.Create(ctx, openCmd{Owner: "a"}, cc)
		require.NoError(t, err)

		err = engine.Update(ctx, id, moveCmd{Deposit: 1}, cc)
		assert.ErrorIs(t, err, ErrValidationRejected)
	})
}
