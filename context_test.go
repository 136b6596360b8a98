package stoat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandContext(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cc := NewCommandContext()

		assert.Equal(t, AnonymousUser, cc.CurrentUser())
		assert.Empty(t, cc.RequestID())
		assert.Empty(t, cc.CausationID())
		_, err := uuid.Parse(cc.CorrelationID())
		assert.NoError(t, err)
		assert.WithinDuration(t, time.Now(), cc.Now(), time.Minute)
	})

	t.Run("correlation falls back to request id", func(t *testing.T) {
		cc := NewCommandContext(WithRequestID("req-1"))
		assert.Equal(t, "req-1", cc.CorrelationID())

		cc = NewCommandContext(WithRequestID("req-1"), WithCorrelationID("corr-1"))
		assert.Equal(t, "corr-1", cc.CorrelationID())
	})

	t.Run("empty user is anonymous", func(t *testing.T) {
		assert.Equal(t, AnonymousUser, NewCommandContext(WithUser("")).CurrentUser())
		assert.Equal(t, AnonymousUser, CommandContext{}.CurrentUser())
	})

	t.Run("fixed clock", func(t *testing.T) {
		now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		cc := NewCommandContext(WithNow(now))
		assert.Equal(t, now, cc.Now())
		assert.Equal(t, now, cc.Now())
	})
}

func TestCommandContext_NextUUID(t *testing.T) {
	t.Run("zero bytes", func(t *testing.T) {
		cc := NewCommandContext(WithRandBytes([16]byte{}))
		assert.Equal(t, "00000000-0000-4000-8000-000000000000", cc.NextUUID())
		assert.Equal(t, cc.NextUUID(), cc.NextUUID())
	})

	t.Run("fixed bytes set version and variant", func(t *testing.T) {
		var b [16]byte
		for i := range b {
			b[i] = 0xff
		}
		id, err := uuid.Parse(NewCommandContext(WithRandBytes(b)).NextUUID())
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), id.Version())
		assert.Equal(t, uuid.RFC4122, id.Variant())
	})

	t.Run("random by default", func(t *testing.T) {
		cc := NewCommandContext()
		assert.NotEqual(t, cc.NextUUID(), cc.NextUUID())
	})
}

func TestCommandContext_Copies(t *testing.T) {
	cc := NewCommandContext(WithUser("alice"), WithCausationID("c1"))

	child := cc.WithCausation("c2").WithActingUser("system")

	assert.Equal(t, "c1", cc.CausationID())
	assert.Equal(t, "alice", cc.CurrentUser())
	assert.Equal(t, "c2", child.CausationID())
	assert.Equal(t, "system", child.CurrentUser())
	assert.Equal(t, cc.CorrelationID(), child.CorrelationID())
}

func TestCommandContextFrom(t *testing.T) {
	_, ok := CommandContextFrom(context.Background())
	assert.False(t, ok)

	cc := NewCommandContext(WithRequestID("req-1"))
	got, ok := CommandContextFrom(WithCommandContext(context.Background(), cc))
	require.True(t, ok)
	assert.Equal(t, "req-1", got.RequestID())
}
