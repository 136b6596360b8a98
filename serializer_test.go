package stoat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renamed struct {
	Name string `json:"name"`
}

func (*renamed) EventType() string { return "Renamed" }

func TestEventRegistry(t *testing.T) {
	r := NewEventRegistry()
	r.Register(deposited{}, &renamed{})

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"Deposited", "Renamed"}, r.RegisteredTypes())

	typ, ok := r.Lookup("Renamed")
	require.True(t, ok)
	assert.Equal(t, "renamed", typ.Name())

	_, ok = r.Lookup("Unknown")
	assert.False(t, ok)
}

func TestJSONSerializer(t *testing.T) {
	s := NewJSONSerializer()
	s.Register(deposited{}, &renamed{})

	t.Run("value events roundtrip as values", func(t *testing.T) {
		data, err := s.Serialize(deposited{Amount: 5})
		require.NoError(t, err)
		assert.JSONEq(t, `{"amount":5}`, string(data))

		ev, err := s.Deserialize(data, "Deposited")
		require.NoError(t, err)
		assert.Equal(t, deposited{Amount: 5}, ev)
	})

	t.Run("pointer events roundtrip as pointers", func(t *testing.T) {
		data, err := s.Serialize(&renamed{Name: "x"})
		require.NoError(t, err)

		ev, err := s.Deserialize(data, "Renamed")
		require.NoError(t, err)
		assert.Equal(t, &renamed{Name: "x"}, ev)
	})

	t.Run("unregistered type", func(t *testing.T) {
		_, err := s.Deserialize([]byte(`{}`), "Withdrawn")
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
	})

	t.Run("bad payload", func(t *testing.T) {
		_, err := s.Deserialize([]byte(`{"amount":"x"}`), "Deposited")
		assert.ErrorIs(t, err, ErrSerializationFailed)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "deserialize", se.Operation)
	})

	t.Run("empty payload and nil event", func(t *testing.T) {
		_, err := s.Deserialize(nil, "Deposited")
		assert.ErrorIs(t, err, ErrSerializationFailed)

		_, err = s.Serialize(nil)
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})
}

func TestJSONCodec(t *testing.T) {
	var c StateCodec = JSONCodec{}

	data, err := c.Marshal(account{ID: "a", Balance: 3})
	require.NoError(t, err)

	var out account
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, account{ID: "a", Balance: 3}, out)
	assert.True(t, json.Valid(data))
}
