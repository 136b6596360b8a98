package stoat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	agg := accountAggregate{}

	t.Run("applies in order", func(t *testing.T) {
		s, err := Replay[account](agg, "a1", []Event{opened{Owner: "alice"}, deposited{Amount: 10}, withdrawn{Amount: 4}})
		require.NoError(t, err)
		assert.Equal(t, account{ID: "a1", Owner: "alice", Balance: 6}, s)
	})

	t.Run("no events is the default", func(t *testing.T) {
		s, err := Replay[account](agg, "a1", nil)
		require.NoError(t, err)
		assert.Equal(t, agg.Default("a1"), s)
	})

	t.Run("failure keeps the last good state", func(t *testing.T) {
		start := account{ID: "a1", Balance: 5}
		s, err := Fold[account](agg, start, []Event{deposited{Amount: 1}, withdrawn{Amount: 100}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "apply event 1 (Withdrawn)")
		assert.Equal(t, int64(6), s.Balance)
		assert.Equal(t, int64(5), start.Balance)
	})
}
