// Package adaptertest provides a conformance suite for storage adapters.
// Every backend runs the same suite from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    adaptertest.Run(t, func(t *testing.T) adapters.EventStoreAdapter {
//	        return memory.NewAdapter()
//	    })
//	}
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory returns a fresh, initialized adapter. The suite closes it.
type Factory func(t *testing.T) adapters.EventStoreAdapter

// Records builds n contiguous records starting at from.
func Records(from uint64, n int, eventType string) []adapters.EventRecord {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]adapters.EventRecord, n)
	for i := range out {
		seq := from + uint64(i)
		out[i] = adapters.EventRecord{
			ID:            fmt.Sprintf("00000000-0000-4000-8000-%012d", seq),
			Sequence:      seq,
			Type:          eventType,
			Data:          []byte(fmt.Sprintf(`{"n":%d}`, seq)),
			Metadata:      map[string]string{"source": "adaptertest"},
			CausationID:   "cause-1",
			CorrelationID: "corr-1",
			UserID:        "alice",
			RecordedAt:    at.Add(time.Duration(seq) * time.Second),
		}
	}
	return out
}

// Run executes the storage contract conformance suite.
func Run(t *testing.T, newAdapter Factory) {
	t.Helper()

	open := func(t *testing.T) adapters.EventStoreAdapter {
		a := newAdapter(t)
		t.Cleanup(func() { _ = a.Close() })
		return a
	}

	t.Run("read of absent stream is empty", func(t *testing.T) {
		a := open(t)
		events, err := adapters.ReadAll(a.Read(context.Background(), "Account-missing", 0))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("append then read preserves order and fields", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()

		in := Records(0, 3, "Deposited")
		require.NoError(t, a.Append(ctx, "Account-1", 0, in))

		out, err := adapters.ReadAll(a.Read(ctx, "Account-1", 0))
		require.NoError(t, err)
		require.Len(t, out, 3)
		for i, e := range out {
			assert.Equal(t, "Account-1", e.StreamID)
			assert.Equal(t, uint64(i), e.Sequence)
			assert.Equal(t, in[i].ID, e.ID)
			assert.Equal(t, "Deposited", e.Type)
			assert.JSONEq(t, string(in[i].Data), string(e.Data))
			assert.Equal(t, in[i].Metadata, e.Metadata)
			assert.Equal(t, "cause-1", e.CausationID)
			assert.Equal(t, "corr-1", e.CorrelationID)
			assert.Equal(t, "alice", e.UserID)
			assert.True(t, in[i].RecordedAt.Equal(e.RecordedAt), "recorded at %v, want %v", e.RecordedAt, in[i].RecordedAt)
		}
	})

	t.Run("read envelopes do not alias the log", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 2, "Deposited")))

		for e, err := range a.Read(ctx, "Account-1", 0) {
			require.NoError(t, err)
			e.Metadata["source"] = "tampered"
			if len(e.Data) > 0 {
				e.Data[0] = 'X'
			}
		}
		page, _, err := adapters.ReadPage(ctx, a, "Account-1", 0, 2)
		require.NoError(t, err)
		for _, e := range page {
			e.Metadata["source"] = "tampered"
		}

		out, err := adapters.ReadAll(a.Read(ctx, "Account-1", 0))
		require.NoError(t, err)
		require.Len(t, out, 2)
		for i, e := range out {
			assert.Equal(t, "adaptertest", e.Metadata["source"])
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(e.Data))
		}
	})

	t.Run("read from sequence skips earlier envelopes", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 5, "Deposited")))

		out, err := adapters.ReadAll(a.Read(ctx, "Account-1", 3))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, uint64(3), out[0].Sequence)
		assert.Equal(t, uint64(4), out[1].Sequence)

		out, err = adapters.ReadAll(a.Read(ctx, "Account-1", 9))
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("read is restartable and sees later appends", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 2, "Deposited")))

		seq := a.Read(ctx, "Account-1", 0)
		first, err := adapters.ReadAll(seq)
		require.NoError(t, err)
		second, err := adapters.ReadAll(seq)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		require.NoError(t, a.Append(ctx, "Account-1", 2, Records(2, 1, "Withdrawn")))
		third, err := adapters.ReadAll(seq)
		require.NoError(t, err)
		assert.Len(t, third, 3)
	})

	t.Run("breaking out of a read releases the stream", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 3, "Deposited")))

		for e, err := range a.Read(ctx, "Account-1", 0) {
			require.NoError(t, err)
			assert.Equal(t, uint64(0), e.Sequence)
			break
		}

		require.NoError(t, a.Append(ctx, "Account-1", 3, Records(3, 1, "Deposited")))
	})

	t.Run("append with stale version conflicts", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 2, "Deposited")))

		err := a.Append(ctx, "Account-1", 1, Records(1, 1, "Withdrawn"))
		require.Error(t, err)
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		err = a.Append(ctx, "Account-1", 0, Records(0, 1, "Opened"))
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
	})

	t.Run("failed append leaves no partial envelopes", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 1, "Opened")))

		err := a.Append(ctx, "Account-1", 0, Records(0, 3, "Deposited"))
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		err = a.Append(ctx, "Account-1", 1, append(Records(1, 1, "Deposited"), Records(5, 1, "Deposited")...))
		require.ErrorIs(t, err, adapters.ErrInvalidSequence)

		out, err := adapters.ReadAll(a.Read(ctx, "Account-1", 0))
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("argument validation", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		assert.ErrorIs(t, a.Append(ctx, "", 0, Records(0, 1, "Opened")), adapters.ErrEmptyStreamID)
		assert.ErrorIs(t, a.Append(ctx, "Account-1", 0, nil), adapters.ErrNoEvents)
	})

	t.Run("streams are independent", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 2, "Deposited")))
		require.NoError(t, a.Append(ctx, "Account-2", 0, Records(0, 1, "Deposited")))

		one, err := adapters.ReadAll(a.Read(ctx, "Account-1", 0))
		require.NoError(t, err)
		two, err := adapters.ReadAll(a.Read(ctx, "Account-2", 0))
		require.NoError(t, err)
		assert.Len(t, one, 2)
		assert.Len(t, two, 1)
	})

	t.Run("concurrent appends at the same version have one winner", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 1, "Opened")))

		const writers = 8
		var wins, conflicts atomic.Int32
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				err := a.Append(ctx, "Account-1", 1, Records(1, 2, "Deposited"))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, adapters.ErrConcurrencyConflict):
					conflicts.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())

		out, err := adapters.ReadAll(a.Read(ctx, "Account-1", 0))
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})

	t.Run("concurrent creates have one winner", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()

		const writers = 8
		var wins atomic.Int32
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				err := a.Append(ctx, "Account-new", 0, Records(0, 1, "Opened"))
				if err == nil {
					wins.Add(1)
					return nil
				}
				if errors.Is(err, adapters.ErrConcurrencyConflict) {
					return nil
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("cancelled context reports storage unavailable", func(t *testing.T) {
		a := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := a.Append(ctx, "Account-1", 0, Records(0, 1, "Opened"))
		require.Error(t, err)
		assert.ErrorIs(t, err, adapters.ErrStorageUnavailable)
		assert.NotErrorIs(t, err, adapters.ErrConcurrencyConflict)

		_, err = adapters.ReadAll(a.Read(ctx, "Account-1", 0))
		assert.ErrorIs(t, err, adapters.ErrStorageUnavailable)
	})

	t.Run("stream info", func(t *testing.T) {
		a := open(t)
		p, ok := a.(adapters.StreamInfoProvider)
		if !ok {
			t.Skip("adapter does not provide stream info")
		}
		ctx := context.Background()

		_, err := p.GetStreamInfo(ctx, "Account-1")
		assert.ErrorIs(t, err, adapters.ErrStreamNotFound)

		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 4, "Deposited")))
		info, err := p.GetStreamInfo(ctx, "Account-1")
		require.NoError(t, err)
		assert.Equal(t, "Account-1", info.StreamID)
		assert.Equal(t, "Account", info.Category)
		assert.Equal(t, uint64(4), info.Version)
	})

	t.Run("paged read", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		require.NoError(t, a.Append(ctx, "Account-1", 0, Records(0, 5, "Deposited")))

		page, total, err := adapters.ReadPage(ctx, a, "Account-1", 1, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), total)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(1), page[0].Sequence)
		assert.Equal(t, uint64(2), page[1].Sequence)

		page, total, err = adapters.ReadPage(ctx, a, "Account-missing", 0, 2)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, page)
	})

	t.Run("snapshots", func(t *testing.T) {
		a := open(t)
		s, ok := a.(adapters.SnapshotAdapter)
		if !ok {
			t.Skip("adapter does not store snapshots")
		}
		ctx := context.Background()

		snap, err := s.LoadSnapshot(ctx, "Account-1")
		require.NoError(t, err)
		assert.Nil(t, snap)

		require.NoError(t, s.SaveSnapshot(ctx, "Account-1", 2, []byte(`{"balance":1}`)))
		require.NoError(t, s.SaveSnapshot(ctx, "Account-1", 4, []byte(`{"balance":2}`)))

		snap, err = s.LoadSnapshot(ctx, "Account-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, uint64(4), snap.Version)
		assert.JSONEq(t, `{"balance":2}`, string(snap.Data))

		require.NoError(t, s.DeleteSnapshot(ctx, "Account-1"))
		snap, err = s.LoadSnapshot(ctx, "Account-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("health check", func(t *testing.T) {
		a := open(t)
		h, ok := a.(adapters.HealthChecker)
		if !ok {
			t.Skip("adapter has no health check")
		}
		assert.NoError(t, h.Ping(context.Background()))
	})

	t.Run("closed adapter is unavailable", func(t *testing.T) {
		a := newAdapter(t)
		require.NoError(t, a.Close())

		err := a.Append(context.Background(), "Account-1", 0, Records(0, 1, "Opened"))
		assert.ErrorIs(t, err, adapters.ErrStorageUnavailable)

		_, err = adapters.ReadAll(a.Read(context.Background(), "Account-1", 0))
		assert.ErrorIs(t, err, adapters.ErrStorageUnavailable)
	})
}
