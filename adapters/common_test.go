package adapters

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCategory(t *testing.T) {
	tests := []struct {
		name     string
		streamID string
		expected string
	}{
		{"standard format", "Account-123", "Account"},
		{"uuid identifier keeps the first part", "Account-3f6c-4b1e", "Account"},
		{"no hyphen returns entire ID", "SingleWord", "SingleWord"},
		{"empty string returns empty", "", ""},
		{"starts with hyphen returns empty", "-Leading", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractCategory(tt.streamID))
		})
	}
}

func TestCheckVersion(t *testing.T) {
	t.Run("matching version passes", func(t *testing.T) {
		assert.NoError(t, CheckVersion("Account-1", 3, 3))
	})

	t.Run("mismatch returns concurrency error", func(t *testing.T) {
		err := CheckVersion("Account-1", 1, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		var ce *ConcurrencyError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "Account-1", ce.StreamID)
		assert.Equal(t, uint64(1), ce.ExpectedVersion)
		assert.Equal(t, uint64(2), ce.ActualVersion)
		assert.Contains(t, err.Error(), `"Account-1"`)
	})
}

func TestValidateAppend(t *testing.T) {
	records := func(seqs ...uint64) []EventRecord {
		out := make([]EventRecord, len(seqs))
		for i, s := range seqs {
			out[i] = EventRecord{Sequence: s, Type: "Deposited"}
		}
		return out
	}

	tests := []struct {
		name     string
		streamID string
		expected uint64
		records  []EventRecord
		wantErr  error
	}{
		{"contiguous from zero", "Account-1", 0, records(0, 1, 2), nil},
		{"contiguous from version", "Account-1", 5, records(5, 6), nil},
		{"empty stream id", "", 0, records(0), ErrEmptyStreamID},
		{"no records", "Account-1", 0, nil, ErrNoEvents},
		{"gap", "Account-1", 0, records(0, 2), ErrInvalidSequence},
		{"wrong start", "Account-1", 2, records(3), ErrInvalidSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAppend(tt.streamID, tt.expected, tt.records)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestContextError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, ContextError(nil))
	})

	t.Run("deadline becomes storage unavailable", func(t *testing.T) {
		err := ContextError(fmt.Errorf("query: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("cancellation becomes storage unavailable", func(t *testing.T) {
		assert.ErrorIs(t, ContextError(context.Canceled), ErrStorageUnavailable)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Same(t, boom, ContextError(boom))
	})
}

type sliceAdapter struct {
	EventStoreAdapter
	events []StoredEvent
}

func (s *sliceAdapter) Read(_ context.Context, _ string, from uint64) iter.Seq2[StoredEvent, error] {
	return func(yield func(StoredEvent, error) bool) {
		for _, e := range s.events {
			if e.Sequence < from {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func TestReadPage(t *testing.T) {
	a := &sliceAdapter{}
	for i := uint64(0); i < 5; i++ {
		a.events = append(a.events, StoredEvent{StreamID: "Account-1", Sequence: i})
	}

	t.Run("middle page", func(t *testing.T) {
		page, total, err := ReadPage(context.Background(), a, "Account-1", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), total)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(2), page[0].Sequence)
		assert.Equal(t, uint64(3), page[1].Sequence)
	})

	t.Run("offset past the end", func(t *testing.T) {
		page, total, err := ReadPage(context.Background(), a, "Account-1", 10, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), total)
		assert.Empty(t, page)
	})
}

func TestStreamInfoOf(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("derived from a read", func(t *testing.T) {
		a := &sliceAdapter{}
		for i := uint64(0); i < 3; i++ {
			a.events = append(a.events, StoredEvent{
				StreamID:   "Account-1",
				Sequence:   i,
				RecordedAt: t0.Add(time.Duration(i) * time.Minute),
			})
		}

		info, err := StreamInfoOf(context.Background(), a, "Account-1")
		require.NoError(t, err)
		assert.Equal(t, "Account", info.Category)
		assert.Equal(t, uint64(3), info.Version)
		assert.Equal(t, t0, info.CreatedAt)
		assert.Equal(t, t0.Add(2*time.Minute), info.UpdatedAt)
	})

	t.Run("empty stream", func(t *testing.T) {
		_, err := StreamInfoOf(context.Background(), &sliceAdapter{}, "Account-1")
		assert.ErrorIs(t, err, ErrStreamNotFound)
	})
}

func TestReadAllAndReadFailed(t *testing.T) {
	boom := errors.New("boom")
	events, err := ReadAll(ReadFailed(boom))
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, events)
}

func TestCopyMetadata(t *testing.T) {
	assert.Nil(t, CopyMetadata(nil))

	src := map[string]string{"tenant": "acme"}
	cp := CopyMetadata(src)
	cp["tenant"] = "other"
	assert.Equal(t, "acme", src["tenant"])
}
