package testutil

import (
	"context"
	"iter"
	"sync"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
)

// MockAdapter wraps an in-memory adapter with failure injection and call
// counting. Fields may be changed between calls; they are read under a lock.
type MockAdapter struct {
	*memory.MemoryAdapter

	mu sync.Mutex

	// AppendErr fails every Append before it reaches storage.
	AppendErr error

	// ReadErr fails every Read before it yields anything.
	ReadErr error

	// ReadErrAfter, when ReadErr is set, yields that many envelopes first.
	ReadErrAfter int

	// BeforeAppend runs before each Append reaches storage.
	BeforeAppend func(ctx context.Context, streamID string, expectedVersion uint64)

	// Streams replaces the stored envelopes of a stream on Read.
	Streams map[string][]adapters.StoredEvent

	AppendCalls int
	ReadCalls   int
}

var (
	_ adapters.EventStoreAdapter = (*MockAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*MockAdapter)(nil)
)

// NewMockAdapter creates a MockAdapter over a fresh memory adapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{MemoryAdapter: memory.NewAdapter()}
}

// Append implements adapters.EventStoreAdapter.
func (m *MockAdapter) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
	m.mu.Lock()
	m.AppendCalls++
	err := m.AppendErr
	hook := m.BeforeAppend
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, streamID, expectedVersion)
	}
	if err != nil {
		return err
	}
	return m.MemoryAdapter.Append(ctx, streamID, expectedVersion, records)
}

// Read implements adapters.EventStoreAdapter.
func (m *MockAdapter) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		m.mu.Lock()
		m.ReadCalls++
		err, after := m.ReadErr, m.ReadErrAfter
		override, overridden := m.Streams[streamID]
		m.mu.Unlock()

		source := m.MemoryAdapter.Read(ctx, streamID, fromSequence)
		if overridden {
			source = func(yield func(adapters.StoredEvent, error) bool) {
				for _, e := range override {
					if e.Sequence < fromSequence {
						continue
					}
					if !yield(e, nil) {
						return
					}
				}
			}
		}

		n := 0
		for e, rerr := range source {
			if err != nil && n >= after {
				break
			}
			if !yield(e, rerr) || rerr != nil {
				return
			}
			n++
		}
		if err != nil {
			yield(adapters.StoredEvent{}, err)
		}
	}
}

// SetAppendErr sets AppendErr under the lock.
func (m *MockAdapter) SetAppendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendErr = err
}

// Calls returns the number of Append and Read calls so far.
func (m *MockAdapter) Calls() (appends, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendCalls, m.ReadCalls
}
