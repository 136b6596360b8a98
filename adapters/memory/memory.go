// Package memory provides an in-memory implementation of the event store adapter.
// This adapter is primarily intended for testing and development purposes.
package memory

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/google/uuid"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventStoreAdapter  = (*MemoryAdapter)(nil)
	_ adapters.StreamInfoProvider = (*MemoryAdapter)(nil)
	_ adapters.PagedReader        = (*MemoryAdapter)(nil)
	_ adapters.SnapshotAdapter    = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker      = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of EventStoreAdapter.
// It is thread-safe and suitable for unit testing.
type MemoryAdapter struct {
	mu        sync.RWMutex
	streams   map[string]*streamData
	snapshots map[string]*adapters.SnapshotRecord
	closed    bool
	now       func() time.Time
}

type streamData struct {
	info   adapters.StreamInfo
	events []adapters.StoredEvent
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the clock used for stream info timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.now = now
	}
}

// NewAdapter creates a new in-memory event store adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:   make(map[string]*streamData),
		snapshots: make(map[string]*adapters.SnapshotRecord),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores records with optimistic concurrency control.
// The whole batch is visible to readers at once or not at all.
func (a *MemoryAdapter) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return adapters.ContextError(err)
	}

	if err := adapters.ValidateAppend(streamID, expectedVersion, records); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	stream, exists := a.streams[streamID]
	current := uint64(0)
	if exists {
		current = stream.info.Version
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, current); err != nil {
		return err
	}

	now := a.now()
	if !exists {
		stream = &streamData{
			info: adapters.StreamInfo{
				StreamID:  streamID,
				Category:  adapters.ExtractCategory(streamID),
				CreatedAt: now,
			},
		}
		a.streams[streamID] = stream
	}

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		stream.events = append(stream.events, adapters.StoredEvent{
			ID:            id,
			StreamID:      streamID,
			Sequence:      r.Sequence,
			Type:          r.Type,
			Data:          append([]byte(nil), r.Data...),
			Metadata:      adapters.CopyMetadata(r.Metadata),
			CausationID:   r.CausationID,
			CorrelationID: r.CorrelationID,
			UserID:        r.UserID,
			RecordedAt:    r.RecordedAt,
		})
	}
	stream.info.Version = current + uint64(len(records))
	stream.info.UpdatedAt = now

	return nil
}

// Read returns the envelopes of a stream starting at fromSequence.
// Each range takes a consistent copy of the stream under the read lock.
func (a *MemoryAdapter) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(adapters.StoredEvent{}, adapters.ContextError(err))
			return
		}

		a.mu.RLock()
		if a.closed {
			a.mu.RUnlock()
			yield(adapters.StoredEvent{}, adapters.ErrAdapterClosed)
			return
		}
		var events []adapters.StoredEvent
		if stream, ok := a.streams[streamID]; ok && fromSequence < uint64(len(stream.events)) {
			events = make([]adapters.StoredEvent, 0, uint64(len(stream.events))-fromSequence)
			for _, e := range stream.events[fromSequence:] {
				events = append(events, cloneEvent(e))
			}
		}
		a.mu.RUnlock()

		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ReadPage returns one page of a stream and the stream's total length.
func (a *MemoryAdapter) ReadPage(ctx context.Context, streamID string, offset, limit int) ([]adapters.StoredEvent, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, adapters.ContextError(err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, 0, adapters.ErrAdapterClosed
	}

	stream, ok := a.streams[streamID]
	if !ok {
		return nil, 0, nil
	}

	total := len(stream.events)
	if offset >= total {
		return nil, uint64(total), nil
	}
	end := offset + adapters.DefaultLimit(limit, 100)
	if end > total {
		end = total
	}
	page := make([]adapters.StoredEvent, 0, end-offset)
	for _, e := range stream.events[offset:end] {
		page = append(page, cloneEvent(e))
	}
	return page, uint64(total), nil
}

// cloneEvent copies the mutable parts of a stored envelope so readers cannot
// change the log through what they were handed.
func cloneEvent(e adapters.StoredEvent) adapters.StoredEvent {
	e.Data = append([]byte(nil), e.Data...)
	e.Metadata = adapters.CopyMetadata(e.Metadata)
	return e
}

// GetStreamInfo returns metadata about a stream.
func (a *MemoryAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, adapters.ContextError(err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream, ok := a.streams[streamID]
	if !ok {
		return nil, adapters.ErrStreamNotFound
	}

	info := stream.info
	return &info, nil
}

// Close marks the adapter as closed.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// SaveSnapshot stores a snapshot for the given stream.
func (a *MemoryAdapter) SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return adapters.ContextError(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	a.snapshots[streamID] = &adapters.SnapshotRecord{
		StreamID: streamID,
		Version:  version,
		Data:     append([]byte(nil), data...),
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot for the given stream.
func (a *MemoryAdapter) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, adapters.ContextError(err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	snap, ok := a.snapshots[streamID]
	if !ok {
		return nil, nil
	}

	cp := *snap
	cp.Data = append([]byte(nil), snap.Data...)
	return &cp, nil
}

// DeleteSnapshot removes the snapshot for the given stream.
func (a *MemoryAdapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return adapters.ContextError(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.snapshots, streamID)
	return nil
}

// Ping reports whether the adapter is usable.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return adapters.ContextError(err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Reset clears all streams and snapshots.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams = make(map[string]*streamData)
	a.snapshots = make(map[string]*adapters.SnapshotRecord)
}

// EventCount returns the number of envelopes across all streams.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, s := range a.streams {
		n += len(s.events)
	}
	return n
}

// StreamCount returns the number of streams.
func (a *MemoryAdapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}
